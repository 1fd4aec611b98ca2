package mqtt

import (
	"encoding/json"
	"fmt"

	"github.com/YSLin901019/ntu-iot/internal/config"
)

// Sensor devices accept plain-text commands on the shared command topic.
// Device-wide commands apply on every listening device; shelf commands are
// ignored by devices that do not own the named shelf.

// EnableShelf turns sampling on for one shelf.
func (c *Client) EnableShelf(shelfID string) error {
	return c.SendCommand(fmt.Sprintf("enable %s", shelfID))
}

// DisableShelf turns sampling off for one shelf.
func (c *Client) DisableShelf(shelfID string) error {
	return c.SendCommand(fmt.Sprintf("disable %s", shelfID))
}

// RequestStatus asks every device to republish its status message.
func (c *Client) RequestStatus() error {
	return c.SendCommand("status")
}

// RequestAllData asks every device for an immediate reading on all shelves.
func (c *Client) RequestAllData() error {
	return c.SendCommand("data")
}

// RequestShelfData asks the owning device for an immediate reading on one
// shelf.
func (c *Client) RequestShelfData(shelfID string) error {
	return c.SendCommand(fmt.Sprintf("shelf %s", shelfID))
}

// Calibrate asks the owning device to measure the empty-shelf distance for
// shelfID. The result arrives asynchronously on the calibrate response
// topic and is persisted by the ingest handler.
func (c *Client) Calibrate(shelfID string) error {
	return c.SendCommand(fmt.Sprintf("calibrate %s", shelfID))
}

// SendCommand publishes a raw command string.
func (c *Client) SendCommand(cmd string) error {
	return c.publish(config.TopicCommand, []byte(cmd))
}

// RequestShelfConfig asks one device (or all devices when deviceID is
// empty) to report its shelf wiring. Reports come back on the config
// response topic and are persisted by the ingest handler.
func (c *Client) RequestShelfConfig(deviceID string) error {
	payload, err := json.Marshal(map[string]string{"device_id": deviceID})
	if err != nil {
		return fmt.Errorf("marshal config request: %w", err)
	}
	return c.publish(config.TopicConfigRequest, payload)
}
