package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/YSLin901019/ntu-iot/internal/config"
)

// DiscoveredDevice is one device's answer to a discovery broadcast.
type DiscoveredDevice struct {
	// RequestID echoes the broadcast the device is answering. Older
	// firmware omits it; responses carrying a different broadcast's ID
	// are dropped.
	RequestID  string   `json:"request_id,omitempty"`
	DeviceID   string   `json:"device_id"`
	DeviceName string   `json:"device_name"`
	IP         string   `json:"ip,omitempty"`
	Shelves    []string `json:"shelves"`
	ShelfCount int      `json:"shelf_count"`
	WiFiSignal int      `json:"wifi_signal"`
	UptimeMS   int64    `json:"uptime_ms"`
}

// discoveryState collects responses for the broadcast currently in flight.
// Responses arriving outside a collection window are dropped.
type discoveryState struct {
	mu        sync.Mutex
	requestID string
	found     map[string]DiscoveredDevice
}

func newDiscoveryState() *discoveryState {
	return &discoveryState{}
}

func (d *discoveryState) begin(requestID string) {
	d.mu.Lock()
	d.requestID = requestID
	d.found = make(map[string]DiscoveredDevice)
	d.mu.Unlock()
}

func (d *discoveryState) end() []DiscoveredDevice {
	d.mu.Lock()
	defer d.mu.Unlock()
	devices := make([]DiscoveredDevice, 0, len(d.found))
	for _, dev := range d.found {
		devices = append(devices, dev)
	}
	d.requestID = ""
	d.found = nil
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})
	return devices
}

func (d *discoveryState) onResponse(_ paho.Client, msg paho.Message) {
	var dev DiscoveredDevice
	if err := json.Unmarshal(msg.Payload(), &dev); err != nil {
		log.Printf("mqtt: bad discovery response: %v", err)
		return
	}
	if dev.DeviceID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.found == nil {
		return
	}
	if dev.RequestID != "" && dev.RequestID != d.requestID {
		return
	}
	dev.RequestID = ""
	d.found[dev.DeviceID] = dev
}

// Discover broadcasts a discovery request and collects every response that
// arrives within the window. The whole window is always waited out so slow
// devices are not missed.
func (c *Client) Discover(ctx context.Context, window time.Duration) ([]DiscoveredDevice, error) {
	requestID := uuid.NewString()
	payload, err := json.Marshal(map[string]string{"request_id": requestID})
	if err != nil {
		return nil, fmt.Errorf("marshal discovery request: %w", err)
	}

	c.discovery.begin(requestID)
	if err := c.publish(config.TopicDiscovery, payload); err != nil {
		c.discovery.end()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.discovery.end()
		return nil, ctx.Err()
	case <-time.After(window):
	}
	return c.discovery.end(), nil
}
