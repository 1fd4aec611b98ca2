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

	"github.com/YSLin901019/ntu-iot/internal/config"
)

// heartbeatResponse is a device's reply to a heartbeat ping.
type heartbeatResponse struct {
	DeviceID string `json:"device_id"`
	UptimeMS int64  `json:"uptime_ms"`
}

// heartbeatState tracks which devices have answered the ping currently in
// flight.
type heartbeatState struct {
	mu    sync.Mutex
	alive map[string]bool
}

func newHeartbeatState() *heartbeatState {
	return &heartbeatState{}
}

func (h *heartbeatState) begin() {
	h.mu.Lock()
	h.alive = make(map[string]bool)
	h.mu.Unlock()
}

func (h *heartbeatState) end() map[string]bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	alive := h.alive
	h.alive = nil
	return alive
}

func (h *heartbeatState) seen(deviceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive != nil && h.alive[deviceID]
}

func (h *heartbeatState) onResponse(_ paho.Client, msg paho.Message) {
	var resp heartbeatResponse
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
		log.Printf("mqtt: bad heartbeat response: %v", err)
		return
	}
	if resp.DeviceID == "" {
		return
	}
	h.mu.Lock()
	if h.alive != nil {
		h.alive[resp.DeviceID] = true
	}
	h.mu.Unlock()
}

// CheckHeartbeat pings one device and reports whether it answered within
// the window. It returns early as soon as the answer arrives.
func (c *Client) CheckHeartbeat(ctx context.Context, deviceID string, window time.Duration) (bool, error) {
	if deviceID == "" {
		return false, fmt.Errorf("device id required")
	}
	payload, err := json.Marshal(map[string]string{"device_id": deviceID})
	if err != nil {
		return false, fmt.Errorf("marshal heartbeat request: %w", err)
	}

	c.heartbeats.begin()
	defer c.heartbeats.end()
	if err := c.publish(config.TopicHeartbeat, payload); err != nil {
		return false, err
	}

	deadline := time.After(window)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			return false, nil
		case <-tick.C:
			if c.heartbeats.seen(deviceID) {
				return true, nil
			}
		}
	}
}

// PingAll broadcasts a heartbeat and returns the IDs of every device that
// answered within the window, whether or not it is registered.
func (c *Client) PingAll(ctx context.Context, window time.Duration) ([]string, error) {
	payload, err := json.Marshal(map[string]string{"device_id": ""})
	if err != nil {
		return nil, fmt.Errorf("marshal heartbeat request: %w", err)
	}

	c.heartbeats.begin()
	if err := c.publish(config.TopicHeartbeat, payload); err != nil {
		c.heartbeats.end()
		return nil, err
	}

	select {
	case <-ctx.Done():
		c.heartbeats.end()
		return nil, ctx.Err()
	case <-time.After(window):
	}

	alive := c.heartbeats.end()
	ids := make([]string, 0, len(alive))
	for id := range alive {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CheckAllHeartbeats pings every device in deviceIDs at once and reports
// which answered within the window. Devices absent from the result map did
// not answer.
func (c *Client) CheckAllHeartbeats(ctx context.Context, deviceIDs []string, window time.Duration) (map[string]bool, error) {
	responders, err := c.PingAll(ctx, window)
	if err != nil {
		return nil, err
	}
	alive := make(map[string]bool, len(responders))
	for _, id := range responders {
		alive[id] = true
	}
	results := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		results[id] = alive[id]
	}
	return results, nil
}
