// Package mqtt connects the monitor to the broker the shelf sensors
// publish on. It feeds inbound telemetry to the ingest handler and
// carries commands, discovery, and heartbeat round-trips back out.
package mqtt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/YSLin901019/ntu-iot/internal/config"
	"github.com/YSLin901019/ntu-iot/internal/ingest"
)

// Client wraps a paho MQTT client with the monitor's topic wiring.
// Subscriptions are re-established inside OnConnect so an auto-reconnect
// picks them up again without caller involvement.
type Client struct {
	broker   string
	clientID string
	handler  *ingest.Handler

	client paho.Client

	mu        sync.RWMutex
	connected bool
	published uint64
	received  map[string]uint64

	discovery  *discoveryState
	heartbeats *heartbeatState
}

// NewClient builds a client from the runtime configuration. handler may be
// nil for command-only callers that never consume telemetry.
func NewClient(cfg *config.Config, handler *ingest.Handler) *Client {
	return &Client{
		broker: cfg.GetBroker(),
		// Suffix the configured ID so a CLI invocation running next to
		// the daemon does not steal its broker session.
		clientID:   fmt.Sprintf("%s-%s", cfg.GetClientID(), uuid.NewString()[:8]),
		handler:    handler,
		received:   make(map[string]uint64),
		discovery:  newDiscoveryState(),
		heartbeats: newHeartbeatState(),
	}
}

// Connect dials the broker and installs all subscriptions. It blocks until
// the first connection succeeds or the timeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(c.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(pc paho.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		log.Printf("mqtt: connected to %s as %s", c.broker, c.clientID)
		c.subscribeAll(pc)
	}

	opts.OnConnectionLost = func(pc paho.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		log.Printf("mqtt: connection lost (%v), auto-reconnect pending", err)
	}

	c.client = paho.NewClient(opts)

	token := c.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connect to %s timed out", c.broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", c.broker, err)
	}
	return nil
}

// Disconnect tears the connection down with a short grace period.
func (c *Client) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(250)
		log.Printf("mqtt: disconnected from %s", c.broker)
	}
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

// IsConnected reports whether the broker session is currently up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// subscribeAll installs every subscription the monitor needs. Telemetry
// topics are only wired when an ingest handler is present.
func (c *Client) subscribeAll(pc paho.Client) {
	if c.handler != nil {
		c.subscribe(pc, config.TopicSensor, c.telemetry(c.handler.HandleSensorReading))
		c.subscribe(pc, config.TopicStatus, c.telemetry(c.handler.HandleStatus))
		c.subscribe(pc, config.TopicCalibrateResponse, c.telemetry(c.handler.HandleCalibrateResponse))
		c.subscribe(pc, config.TopicConfigResponse, c.telemetry(c.handler.HandleConfigResponse))
	}
	c.subscribe(pc, config.TopicDiscoveryResponse, c.discovery.onResponse)
	c.subscribe(pc, config.TopicHeartbeatResponse, c.heartbeats.onResponse)
}

func (c *Client) subscribe(pc paho.Client, topic string, fn paho.MessageHandler) {
	token := pc.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
		c.mu.Lock()
		c.received[msg.Topic()]++
		c.mu.Unlock()
		fn(nil, msg)
	})
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("mqtt: subscribe %s timed out", topic)
		return
	}
	if err := token.Error(); err != nil {
		log.Printf("mqtt: subscribe %s failed: %v", topic, err)
	}
}

// telemetry adapts an ingest method to a paho message handler. Handler
// errors are logged and dropped so one bad payload never tears down the
// subscription.
func (c *Client) telemetry(fn func([]byte) error) paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if err := fn(msg.Payload()); err != nil {
			log.Printf("mqtt: %s: %v", msg.Topic(), err)
		}
	}
}

// publish sends one message at QoS 0 and waits for broker acknowledgement.
func (c *Client) publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}
	token := c.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	c.mu.Lock()
	c.published++
	c.mu.Unlock()
	return nil
}

// Stats reports traffic counters for the console's stats endpoint.
type Stats struct {
	Connected bool              `json:"connected"`
	Broker    string            `json:"broker"`
	Published uint64            `json:"published"`
	Received  map[string]uint64 `json:"received"`
}

// Stats returns a snapshot of connection state and message counters.
func (c *Client) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	received := make(map[string]uint64, len(c.received))
	for k, v := range c.received {
		received[k] = v
	}
	return Stats{
		Connected: c.connected,
		Broker:    c.broker,
		Published: c.published,
		Received:  received,
	}
}
