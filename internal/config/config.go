// Package config loads the deployment configuration for the shelf monitor.
// All fields are optional in the JSON file; the Get* methods supply the
// compiled-in defaults, so a partial config is safe and an absent config
// file yields a fully working localhost deployment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Defaults used when a field is not present in the config file.
const (
	DefaultBroker            = "tcp://localhost:1883"
	DefaultClientID          = "shelf-monitor"
	DefaultDBPath            = "shelf_data.db"
	DefaultListenAddr        = ":8080"
	DefaultOccupiedThreshold = 2.0
	DefaultDiscoveryTimeout  = 3 * time.Second
	DefaultHeartbeatTimeout  = 3 * time.Second
)

// MQTT topics shared with the shelf controllers.
const (
	TopicSensor            = "shelf/sensor"
	TopicStatus            = "shelf/status"
	TopicCommand           = "shelf/command"
	TopicCalibrateResponse = "shelf/calibrate/response"
	TopicConfigRequest     = "shelf/config/request"
	TopicConfigResponse    = "shelf/config/response"
	TopicDiscovery         = "shelf/discovery"
	TopicDiscoveryResponse = "shelf/discovery/response"
	TopicHeartbeat         = "shelf/heartbeat"
	TopicHeartbeatResponse = "shelf/heartbeat/response"
)

// defaultGeometry maps shelf IDs to their empty-shelf sensing depth in
// centimeters. It backs shelves that send readings before an operator has
// configured them.
var defaultGeometry = map[string]float64{
	"A1": 30.0,
	"A2": 30.0,
	"B1": 20.0,
}

// Config holds the deployment configuration. Pointer fields distinguish
// "not set" from a deliberate zero so partial configs compose with the
// defaults.
type Config struct {
	Broker            *string  `json:"broker,omitempty"`
	ClientID          *string  `json:"client_id,omitempty"`
	DBPath            *string  `json:"db_path,omitempty"`
	ListenAddr        *string  `json:"listen_addr,omitempty"`
	OccupiedThreshold *float64 `json:"occupied_threshold,omitempty"`

	// Fallback geometry for shelves with no persisted record, keyed by
	// shelf ID, values in centimeters.
	DefaultGeometry map[string]float64 `json:"default_geometry,omitempty"`

	// Timeouts as duration strings like "3s".
	DiscoveryTimeout *string `json:"discovery_timeout,omitempty"`
	HeartbeatTimeout *string `json:"heartbeat_timeout,omitempty"`
}

// Default returns a Config with no fields set; every getter falls through
// to the compiled-in defaults.
func Default() *Config {
	return &Config{}
}

// Load reads and validates a JSON config file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that have constraints beyond their types.
func (c *Config) Validate() error {
	if c.OccupiedThreshold != nil && *c.OccupiedThreshold < 0 {
		return fmt.Errorf("occupied_threshold must be non-negative, got %v", *c.OccupiedThreshold)
	}
	for shelfID, depth := range c.DefaultGeometry {
		if depth <= 0 {
			return fmt.Errorf("default_geometry[%s] must be positive, got %v", shelfID, depth)
		}
	}
	if c.DiscoveryTimeout != nil {
		if _, err := time.ParseDuration(*c.DiscoveryTimeout); err != nil {
			return fmt.Errorf("invalid discovery_timeout: %w", err)
		}
	}
	if c.HeartbeatTimeout != nil {
		if _, err := time.ParseDuration(*c.HeartbeatTimeout); err != nil {
			return fmt.Errorf("invalid heartbeat_timeout: %w", err)
		}
	}
	return nil
}

func (c *Config) GetBroker() string {
	if c.Broker != nil {
		return *c.Broker
	}
	return DefaultBroker
}

func (c *Config) GetClientID() string {
	if c.ClientID != nil {
		return *c.ClientID
	}
	return DefaultClientID
}

func (c *Config) GetDBPath() string {
	if c.DBPath != nil {
		return *c.DBPath
	}
	return DefaultDBPath
}

func (c *Config) GetListenAddr() string {
	if c.ListenAddr != nil {
		return *c.ListenAddr
	}
	return DefaultListenAddr
}

func (c *Config) GetOccupiedThreshold() float64 {
	if c.OccupiedThreshold != nil {
		return *c.OccupiedThreshold
	}
	return DefaultOccupiedThreshold
}

// GetDefaultGeometry returns a copy of the fallback geometry table so
// callers cannot mutate shared state.
func (c *Config) GetDefaultGeometry() map[string]float64 {
	src := c.DefaultGeometry
	if src == nil {
		src = defaultGeometry
	}
	out := make(map[string]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func (c *Config) GetDiscoveryTimeout() time.Duration {
	if c.DiscoveryTimeout != nil {
		d, err := time.ParseDuration(*c.DiscoveryTimeout)
		if err == nil {
			return d
		}
	}
	return DefaultDiscoveryTimeout
}

func (c *Config) GetHeartbeatTimeout() time.Duration {
	if c.HeartbeatTimeout != nil {
		d, err := time.ParseDuration(*c.HeartbeatTimeout)
		if err == nil {
			return d
		}
	}
	return DefaultHeartbeatTimeout
}
