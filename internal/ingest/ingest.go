// Package ingest turns raw device messages into analyzed, persisted state.
// It owns the payload formats shared with the shelf controllers and the
// dispatch from message to store update; the transport that delivers the
// messages lives elsewhere.
package ingest

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/YSLin901019/ntu-iot/internal/analyzer"
	"github.com/YSLin901019/ntu-iot/internal/db"
	"github.com/YSLin901019/ntu-iot/internal/shelf"
)

// SensorMessage is one raw reading published by a device.
type SensorMessage struct {
	DeviceID   string  `json:"device_id"`
	ShelfID    string  `json:"shelf_id"`
	DistanceCM float64 `json:"distance_cm"`
}

// StatusMessage is a periodic device self-report.
type StatusMessage struct {
	DeviceID   string `json:"device_id"`
	WiFi       string `json:"wifi"`
	MQTT       string `json:"mqtt"`
	UptimeMS   int64  `json:"uptime_ms"`
	ShelfCount int    `json:"shelf_count"`
}

// CalibrateResponse reports the outcome of a calibration run: the device
// measured its empty-shelf depth and sends it back for persistence.
type CalibrateResponse struct {
	DeviceID    string  `json:"device_id"`
	ShelfID     string  `json:"shelf_id"`
	Success     bool    `json:"success"`
	ShelfLength float64 `json:"shelf_length"`
}

// ShelfConfigReport is one shelf's runtime state inside a ConfigResponse.
type ShelfConfigReport struct {
	ShelfID         string  `json:"shelf_id"`
	Enabled         bool    `json:"enabled"`
	SensorConnected bool    `json:"sensor_connected"`
	ShelfLength     float64 `json:"shelf_length"`
	GPIO            int     `json:"gpio"`
}

// ConfigResponse is a device's full shelf configuration report.
type ConfigResponse struct {
	DeviceID string              `json:"device_id"`
	Shelves  []ShelfConfigReport `json:"shelves"`
}

// Handler processes device messages against the store.
type Handler struct {
	db        *db.DB
	resolver  shelf.Resolver
	threshold float64
}

// NewHandler builds a Handler. threshold is the occupied-detection
// threshold in centimeters used for shelves without a bound product.
func NewHandler(database *db.DB, resolver shelf.Resolver, threshold float64) *Handler {
	return &Handler{db: database, resolver: resolver, threshold: threshold}
}

// HandleSensorReading parses, validates, analyzes, and persists one sensor
// payload. Invalid distances (sensor faults) are logged and dropped
// without touching the store; analysis failures degrade to an empty
// result rather than an error, so ingestion never stalls on a
// half-provisioned shelf.
func (h *Handler) HandleSensorReading(payload []byte) error {
	var msg SensorMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse sensor payload: %w", err)
	}
	if msg.DeviceID == "" || msg.ShelfID == "" {
		return fmt.Errorf("sensor payload missing device or shelf id: %s", payload)
	}

	if !analyzer.IsValidDistance(msg.DistanceCM) {
		log.Printf("dropping invalid reading from %s/%s: distance %.1f cm",
			msg.DeviceID, msg.ShelfID, msg.DistanceCM)
		return nil
	}

	result := shelf.Analyze(h.resolver, msg.ShelfID, msg.DistanceCM, h.threshold)

	if err := h.db.RecordReading(msg.DeviceID, msg.ShelfID, msg.DistanceCM,
		result.Occupied, result.FillPercent); err != nil {
		return err
	}

	log.Printf("reading %s/%s: %.1f cm, %s", msg.DeviceID, msg.ShelfID, msg.DistanceCM, result)
	return nil
}

// HandleStatus registers or refreshes the reporting device.
func (h *Handler) HandleStatus(payload []byte) error {
	var msg StatusMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse status payload: %w", err)
	}
	if msg.DeviceID == "" {
		return fmt.Errorf("status payload missing device id: %s", payload)
	}

	if err := h.db.RegisterDevice(msg.DeviceID, msg.DeviceID, nil); err != nil {
		return err
	}

	log.Printf("status from %s: wifi=%s mqtt=%s uptime=%s shelves=%d",
		msg.DeviceID, msg.WiFi, msg.MQTT, analyzer.FormatUptime(msg.UptimeMS), msg.ShelfCount)
	return nil
}

// HandleCalibrateResponse persists a successful calibration result.
func (h *Handler) HandleCalibrateResponse(payload []byte) error {
	var msg CalibrateResponse
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse calibrate payload: %w", err)
	}

	if !msg.Success {
		log.Printf("calibration failed on %s/%s: sensor missing or reading unstable",
			msg.DeviceID, msg.ShelfID)
		return nil
	}

	if err := h.db.UpdateShelfCalibration(msg.ShelfID, msg.ShelfLength); err != nil {
		return err
	}
	log.Printf("calibrated %s/%s: shelf length %.2f cm", msg.DeviceID, msg.ShelfID, msg.ShelfLength)
	return nil
}

// HandleConfigResponse persists the per-shelf runtime state a device
// reports after a config query.
func (h *Handler) HandleConfigResponse(payload []byte) error {
	var msg ConfigResponse
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to parse config payload: %w", err)
	}
	if msg.DeviceID == "" {
		return fmt.Errorf("config payload missing device id: %s", payload)
	}

	for _, s := range msg.Shelves {
		if err := h.db.UpdateShelfRuntimeConfig(msg.DeviceID, s.ShelfID,
			s.Enabled, s.SensorConnected, s.ShelfLength, s.GPIO); err != nil {
			return err
		}
	}
	log.Printf("updated %d shelf configs from %s", len(msg.Shelves), msg.DeviceID)
	return nil
}
