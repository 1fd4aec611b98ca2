package api

import (
	"fmt"
	"net/http"

	"github.com/YSLin901019/ntu-iot/internal/db"
)

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.db.ListDevices()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve devices: %v", err))
		return
	}
	s.writeJSON(w, devices)
}

// createDevice provisions a device by hand, ahead of it ever announcing
// itself over MQTT.
func (s *Server) createDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceID   string  `json:"device_id"`
		DeviceName string  `json:"device_name"`
		Location   *string `json:"location"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.DeviceID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if err := s.db.RegisterDevice(req.DeviceID, req.DeviceName, req.Location); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to register device: %v", err))
		return
	}
	device, err := s.db.GetDevice(req.DeviceID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve device: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, device)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	device, err := s.db.GetDevice(r.PathValue("id"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve device: %v", err))
		return
	}
	if device == nil {
		s.writeJSONError(w, http.StatusNotFound, "Device not found")
		return
	}
	s.writeJSON(w, device)
}

func (s *Server) updateDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceName string  `json:"device_name"`
		Location   *string `json:"location"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.DeviceName == "" {
		s.writeJSONError(w, http.StatusBadRequest, "device_name is required")
		return
	}
	deviceID := r.PathValue("id")
	if err := s.db.UpdateDevice(deviceID, req.DeviceName, req.Location); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to update device: %v", err))
		return
	}
	s.getDevice(w, r)
}

func (s *Server) deleteDevice(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteDevice(r.PathValue("id")); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete device: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

// discoverDevices broadcasts on the discovery topic, registers every
// responder, and returns what answered.
func (s *Server) discoverDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.mq.Discover(r.Context(), s.cfg.GetDiscoveryTimeout())
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Discovery failed: %v", err))
		return
	}
	for _, dev := range devices {
		if err := s.db.RegisterDevice(dev.DeviceID, dev.DeviceName, nil); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to register %s: %v", dev.DeviceID, err))
			return
		}
	}
	s.writeJSON(w, map[string]any{"count": len(devices), "devices": devices})
}

func (s *Server) checkHeartbeat(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	alive, err := s.mq.CheckHeartbeat(r.Context(), deviceID, s.cfg.GetHeartbeatTimeout())
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Heartbeat check failed: %v", err))
		return
	}
	status := db.DeviceStatusOffline
	if alive {
		status = db.DeviceStatusOnline
	}
	if err := s.db.UpdateDeviceStatus(deviceID, status); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to record status: %v", err))
		return
	}
	s.writeJSON(w, map[string]any{"device_id": deviceID, "alive": alive, "status": status})
}

func (s *Server) checkAllHeartbeats(w http.ResponseWriter, r *http.Request) {
	deviceIDs, err := s.db.DeviceIDs()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to list devices: %v", err))
		return
	}
	results, err := s.mq.CheckAllHeartbeats(r.Context(), deviceIDs, s.cfg.GetHeartbeatTimeout())
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Heartbeat check failed: %v", err))
		return
	}
	for deviceID, alive := range results {
		status := db.DeviceStatusOffline
		if alive {
			status = db.DeviceStatusOnline
		}
		if err := s.db.UpdateDeviceStatus(deviceID, status); err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to record status: %v", err))
			return
		}
	}
	s.writeJSON(w, results)
}

// requestShelfConfig asks one device to report its shelf wiring. The device
// answers asynchronously on the config response topic, so this returns as
// soon as the request is on the wire.
func (s *Server) requestShelfConfig(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("id")
	if err := s.mq.RequestShelfConfig(deviceID); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Failed to request config: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "requested", "device_id": deviceID})
}
