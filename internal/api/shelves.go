package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/YSLin901019/ntu-iot/internal/db"
)

func (s *Server) listShelves(w http.ResponseWriter, r *http.Request) {
	shelves, err := s.db.ListShelves(r.URL.Query().Get("device_id"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve shelves: %v", err))
		return
	}
	s.writeJSON(w, shelves)
}

// createShelf provisions a shelf slot on a registered device with its
// sensing depth, so readings analyse correctly before any calibration.
func (s *Server) createShelf(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShelfID       string  `json:"shelf_id"`
		DeviceID      string  `json:"device_id"`
		MaxDistance   float64 `json:"max_distance"`
		GPIO          *int    `json:"gpio"`
		PositionIndex *int    `json:"position_index"`
		Enabled       *bool   `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.ShelfID == "" || req.DeviceID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "shelf_id and device_id are required")
		return
	}
	device, err := s.db.GetDevice(req.DeviceID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to look up device: %v", err))
		return
	}
	if device == nil {
		s.writeJSONError(w, http.StatusNotFound, "Device not found")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	shelf := &db.Shelf{
		ShelfID:       req.ShelfID,
		DeviceID:      req.DeviceID,
		MaxDistance:   req.MaxDistance,
		GPIO:          req.GPIO,
		Enabled:       enabled,
		PositionIndex: req.PositionIndex,
	}
	if err := s.db.RegisterShelf(shelf); err != nil {
		if strings.Contains(err.Error(), "max distance") {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to register shelf: %v", err))
		return
	}
	created, err := s.db.GetShelfInfo(req.ShelfID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve shelf: %v", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, created)
}

func (s *Server) getShelf(w http.ResponseWriter, r *http.Request) {
	shelf, err := s.db.GetShelfInfo(r.PathValue("id"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve shelf: %v", err))
		return
	}
	if shelf == nil {
		s.writeJSONError(w, http.StatusNotFound, "Shelf not found")
		return
	}
	s.writeJSON(w, shelf)
}

func (s *Server) deleteShelf(w http.ResponseWriter, r *http.Request) {
	if err := s.db.DeleteShelf(r.PathValue("id")); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete shelf: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

// bindProduct assigns a product to a shelf. A null product_id clears the
// binding.
func (s *Server) bindProduct(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID *string `json:"product_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	shelfID := r.PathValue("id")
	if req.ProductID != nil {
		product, err := s.db.GetProduct(*req.ProductID)
		if err != nil {
			s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to look up product: %v", err))
			return
		}
		if product == nil {
			s.writeJSONError(w, http.StatusNotFound, "Product not found")
			return
		}
	}
	if err := s.db.BindProduct(shelfID, req.ProductID); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to bind product: %v", err))
		return
	}
	s.getShelf(w, r)
}

func (s *Server) updateStock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	shelfID := r.PathValue("id")
	if err := s.db.UpdateStockQuantity(shelfID, req.Quantity, db.StockChangeManual); err != nil {
		if strings.Contains(err.Error(), "cannot be negative") {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if strings.Contains(err.Error(), "not found") {
			s.writeJSONError(w, http.StatusNotFound, "Shelf not found")
			return
		}
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to update stock: %v", err))
		return
	}
	s.getShelf(w, r)
}

func (s *Server) stockHistory(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		limit = parsed
	}
	changes, err := s.db.StockChanges(r.PathValue("id"), limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stock history: %v", err))
		return
	}
	s.writeJSON(w, changes)
}

func (s *Server) stockSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.db.StockSummary()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stock summary: %v", err))
		return
	}
	s.writeJSON(w, summary)
}

// calibrateShelf kicks off an empty-shelf measurement on the device. The
// measured distance arrives on the calibrate response topic and lands in
// shelf_length once the device answers.
func (s *Server) calibrateShelf(w http.ResponseWriter, r *http.Request) {
	shelfID := r.PathValue("id")
	if err := s.mq.Calibrate(shelfID); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Failed to request calibration: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "requested", "shelf_id": shelfID})
}

func (s *Server) enableShelf(w http.ResponseWriter, r *http.Request) {
	shelfID := r.PathValue("id")
	if err := s.mq.EnableShelf(shelfID); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Failed to send enable: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "sent", "shelf_id": shelfID})
}

func (s *Server) disableShelf(w http.ResponseWriter, r *http.Request) {
	shelfID := r.PathValue("id")
	if err := s.mq.DisableShelf(shelfID); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("Failed to send disable: %v", err))
		return
	}
	s.writeJSON(w, map[string]string{"status": "sent", "shelf_id": shelfID})
}
