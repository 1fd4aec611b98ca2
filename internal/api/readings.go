package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/YSLin901019/ntu-iot/internal/db"
)

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	filter := db.ReadingFilter{
		ShelfID:  r.URL.Query().Get("shelf_id"),
		DeviceID: r.URL.Query().Get("device_id"),
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		filter.Limit = parsed
	}
	readings, err := s.db.LatestReadings(filter)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve readings: %v", err))
		return
	}
	s.writeJSON(w, readings)
}
