package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/YSLin901019/ntu-iot/internal/config"
	"github.com/YSLin901019/ntu-iot/internal/db"
	"github.com/YSLin901019/ntu-iot/internal/mqtt"
	"github.com/YSLin901019/ntu-iot/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Broker is the slice of the MQTT client the console needs. Tests supply a
// fake; the daemon supplies *mqtt.Client.
type Broker interface {
	IsConnected() bool
	Stats() mqtt.Stats
	SendCommand(cmd string) error
	EnableShelf(shelfID string) error
	DisableShelf(shelfID string) error
	Calibrate(shelfID string) error
	RequestShelfConfig(deviceID string) error
	Discover(ctx context.Context, window time.Duration) ([]mqtt.DiscoveredDevice, error)
	CheckHeartbeat(ctx context.Context, deviceID string, window time.Duration) (bool, error)
	CheckAllHeartbeats(ctx context.Context, deviceIDs []string, window time.Duration) (map[string]bool, error)
}

type Server struct {
	db  *db.DB
	mq  Broker
	cfg *config.Config
}

func NewServer(database *db.DB, mq Broker, cfg *config.Config) *Server {
	return &Server{
		db:  database,
		mq:  mq,
		cfg: cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/devices", s.listDevices)
	mux.HandleFunc("POST /api/devices", s.createDevice)
	mux.HandleFunc("GET /api/devices/{id}", s.getDevice)
	mux.HandleFunc("PUT /api/devices/{id}", s.updateDevice)
	mux.HandleFunc("DELETE /api/devices/{id}", s.deleteDevice)
	mux.HandleFunc("POST /api/devices/discover", s.discoverDevices)
	mux.HandleFunc("POST /api/devices/heartbeat", s.checkAllHeartbeats)
	mux.HandleFunc("POST /api/devices/{id}/heartbeat", s.checkHeartbeat)
	mux.HandleFunc("POST /api/devices/{id}/config", s.requestShelfConfig)

	mux.HandleFunc("GET /api/products", s.listProducts)
	mux.HandleFunc("POST /api/products", s.createProduct)
	mux.HandleFunc("GET /api/products/{id}", s.getProduct)
	mux.HandleFunc("DELETE /api/products/{id}", s.deleteProduct)

	mux.HandleFunc("GET /api/shelves", s.listShelves)
	mux.HandleFunc("POST /api/shelves", s.createShelf)
	mux.HandleFunc("GET /api/shelves/{id}", s.getShelf)
	mux.HandleFunc("DELETE /api/shelves/{id}", s.deleteShelf)
	mux.HandleFunc("PUT /api/shelves/{id}/product", s.bindProduct)
	mux.HandleFunc("PUT /api/shelves/{id}/stock", s.updateStock)
	mux.HandleFunc("GET /api/shelves/{id}/stock/history", s.stockHistory)
	mux.HandleFunc("POST /api/shelves/{id}/calibrate", s.calibrateShelf)
	mux.HandleFunc("POST /api/shelves/{id}/enable", s.enableShelf)
	mux.HandleFunc("POST /api/shelves/{id}/disable", s.disableShelf)

	mux.HandleFunc("GET /api/readings", s.listReadings)
	mux.HandleFunc("GET /api/stock/summary", s.stockSummary)
	mux.HandleFunc("GET /api/stats", s.showStats)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("POST /api/command", s.sendCommandHandler)

	return mux
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

// decodeJSON reads a request body into dst with unknown fields rejected so
// typos in console payloads fail loudly.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	command := r.FormValue("command")
	if command == "" {
		s.writeJSONError(w, http.StatusBadRequest, "Missing 'command' parameter")
		return
	}
	if err := s.mq.SendCommand(command); err != nil {
		s.writeJSONError(w, http.StatusBadGateway, "Failed to send command")
		return
	}
	s.writeJSON(w, map[string]string{"status": "sent", "command": command})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"version":            version.String(),
		"broker":             s.cfg.GetBroker(),
		"occupied_threshold": s.cfg.GetOccupiedThreshold(),
		"default_geometry":   s.cfg.GetDefaultGeometry(),
	})
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to retrieve stats")
		return
	}
	s.writeJSON(w, map[string]any{
		"database": stats,
		"mqtt":     s.mq.Stats(),
	})
}
