package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YSLin901019/ntu-iot/internal/config"
	"github.com/YSLin901019/ntu-iot/internal/db"
	"github.com/YSLin901019/ntu-iot/internal/mqtt"
)

// fakeBroker records outbound traffic and serves canned responses.
type fakeBroker struct {
	commands   []string
	configReqs []string
	discovered []mqtt.DiscoveredDevice
	alive      map[string]bool
	err        error
}

func (f *fakeBroker) IsConnected() bool { return true }

func (f *fakeBroker) Stats() mqtt.Stats {
	return mqtt.Stats{Connected: true, Broker: "tcp://fake:1883"}
}

func (f *fakeBroker) SendCommand(cmd string) error {
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, cmd)
	return nil
}

func (f *fakeBroker) EnableShelf(shelfID string) error {
	return f.SendCommand("enable " + shelfID)
}

func (f *fakeBroker) DisableShelf(shelfID string) error {
	return f.SendCommand("disable " + shelfID)
}

func (f *fakeBroker) Calibrate(shelfID string) error {
	return f.SendCommand("calibrate " + shelfID)
}

func (f *fakeBroker) RequestShelfConfig(deviceID string) error {
	if f.err != nil {
		return f.err
	}
	f.configReqs = append(f.configReqs, deviceID)
	return nil
}

func (f *fakeBroker) Discover(ctx context.Context, window time.Duration) ([]mqtt.DiscoveredDevice, error) {
	return f.discovered, f.err
}

func (f *fakeBroker) CheckHeartbeat(ctx context.Context, deviceID string, window time.Duration) (bool, error) {
	return f.alive[deviceID], f.err
}

func (f *fakeBroker) CheckAllHeartbeats(ctx context.Context, deviceIDs []string, window time.Duration) (map[string]bool, error) {
	if f.err != nil {
		return nil, f.err
	}
	results := make(map[string]bool, len(deviceIDs))
	for _, id := range deviceIDs {
		results[id] = f.alive[id]
	}
	return results, nil
}

func setupServer(t *testing.T) (*httptest.Server, *db.DB, *fakeBroker) {
	t.Helper()
	database, err := db.NewDB(filepath.Join(t.TempDir(), "api_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	broker := &fakeBroker{alive: make(map[string]bool)}
	srv := NewServer(database, broker, config.Default())
	ts := httptest.NewServer(srv.ServeMux())
	t.Cleanup(ts.Close)
	return ts, database, broker
}

func getJSON(t *testing.T, ts *httptest.Server, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func seedShelf(t *testing.T, database *db.DB, deviceID, shelfID string, maxDistance float64) {
	t.Helper()
	require.NoError(t, database.RegisterDevice(deviceID, deviceID, nil))
	require.NoError(t, database.RegisterShelf(&db.Shelf{
		ShelfID:     shelfID,
		DeviceID:    deviceID,
		MaxDistance: maxDistance,
	}))
}

func TestProductLifecycle(t *testing.T) {
	ts, _, _ := setupServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/api/products", map[string]any{
		"product_id":     "SKU-1",
		"product_name":   "Canned Corn",
		"product_length": 5.0,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var products []db.Product
	getJSON(t, ts, "/api/products", &products)
	require.Len(t, products, 1)
	assert.Equal(t, "Canned Corn", products[0].ProductName)

	var product db.Product
	resp = getJSON(t, ts, "/api/products/SKU-1", &product)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 5.0, product.ProductLength)

	resp = getJSON(t, ts, "/api/products/SKU-404", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodDelete, "/api/products/SKU-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	getJSON(t, ts, "/api/products", &products)
	assert.Empty(t, products)
}

func TestCreateProductRejectsBadLength(t *testing.T) {
	ts, _, _ := setupServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/api/products", map[string]any{
		"product_id":     "SKU-1",
		"product_name":   "Void",
		"product_length": 0.0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodPost, "/api/products", map[string]any{
		"product_name": "No ID",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateDevice(t *testing.T) {
	ts, database, _ := setupServer(t)

	resp := doJSON(t, ts, http.MethodPost, "/api/devices", map[string]any{
		"device_id":   "pi-001",
		"device_name": "front aisle",
		"location":    "store 3",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var device db.Device
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&device))
	assert.Equal(t, "front aisle", device.DeviceName)

	stored, err := database.GetDevice("pi-001")
	require.NoError(t, err)
	require.NotNil(t, stored)

	resp = doJSON(t, ts, http.MethodPost, "/api/devices", map[string]any{
		"device_name": "no id",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateShelf(t *testing.T) {
	ts, database, _ := setupServer(t)
	require.NoError(t, database.RegisterDevice("pi-001", "front", nil))

	resp := doJSON(t, ts, http.MethodPost, "/api/shelves", map[string]any{
		"shelf_id":     "A1",
		"device_id":    "pi-001",
		"max_distance": 30.0,
		"gpio":         17,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var shelf db.Shelf
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shelf))
	assert.Equal(t, 30.0, shelf.MaxDistance)
	assert.True(t, shelf.Enabled)
	require.NotNil(t, shelf.GPIO)
	assert.Equal(t, 17, *shelf.GPIO)

	// A manually provisioned shelf analyses against its configured depth.
	stored, err := database.GetShelfInfo("A1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 30.0, stored.MaxDistance)
}

func TestCreateShelfValidation(t *testing.T) {
	ts, database, _ := setupServer(t)
	require.NoError(t, database.RegisterDevice("pi-001", "front", nil))

	resp := doJSON(t, ts, http.MethodPost, "/api/shelves", map[string]any{
		"shelf_id":  "A1",
		"device_id": "pi-001",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "zero max_distance must be rejected")

	resp = doJSON(t, ts, http.MethodPost, "/api/shelves", map[string]any{
		"shelf_id":     "A1",
		"device_id":    "pi-404",
		"max_distance": 30.0,
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodPost, "/api/shelves", map[string]any{
		"max_distance": 30.0,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestShelfBindAndStock(t *testing.T) {
	ts, database, _ := setupServer(t)
	seedShelf(t, database, "pi-001", "A1", 30)

	resp := doJSON(t, ts, http.MethodPost, "/api/products", map[string]any{
		"product_id":     "SKU-1",
		"product_name":   "Canned Corn",
		"product_length": 5.0,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodPut, "/api/shelves/A1/product", map[string]any{
		"product_id": "SKU-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var shelf db.Shelf
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shelf))
	require.NotNil(t, shelf.ProductName)
	assert.Equal(t, "Canned Corn", *shelf.ProductName)

	resp = doJSON(t, ts, http.MethodPut, "/api/shelves/A1/stock", map[string]any{"quantity": 12})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodPut, "/api/shelves/A1/stock", map[string]any{"quantity": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var history []db.StockChange
	getJSON(t, ts, "/api/shelves/A1/stock/history", &history)
	require.Len(t, history, 1)
	assert.Equal(t, 12, history[0].QuantityAfter)
	assert.Equal(t, db.StockChangeManual, history[0].ChangeType)

	var summary []db.StockSummaryRow
	getJSON(t, ts, "/api/stock/summary", &summary)
	require.Len(t, summary, 1)
	assert.Equal(t, 12, summary[0].TotalStock)

	// Unbind clears the product columns.
	resp = doJSON(t, ts, http.MethodPut, "/api/shelves/A1/product", map[string]any{"product_id": nil})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&shelf))
	assert.Nil(t, shelf.ProductID)
}

func TestBindUnknownProduct(t *testing.T) {
	ts, database, _ := setupServer(t)
	seedShelf(t, database, "pi-001", "A1", 30)

	resp := doJSON(t, ts, http.MethodPut, "/api/shelves/A1/product", map[string]any{
		"product_id": "SKU-404",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestShelfNotFound(t *testing.T) {
	ts, _, _ := setupServer(t)
	resp := getJSON(t, ts, "/api/shelves/Z9", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListShelvesFiltersByDevice(t *testing.T) {
	ts, database, _ := setupServer(t)
	seedShelf(t, database, "pi-001", "A1", 30)
	seedShelf(t, database, "pi-002", "B1", 20)

	var shelves []db.Shelf
	getJSON(t, ts, "/api/shelves", &shelves)
	assert.Len(t, shelves, 2)

	getJSON(t, ts, "/api/shelves?device_id=pi-002", &shelves)
	require.Len(t, shelves, 1)
	assert.Equal(t, "B1", shelves[0].ShelfID)
}

func TestDeviceUpdateAndDelete(t *testing.T) {
	ts, database, _ := setupServer(t)
	require.NoError(t, database.RegisterDevice("pi-001", "old name", nil))

	resp := doJSON(t, ts, http.MethodPut, "/api/devices/pi-001", map[string]any{
		"device_name": "front aisle",
		"location":    "store 3",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var device db.Device
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&device))
	assert.Equal(t, "front aisle", device.DeviceName)
	require.NotNil(t, device.Location)
	assert.Equal(t, "store 3", *device.Location)

	resp = doJSON(t, ts, http.MethodDelete, "/api/devices/pi-001", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = getJSON(t, ts, "/api/devices/pi-001", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDiscoverRegistersDevices(t *testing.T) {
	ts, database, broker := setupServer(t)
	broker.discovered = []mqtt.DiscoveredDevice{
		{DeviceID: "pi-001", DeviceName: "front", Shelves: []string{"A1", "A2"}, ShelfCount: 2},
		{DeviceID: "pi-002", DeviceName: "warehouse", Shelves: []string{"B1"}, ShelfCount: 1},
	}

	resp := doJSON(t, ts, http.MethodPost, "/api/devices/discover", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Count   int                     `json:"count"`
		Devices []mqtt.DiscoveredDevice `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, 2, result.Count)

	devices, err := database.ListDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestHeartbeatUpdatesStatus(t *testing.T) {
	ts, database, broker := setupServer(t)
	require.NoError(t, database.RegisterDevice("pi-001", "front", nil))
	require.NoError(t, database.RegisterDevice("pi-002", "warehouse", nil))
	broker.alive["pi-001"] = true

	resp := doJSON(t, ts, http.MethodPost, "/api/devices/heartbeat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	d1, err := database.GetDevice("pi-001")
	require.NoError(t, err)
	assert.Equal(t, db.DeviceStatusOnline, d1.Status)
	d2, err := database.GetDevice("pi-002")
	require.NoError(t, err)
	assert.Equal(t, db.DeviceStatusOffline, d2.Status)
}

func TestSingleHeartbeat(t *testing.T) {
	ts, database, broker := setupServer(t)
	require.NoError(t, database.RegisterDevice("pi-001", "front", nil))
	broker.alive["pi-001"] = true

	resp := doJSON(t, ts, http.MethodPost, "/api/devices/pi-001/heartbeat", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result struct {
		Alive  bool   `json:"alive"`
		Status string `json:"status"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Alive)
	assert.Equal(t, db.DeviceStatusOnline, result.Status)
}

func TestShelfCommandsReachBroker(t *testing.T) {
	ts, database, broker := setupServer(t)
	seedShelf(t, database, "pi-001", "A1", 30)

	for _, path := range []string{"enable", "disable", "calibrate"} {
		resp := doJSON(t, ts, http.MethodPost, "/api/shelves/A1/"+path, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, []string{"enable A1", "disable A1", "calibrate A1"}, broker.commands)
}

func TestCommandEndpoint(t *testing.T) {
	ts, _, broker := setupServer(t)

	form := url.Values{"command": {"status"}}
	resp, err := http.Post(ts.URL+"/api/command", "application/x-www-form-urlencoded",
		strings.NewReader(form.Encode()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"status"}, broker.commands)

	resp, err = http.Post(ts.URL+"/api/command", "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommandBrokerDown(t *testing.T) {
	ts, database, broker := setupServer(t)
	seedShelf(t, database, "pi-001", "A1", 30)
	broker.err = fmt.Errorf("mqtt not connected")

	resp := doJSON(t, ts, http.MethodPost, "/api/shelves/A1/enable", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestReadingsFilterAndLimit(t *testing.T) {
	ts, database, _ := setupServer(t)
	seedShelf(t, database, "pi-001", "A1", 30)
	for i := 0; i < 3; i++ {
		require.NoError(t, database.RecordReading("pi-001", "A1", 25.0, true, 16.67))
	}

	var readings []db.Reading
	getJSON(t, ts, "/api/readings?shelf_id=A1&limit=2", &readings)
	assert.Len(t, readings, 2)

	resp := getJSON(t, ts, "/api/readings?limit=zero", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsIncludesBroker(t *testing.T) {
	ts, database, _ := setupServer(t)
	seedShelf(t, database, "pi-001", "A1", 30)

	var stats struct {
		Database db.Stats   `json:"database"`
		MQTT     mqtt.Stats `json:"mqtt"`
	}
	resp := getJSON(t, ts, "/api/stats", &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.Database.DeviceCount)
	assert.True(t, stats.MQTT.Connected)
}

func TestShowConfig(t *testing.T) {
	ts, _, _ := setupServer(t)

	var cfg struct {
		Broker            string             `json:"broker"`
		OccupiedThreshold float64            `json:"occupied_threshold"`
		DefaultGeometry   map[string]float64 `json:"default_geometry"`
	}
	resp := getJSON(t, ts, "/api/config", &cfg)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, config.DefaultBroker, cfg.Broker)
	assert.Equal(t, 2.0, cfg.OccupiedThreshold)
	assert.Equal(t, 30.0, cfg.DefaultGeometry["A1"])
}

func TestRequestShelfConfig(t *testing.T) {
	ts, database, broker := setupServer(t)
	require.NoError(t, database.RegisterDevice("pi-001", "front", nil))

	resp := doJSON(t, ts, http.MethodPost, "/api/devices/pi-001/config", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"pi-001"}, broker.configReqs)
}
