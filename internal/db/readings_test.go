package db

import (
	"testing"
	"time"
)

func TestRecordReading(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	registerTestShelf(t, db, "ESP32_001", "A1", 30.0)

	if err := db.RecordReading("ESP32_001", "A1", 25.0, true, 16.67); err != nil {
		t.Fatalf("RecordReading failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sensor_data").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d readings, want 1", count)
	}

	// Ingesting a reading marks the device online.
	d, _ := db.GetDevice("ESP32_001")
	if d.Status != DeviceStatusOnline || d.LastSeen == nil {
		t.Errorf("device not refreshed: status=%q lastSeen=%v", d.Status, d.LastSeen)
	}
}

func TestLatestReadingsFilters(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	registerTestShelf(t, db, "ESP32_001", "A1", 30.0)
	registerTestShelf(t, db, "ESP32_002", "B1", 20.0)

	for i := 0; i < 3; i++ {
		if err := db.RecordReading("ESP32_001", "A1", 25.0, true, 16.67); err != nil {
			t.Fatalf("RecordReading failed: %v", err)
		}
	}
	if err := db.RecordReading("ESP32_002", "B1", 20.0, false, 0); err != nil {
		t.Fatalf("RecordReading failed: %v", err)
	}

	byShelf, err := db.LatestReadings(ReadingFilter{ShelfID: "A1"})
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(byShelf) != 3 {
		t.Errorf("shelf filter: got %d readings, want 3", len(byShelf))
	}

	byDevice, err := db.LatestReadings(ReadingFilter{DeviceID: "ESP32_002"})
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(byDevice) != 1 || byDevice[0].ShelfID != "B1" {
		t.Errorf("device filter: got %+v, want one B1 reading", byDevice)
	}

	limited, err := db.LatestReadings(ReadingFilter{Limit: 2})
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limit: got %d readings, want 2", len(limited))
	}
}

func TestLatestReadingsJoinsProduct(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	registerTestShelf(t, db, "ESP32_001", "A1", 30.0)
	if err := db.CreateProduct(&Product{ProductID: "P001", ProductName: "Tea", ProductLength: 5.0}); err != nil {
		t.Fatalf("CreateProduct failed: %v", err)
	}
	if err := db.BindProduct("A1", strPtr("P001")); err != nil {
		t.Fatalf("BindProduct failed: %v", err)
	}
	if err := db.RecordReading("ESP32_001", "A1", 20.0, true, 33.33); err != nil {
		t.Fatalf("RecordReading failed: %v", err)
	}

	readings, err := db.LatestReadings(ReadingFilter{ShelfID: "A1"})
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("got %d readings, want 1", len(readings))
	}
	if readings[0].ProductName == nil || *readings[0].ProductName != "Tea" {
		t.Errorf("ProductName = %v, want Tea", readings[0].ProductName)
	}
}

// insertReadingAt writes a reading with an explicit timestamp, bypassing
// RecordReading's now().
func insertReadingAt(t *testing.T, db *DB, shelfID string, ts int64) {
	t.Helper()
	_, err := db.Exec(`
		INSERT INTO sensor_data (device_id, shelf_id, distance_cm, occupied, fill_percent, timestamp)
		VALUES ('ESP32_001', ?, 25.0, 1, 16.67, ?)`, shelfID, ts)
	if err != nil {
		t.Fatalf("insert reading failed: %v", err)
	}
}

func TestPruneReadings(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	registerTestShelf(t, db, "ESP32_001", "A1", 30.0)

	now := time.Now().Unix()
	old := time.Now().AddDate(0, 0, -60).Unix()
	for i := 0; i < 5; i++ {
		insertReadingAt(t, db, "A1", old+int64(i))
	}
	for i := 0; i < 3; i++ {
		insertReadingAt(t, db, "A1", now+int64(i))
	}

	deleted, err := db.PruneReadings(30, 0)
	if err != nil {
		t.Fatalf("PruneReadings failed: %v", err)
	}
	if deleted != 5 {
		t.Errorf("deleted = %d, want 5", deleted)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sensor_data").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 3 {
		t.Errorf("got %d readings after prune, want 3", count)
	}
}

func TestPruneReadingsKeepsMinimum(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	registerTestShelf(t, db, "ESP32_001", "A1", 30.0)

	// Everything is stale, but the newest keepMin rows must survive.
	old := time.Now().AddDate(0, 0, -60).Unix()
	for i := 0; i < 6; i++ {
		insertReadingAt(t, db, "A1", old+int64(i))
	}

	deleted, err := db.PruneReadings(30, 4)
	if err != nil {
		t.Fatalf("PruneReadings failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	readings, err := db.LatestReadings(ReadingFilter{ShelfID: "A1"})
	if err != nil {
		t.Fatalf("LatestReadings failed: %v", err)
	}
	if len(readings) != 4 {
		t.Fatalf("got %d survivors, want 4", len(readings))
	}
	// The survivors are the newest rows.
	if readings[0].Timestamp != old+5 {
		t.Errorf("newest survivor timestamp = %d, want %d", readings[0].Timestamp, old+5)
	}
}

func TestPruneReadingsRejectsBadWindow(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	if _, err := db.PruneReadings(0, 100); err == nil {
		t.Error("expected error for zero keepDays")
	}
}

func TestGetStats(t *testing.T) {
	db := setupTestDB(t)
	defer cleanupTestDB(t, db)

	registerTestShelf(t, db, "ESP32_001", "A1", 30.0)
	if err := db.RecordReading("ESP32_001", "A1", 25.0, true, 16.67); err != nil {
		t.Fatalf("RecordReading failed: %v", err)
	}

	stats, err := db.GetStats()
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if stats.DeviceCount != 1 {
		t.Errorf("DeviceCount = %d, want 1", stats.DeviceCount)
	}
	if stats.ShelfCount != 1 {
		t.Errorf("ShelfCount = %d, want 1", stats.ShelfCount)
	}
	if stats.ReadingCount != 1 {
		t.Errorf("ReadingCount = %d, want 1", stats.ReadingCount)
	}
	if stats.OccupiedShelves != 1 {
		t.Errorf("OccupiedShelves = %d, want 1", stats.OccupiedShelves)
	}
}
