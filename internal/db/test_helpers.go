package db

import (
	"os"
	"testing"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := NewDB(fname)
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	return db
}

func cleanupTestDB(t *testing.T, db *DB) {
	t.Helper()
	fname := t.Name() + ".db"
	db.Close()
	_ = os.Remove(fname)
	_ = os.Remove(fname + "-shm")
	_ = os.Remove(fname + "-wal")
}

func strPtr(s string) *string {
	return &s
}

func floatPtr(f float64) *float64 {
	return &f
}

// registerTestShelf creates a device and a shelf hanging off it.
func registerTestShelf(t *testing.T, db *DB, deviceID, shelfID string, maxDistance float64) {
	t.Helper()
	if err := db.RegisterDevice(deviceID, deviceID, nil); err != nil {
		t.Fatalf("RegisterDevice failed: %v", err)
	}
	if err := db.RegisterShelf(&Shelf{
		ShelfID:     shelfID,
		DeviceID:    deviceID,
		MaxDistance: maxDistance,
	}); err != nil {
		t.Fatalf("RegisterShelf failed: %v", err)
	}
}
