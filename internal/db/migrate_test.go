package db

import (
	"os"
	"testing"
)

// setupBareDB opens a database without running the schema bootstrap, so
// migrations fully own the schema.
func setupBareDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := OpenDB(fname)
	if err != nil {
		t.Fatalf("failed to open bare DB: %v", err)
	}
	return db
}

func TestMigrateUpDown(t *testing.T) {
	db := setupBareDB(t)
	defer cleanupTestDB(t, db)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh DB: version=%d dirty=%v, want 0/false", version, dirty)
	}

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err = db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 3 || dirty {
		t.Errorf("after up: version=%d dirty=%v, want 3/false", version, dirty)
	}

	// A migrated schema must accept the calibration columns.
	registerTestShelf(t, db, "ESP32_001", "A1", 30.0)
	if err := db.UpdateShelfCalibration("A1", 29.0); err != nil {
		t.Fatalf("UpdateShelfCalibration on migrated schema failed: %v", err)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	version, _, err = db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if version != 2 {
		t.Errorf("after down: version=%d, want 2", version)
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	db := setupBareDB(t)
	defer cleanupTestDB(t, db)

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}
}
