// Package db wraps the SQLite store for devices, products, shelves, sensor
// readings, and stock audit rows.
package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type DB struct {
	*sql.DB
}

// schema is the current full schema, applied on open so a fresh database
// works without running migrations. Existing databases are upgraded through
// the embedded migrations instead (see migrate.go).
const schema = `
	CREATE TABLE IF NOT EXISTS devices (
		device_id         TEXT PRIMARY KEY,
		device_name       TEXT,
		location          TEXT,
		status            TEXT DEFAULT 'offline',
		last_seen         INTEGER,
		created_at        INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS products (
		product_id        TEXT PRIMARY KEY,
		product_name      TEXT NOT NULL,
		product_length    REAL NOT NULL,
		description       TEXT,
		created_at        INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS shelves (
		shelf_id          TEXT PRIMARY KEY,
		device_id         TEXT NOT NULL,
		product_id        TEXT,
		product_name      TEXT,
		product_length    REAL,
		max_distance      REAL NOT NULL,
		shelf_length      REAL DEFAULT 0.0,
		gpio              INTEGER,
		enabled           INTEGER DEFAULT 0,
		sensor_connected  INTEGER DEFAULT 0,
		stock_quantity    INTEGER DEFAULT 0,
		position_index    INTEGER,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL,
		FOREIGN KEY (device_id) REFERENCES devices(device_id),
		FOREIGN KEY (product_id) REFERENCES products(product_id)
	);
	CREATE TABLE IF NOT EXISTS sensor_data (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id         TEXT NOT NULL,
		shelf_id          TEXT NOT NULL,
		distance_cm       REAL NOT NULL,
		occupied          INTEGER NOT NULL,
		fill_percent      REAL NOT NULL,
		timestamp         INTEGER NOT NULL,
		FOREIGN KEY (device_id) REFERENCES devices(device_id),
		FOREIGN KEY (shelf_id) REFERENCES shelves(shelf_id)
	);
	CREATE TABLE IF NOT EXISTS stock_changes (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		shelf_id          TEXT NOT NULL,
		product_id        TEXT NOT NULL,
		change_type       TEXT NOT NULL,
		quantity_before   INTEGER,
		quantity_after    INTEGER,
		timestamp         INTEGER NOT NULL,
		FOREIGN KEY (shelf_id) REFERENCES shelves(shelf_id),
		FOREIGN KEY (product_id) REFERENCES products(product_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sensor_data_device ON sensor_data(device_id);
	CREATE INDEX IF NOT EXISTS idx_sensor_data_shelf ON sensor_data(shelf_id);
	CREATE INDEX IF NOT EXISTS idx_sensor_data_timestamp ON sensor_data(timestamp);
	CREATE INDEX IF NOT EXISTS idx_shelves_device ON shelves(device_id);
	CREATE INDEX IF NOT EXISTS idx_shelves_product ON shelves(product_id);
	CREATE INDEX IF NOT EXISTS idx_stock_changes_shelf ON stock_changes(shelf_id);
`

// NewDB opens the database at path and ensures the schema exists.
func NewDB(path string) (*DB, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialise schema: %w", err)
	}

	return db, nil
}

// OpenDB opens the database without touching the schema. The migrate
// subcommand uses this so migrations fully own schema changes.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DB{db}, nil
}

// Stats holds the dashboard counters for the console index page.
type Stats struct {
	DeviceCount    int `json:"device_count"`
	OnlineDevices  int `json:"online_devices"`
	ProductCount   int `json:"product_count"`
	ShelfCount     int `json:"shelf_count"`
	BoundShelves   int `json:"bound_shelves"`
	TotalStock     int `json:"total_stock"`
	ReadingCount   int `json:"reading_count"`
	OccupiedCount  int `json:"occupied_count"`
	OccupiedShelves int `json:"occupied_shelves"`
}

// GetStats gathers the dashboard counters in one call.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM devices`, &s.DeviceCount},
		{`SELECT COUNT(*) FROM devices WHERE status = 'online'`, &s.OnlineDevices},
		{`SELECT COUNT(*) FROM products`, &s.ProductCount},
		{`SELECT COUNT(*) FROM shelves`, &s.ShelfCount},
		{`SELECT COUNT(*) FROM shelves WHERE product_id IS NOT NULL`, &s.BoundShelves},
		{`SELECT COALESCE(SUM(stock_quantity), 0) FROM shelves`, &s.TotalStock},
		{`SELECT COUNT(*) FROM sensor_data`, &s.ReadingCount},
		{`SELECT COUNT(*) FROM sensor_data WHERE occupied = 1`, &s.OccupiedCount},
	}

	for _, c := range counts {
		if err := db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to gather stats: %w", err)
		}
	}

	// Shelves whose most recent reading reported occupied.
	err := db.QueryRow(`
		SELECT COUNT(*) FROM (
			SELECT shelf_id, occupied,
			       MAX(timestamp) AS ts
			FROM sensor_data
			GROUP BY shelf_id
		) WHERE occupied = 1`).Scan(&s.OccupiedShelves)
	if err != nil {
		return nil, fmt.Errorf("failed to gather occupied shelves: %w", err)
	}

	return &s, nil
}
