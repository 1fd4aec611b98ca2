package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Shelf represents one monitored shelf slot. MaxDistance is the configured
// sensing depth; ShelfLength is the calibrated depth reported by the device
// and, when non-zero, takes precedence over MaxDistance for analysis.
// Product fields are denormalised onto the shelf row when a product is
// bound so a single read resolves the full analysis geometry.
type Shelf struct {
	ShelfID         string   `json:"shelf_id"`
	DeviceID        string   `json:"device_id"`
	ProductID       *string  `json:"product_id"`
	ProductName     *string  `json:"product_name"`
	ProductLength   *float64 `json:"product_length"`
	MaxDistance     float64  `json:"max_distance"`
	ShelfLength     float64  `json:"shelf_length"`
	GPIO            *int     `json:"gpio"`
	Enabled         bool     `json:"enabled"`
	SensorConnected bool     `json:"sensor_connected"`
	StockQuantity   int      `json:"stock_quantity"`
	PositionIndex   *int     `json:"position_index"`
	CreatedAt       int64    `json:"created_at"`
	UpdatedAt       int64    `json:"updated_at"`

	// Joined from devices for display.
	DeviceName *string `json:"device_name,omitempty"`
	Location   *string `json:"location,omitempty"`
}

const shelfColumns = `s.shelf_id, s.device_id, s.product_id, s.product_name,
	s.product_length, s.max_distance, s.shelf_length, s.gpio, s.enabled,
	s.sensor_connected, s.stock_quantity, s.position_index, s.created_at,
	s.updated_at, d.device_name, d.location`

func scanShelf(row interface{ Scan(...any) error }) (*Shelf, error) {
	var s Shelf
	var enabled, connected int
	err := row.Scan(&s.ShelfID, &s.DeviceID, &s.ProductID, &s.ProductName,
		&s.ProductLength, &s.MaxDistance, &s.ShelfLength, &s.GPIO, &enabled,
		&connected, &s.StockQuantity, &s.PositionIndex, &s.CreatedAt,
		&s.UpdatedAt, &s.DeviceName, &s.Location)
	if err != nil {
		return nil, err
	}
	s.Enabled = enabled == 1
	s.SensorConnected = connected == 1
	return &s, nil
}

// RegisterShelf inserts or replaces a shelf configuration.
func (db *DB) RegisterShelf(s *Shelf) error {
	if s.MaxDistance <= 0 {
		return fmt.Errorf("max distance must be positive, got %v", s.MaxDistance)
	}
	now := time.Now().Unix()
	enabled := 0
	if s.Enabled {
		enabled = 1
	}
	_, err := db.Exec(`
		INSERT INTO shelves (shelf_id, device_id, product_id, product_name,
			product_length, max_distance, shelf_length, gpio, enabled,
			stock_quantity, position_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(shelf_id) DO UPDATE SET
			device_id = excluded.device_id,
			product_id = excluded.product_id,
			product_name = excluded.product_name,
			product_length = excluded.product_length,
			max_distance = excluded.max_distance,
			gpio = COALESCE(excluded.gpio, shelves.gpio),
			enabled = excluded.enabled,
			stock_quantity = excluded.stock_quantity,
			position_index = excluded.position_index,
			updated_at = excluded.updated_at`,
		s.ShelfID, s.DeviceID, s.ProductID, s.ProductName, s.ProductLength,
		s.MaxDistance, s.ShelfLength, s.GPIO, enabled, s.StockQuantity,
		s.PositionIndex, now, now)
	if err != nil {
		return fmt.Errorf("failed to register shelf %s: %w", s.ShelfID, err)
	}
	return nil
}

// GetShelfInfo returns a shelf joined with its device, or nil if the shelf
// does not exist.
func (db *DB) GetShelfInfo(shelfID string) (*Shelf, error) {
	row := db.QueryRow(`
		SELECT `+shelfColumns+`
		FROM shelves s
		LEFT JOIN devices d ON s.device_id = d.device_id
		WHERE s.shelf_id = ?`, shelfID)

	s, err := scanShelf(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shelf %s: %w", shelfID, err)
	}
	return s, nil
}

// ListShelves returns all shelves ordered by device and position. Passing
// a non-empty deviceID restricts the result to that device.
func (db *DB) ListShelves(deviceID string) ([]Shelf, error) {
	query := `
		SELECT ` + shelfColumns + `
		FROM shelves s
		LEFT JOIN devices d ON s.device_id = d.device_id`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE s.device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY s.device_id, s.position_index, s.shelf_id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list shelves: %w", err)
	}
	defer rows.Close()

	var shelves []Shelf
	for rows.Next() {
		s, err := scanShelf(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan shelf: %w", err)
		}
		shelves = append(shelves, *s)
	}
	return shelves, rows.Err()
}

// DeleteShelf removes a shelf configuration.
func (db *DB) DeleteShelf(shelfID string) error {
	res, err := db.Exec(`DELETE FROM shelves WHERE shelf_id = ?`, shelfID)
	if err != nil {
		return fmt.Errorf("failed to delete shelf %s: %w", shelfID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("shelf %s not found", shelfID)
	}
	return nil
}

// UpdateShelfCalibration stores the calibrated shelf length reported by a
// device after a calibration run.
func (db *DB) UpdateShelfCalibration(shelfID string, shelfLength float64) error {
	res, err := db.Exec(`
		UPDATE shelves SET shelf_length = ?, updated_at = ?
		WHERE shelf_id = ?`,
		shelfLength, time.Now().Unix(), shelfID)
	if err != nil {
		return fmt.Errorf("failed to update calibration for %s: %w", shelfID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("shelf %s not found", shelfID)
	}
	return nil
}

// UpdateShelfRuntimeConfig applies the per-shelf state a device reports in
// a config response: enable state, sensor presence, calibrated length, and
// the GPIO pin the sensor hangs off. Unknown shelves are created with the
// calibrated length as their sensing depth so a device can introduce its
// own shelves.
func (db *DB) UpdateShelfRuntimeConfig(deviceID, shelfID string, enabled, sensorConnected bool, shelfLength float64, gpio int) error {
	now := time.Now().Unix()
	enabledInt, connectedInt := 0, 0
	if enabled {
		enabledInt = 1
	}
	if sensorConnected {
		connectedInt = 1
	}

	res, err := db.Exec(`
		UPDATE shelves SET device_id = ?, enabled = ?, sensor_connected = ?,
			shelf_length = ?, gpio = ?, updated_at = ?
		WHERE shelf_id = ?`,
		deviceID, enabledInt, connectedInt, shelfLength, gpio, now, shelfID)
	if err != nil {
		return fmt.Errorf("failed to update runtime config for %s: %w", shelfID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	maxDistance := shelfLength
	if maxDistance <= 0 {
		// Shelf reported before calibration; park it with a nominal depth
		// until the operator configures it.
		maxDistance = 1
	}
	_, err = db.Exec(`
		INSERT INTO shelves (shelf_id, device_id, max_distance, shelf_length,
			gpio, enabled, sensor_connected, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		shelfID, deviceID, maxDistance, shelfLength, gpio, enabledInt, connectedInt, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert shelf %s from config report: %w", shelfID, err)
	}
	return nil
}

// BindProduct attaches a product to a shelf, denormalising its name and
// length onto the shelf row. A nil productID unbinds.
func (db *DB) BindProduct(shelfID string, productID *string) error {
	now := time.Now().Unix()

	if productID == nil {
		res, err := db.Exec(`
			UPDATE shelves
			SET product_id = NULL, product_name = NULL, product_length = NULL, updated_at = ?
			WHERE shelf_id = ?`, now, shelfID)
		if err != nil {
			return fmt.Errorf("failed to unbind product from %s: %w", shelfID, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("shelf %s not found", shelfID)
		}
		return nil
	}

	product, err := db.GetProduct(*productID)
	if err != nil {
		return err
	}
	if product == nil {
		return fmt.Errorf("product %s not found", *productID)
	}

	res, err := db.Exec(`
		UPDATE shelves
		SET product_id = ?, product_name = ?, product_length = ?, updated_at = ?
		WHERE shelf_id = ?`,
		product.ProductID, product.ProductName, product.ProductLength, now, shelfID)
	if err != nil {
		return fmt.Errorf("failed to bind product %s to %s: %w", *productID, shelfID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("shelf %s not found", shelfID)
	}
	return nil
}
