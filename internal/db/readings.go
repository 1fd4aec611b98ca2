package db

import (
	"fmt"
	"time"
)

// Reading is one persisted sensor sample with its analysis outcome.
type Reading struct {
	ID          int64   `json:"id"`
	DeviceID    string  `json:"device_id"`
	ShelfID     string  `json:"shelf_id"`
	DistanceCM  float64 `json:"distance_cm"`
	Occupied    bool    `json:"occupied"`
	FillPercent float64 `json:"fill_percent"`
	Timestamp   int64   `json:"timestamp"`

	// Joined from shelves for display.
	ProductName   *string `json:"product_name,omitempty"`
	StockQuantity *int    `json:"stock_quantity,omitempty"`
}

// RecordReading persists one analyzed sensor sample and touches the
// device's last-seen timestamp.
func (db *DB) RecordReading(deviceID, shelfID string, distanceCM float64, occupied bool, fillPercent float64) error {
	occupiedInt := 0
	if occupied {
		occupiedInt = 1
	}
	_, err := db.Exec(`
		INSERT INTO sensor_data (device_id, shelf_id, distance_cm, occupied, fill_percent, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		deviceID, shelfID, distanceCM, occupiedInt, fillPercent, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record reading for %s: %w", shelfID, err)
	}
	return db.UpdateDeviceLastSeen(deviceID)
}

// PruneReadings deletes sensor rows older than keepDays while always
// retaining the newest keepMin rows regardless of age, so a quiet shelf
// keeps some history. Returns the number of rows deleted.
func (db *DB) PruneReadings(keepDays, keepMin int) (int64, error) {
	if keepDays <= 0 {
		return 0, fmt.Errorf("keep days must be positive, got %d", keepDays)
	}
	if keepMin < 0 {
		keepMin = 0
	}
	cutoff := time.Now().AddDate(0, 0, -keepDays).Unix()
	res, err := db.Exec(`
		DELETE FROM sensor_data
		WHERE timestamp < ?
		  AND id NOT IN (
			SELECT id FROM sensor_data
			ORDER BY timestamp DESC, id DESC
			LIMIT ?)`,
		cutoff, keepMin)
	if err != nil {
		return 0, fmt.Errorf("failed to prune readings: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned readings: %w", err)
	}
	return deleted, nil
}

// ReadingFilter narrows a LatestReadings query. Zero values mean no filter;
// a zero Limit defaults to 10, matching the console's recent-data view.
type ReadingFilter struct {
	ShelfID  string
	DeviceID string
	Limit    int
}

// LatestReadings returns the most recent readings, newest first, joined
// with the owning shelf's product context.
func (db *DB) LatestReadings(f ReadingFilter) ([]Reading, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT sd.id, sd.device_id, sd.shelf_id, sd.distance_cm, sd.occupied,
		       sd.fill_percent, sd.timestamp, s.product_name, s.stock_quantity
		FROM sensor_data sd
		LEFT JOIN shelves s ON sd.shelf_id = s.shelf_id`
	args := []any{}
	switch {
	case f.ShelfID != "":
		query += ` WHERE sd.shelf_id = ?`
		args = append(args, f.ShelfID)
	case f.DeviceID != "":
		query += ` WHERE sd.device_id = ?`
		args = append(args, f.DeviceID)
	}
	query += ` ORDER BY sd.timestamp DESC, sd.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []Reading
	for rows.Next() {
		var r Reading
		var occupied int
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.ShelfID, &r.DistanceCM,
			&occupied, &r.FillPercent, &r.Timestamp, &r.ProductName,
			&r.StockQuantity); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.Occupied = occupied == 1
		readings = append(readings, r)
	}
	return readings, rows.Err()
}
