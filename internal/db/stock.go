package db

import (
	"fmt"
	"time"
)

// StockChangeManual marks a quantity edit made by an operator through the
// console; StockChangeSensor marks an adjustment derived from sensor
// estimates.
const (
	StockChangeManual = "manual"
	StockChangeSensor = "sensor"
)

// StockChange is one audit row recording a stock quantity transition.
type StockChange struct {
	ID             int64  `json:"id"`
	ShelfID        string `json:"shelf_id"`
	ProductID      string `json:"product_id"`
	ChangeType     string `json:"change_type"`
	QuantityBefore int    `json:"quantity_before"`
	QuantityAfter  int    `json:"quantity_after"`
	Timestamp      int64  `json:"timestamp"`
}

// StockSummaryRow aggregates stock per product across shelves.
type StockSummaryRow struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	ProductLength float64 `json:"product_length"`
	ShelfCount    int     `json:"shelf_count"`
	TotalStock    int     `json:"total_stock"`
}

// UpdateStockQuantity sets a shelf's stock level and, when the shelf has a
// bound product, records the transition in the audit table. Both writes
// happen in one transaction.
func (db *DB) UpdateStockQuantity(shelfID string, newQuantity int, changeType string) error {
	if newQuantity < 0 {
		return fmt.Errorf("stock quantity cannot be negative, got %d", newQuantity)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldQuantity int
	var productID *string
	err = tx.QueryRow(`SELECT stock_quantity, product_id FROM shelves WHERE shelf_id = ?`,
		shelfID).Scan(&oldQuantity, &productID)
	if err != nil {
		return fmt.Errorf("shelf %s not found: %w", shelfID, err)
	}

	now := time.Now().Unix()
	if _, err := tx.Exec(`
		UPDATE shelves SET stock_quantity = ?, updated_at = ? WHERE shelf_id = ?`,
		newQuantity, now, shelfID); err != nil {
		return fmt.Errorf("failed to update stock for %s: %w", shelfID, err)
	}

	if productID != nil {
		if _, err := tx.Exec(`
			INSERT INTO stock_changes (shelf_id, product_id, change_type, quantity_before, quantity_after, timestamp)
			VALUES (?, ?, ?, ?, ?, ?)`,
			shelfID, *productID, changeType, oldQuantity, newQuantity, now); err != nil {
			return fmt.Errorf("failed to record stock change for %s: %w", shelfID, err)
		}
	}

	return tx.Commit()
}

// StockChanges returns the most recent audit rows for a shelf.
func (db *DB) StockChanges(shelfID string, limit int) ([]StockChange, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(`
		SELECT id, shelf_id, product_id, change_type, quantity_before, quantity_after, timestamp
		FROM stock_changes WHERE shelf_id = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`,
		shelfID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock changes: %w", err)
	}
	defer rows.Close()

	var changes []StockChange
	for rows.Next() {
		var c StockChange
		if err := rows.Scan(&c.ID, &c.ShelfID, &c.ProductID, &c.ChangeType,
			&c.QuantityBefore, &c.QuantityAfter, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan stock change: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// StockSummary aggregates bound shelves per product.
func (db *DB) StockSummary() ([]StockSummaryRow, error) {
	rows, err := db.Query(`
		SELECT product_id, product_name, product_length,
		       COUNT(*) AS shelf_count, SUM(stock_quantity) AS total_stock
		FROM shelves
		WHERE product_id IS NOT NULL
		GROUP BY product_id
		ORDER BY product_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock summary: %w", err)
	}
	defer rows.Close()

	var summary []StockSummaryRow
	for rows.Next() {
		var s StockSummaryRow
		if err := rows.Scan(&s.ProductID, &s.ProductName, &s.ProductLength,
			&s.ShelfCount, &s.TotalStock); err != nil {
			return nil, fmt.Errorf("failed to scan stock summary: %w", err)
		}
		summary = append(summary, s)
	}
	return summary, rows.Err()
}
