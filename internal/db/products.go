package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Product represents one stocked product type. ProductLength is the depth
// in centimeters one unit takes on a shelf; the analyzer uses it to decide
// occupancy and estimate counts.
type Product struct {
	ProductID     string  `json:"product_id"`
	ProductName   string  `json:"product_name"`
	ProductLength float64 `json:"product_length"`
	Description   *string `json:"description"`
	CreatedAt     int64   `json:"created_at"`
}

// CreateProduct inserts a new product.
func (db *DB) CreateProduct(p *Product) error {
	if p.ProductLength <= 0 {
		return fmt.Errorf("product length must be positive, got %v", p.ProductLength)
	}
	p.CreatedAt = time.Now().Unix()
	_, err := db.Exec(`
		INSERT INTO products (product_id, product_name, product_length, description, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ProductID, p.ProductName, p.ProductLength, p.Description, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create product %s: %w", p.ProductID, err)
	}
	return nil
}

// ListProducts returns all products ordered by ID.
func (db *DB) ListProducts() ([]Product, error) {
	rows, err := db.Query(`
		SELECT product_id, product_name, product_length, description, created_at
		FROM products ORDER BY product_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.ProductLength,
			&p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProduct returns a single product, or nil if it does not exist.
func (db *DB) GetProduct(productID string) (*Product, error) {
	var p Product
	err := db.QueryRow(`
		SELECT product_id, product_name, product_length, description, created_at
		FROM products WHERE product_id = ?`,
		productID).Scan(&p.ProductID, &p.ProductName, &p.ProductLength,
		&p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", productID, err)
	}
	return &p, nil
}

// DeleteProduct removes a product and unbinds it from any shelves that
// carried it.
func (db *DB) DeleteProduct(productID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE shelves
		SET product_id = NULL, product_name = NULL, product_length = NULL, updated_at = ?
		WHERE product_id = ?`,
		time.Now().Unix(), productID); err != nil {
		return fmt.Errorf("failed to unbind product %s: %w", productID, err)
	}

	res, err := tx.Exec(`DELETE FROM products WHERE product_id = ?`, productID)
	if err != nil {
		return fmt.Errorf("failed to delete product %s: %w", productID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product %s not found", productID)
	}

	return tx.Commit()
}
