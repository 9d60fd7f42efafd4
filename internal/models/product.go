package models

import (
	"fmt"
	"time"
)

// Product is a catalog entry the pipeline prices against.
// The catalog itself is owned elsewhere; the pipeline reads products and
// never mutates anything except through the seed loader or the products API.
type Product struct {
	ID           string    `json:"id"`                  // prd_{uuid}
	Name         string    `json:"name"`
	SKU          string    `json:"sku,omitempty"`
	Category     string    `json:"category,omitempty"`
	Cost         *float64  `json:"cost,omitempty"`      // unit cost when known, used for margin floor
	CurrentPrice float64   `json:"current_price"`
	Stock        *int      `json:"stock,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks the invariants the stores rely on.
func (p *Product) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("product ID cannot be empty")
	}
	if p.Name == "" {
		return fmt.Errorf("product name cannot be empty")
	}
	if p.CurrentPrice < 0 {
		return fmt.Errorf("product current_price cannot be negative")
	}
	if p.Cost != nil && *p.Cost < 0 {
		return fmt.Errorf("product cost cannot be negative")
	}
	return nil
}
