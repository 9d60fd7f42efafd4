package models

import (
	"fmt"
	"time"
)

// PriceSource records which fetch tier produced a price.
type PriceSource string

const (
	PriceSourceHTTP    PriceSource = "http"
	PriceSourceBrowser PriceSource = "browser"
)

// PriceSignal is the transient result of one successful extraction.
// It lives only for the duration of a single worker invocation; the durable
// record is the PricePoint the worker appends from it.
type PriceSignal struct {
	Price         float64     `json:"price"`
	Currency      string      `json:"currency"`
	Title         string      `json:"title,omitempty"`
	InStock       *bool       `json:"in_stock,omitempty"`
	ExtractedFrom PriceSource `json:"extracted_from"`
	AdapterID     string      `json:"adapter_id"`
	Confidence    float64     `json:"confidence"` // 1.0 structured data, 0.7 meta tags, 0.4 heuristic
}

// PricePoint is one immutable observation of a competitor price.
// The history store appends these and never updates or deletes them.
type PricePoint struct {
	ID             string      `json:"id"` // pp_{uuid}
	ProductID      string      `json:"product_id"`
	TrackerID      string      `json:"tracker_id"`
	CompetitorName string      `json:"competitor_name"`
	Price          float64     `json:"price"`
	Currency       string      `json:"currency"`
	CapturedAt     time.Time   `json:"captured_at"`
	Source         PriceSource `json:"source"`
	AdapterID      string      `json:"adapter_id"`
}

// Validate checks the invariants the history store relies on.
func (p *PricePoint) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("price point ID cannot be empty")
	}
	if p.ProductID == "" {
		return fmt.Errorf("price point product_id cannot be empty")
	}
	if p.TrackerID == "" {
		return fmt.Errorf("price point tracker_id cannot be empty")
	}
	if p.Price <= 0 {
		return fmt.Errorf("price point price must be positive")
	}
	if p.CapturedAt.IsZero() {
		return fmt.Errorf("price point captured_at cannot be zero")
	}
	return nil
}
