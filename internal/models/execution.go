package models

import "time"

// ScrapeExecution is one immutable audit row per worker attempt, successful
// or not. The pipeline writes these for observability; nothing reads them on
// the hot path.
type ScrapeExecution struct {
	ID         string        `json:"id"` // exec_{uuid}
	JobID      string        `json:"job_id"`
	TrackerID  string        `json:"tracker_id,omitempty"`
	ProductID  string        `json:"product_id,omitempty"`
	URL        string        `json:"url"`
	Domain     string        `json:"domain"`
	Status     OutcomeStatus `json:"status"`
	Kind       FailKind      `json:"kind,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Source     PriceSource   `json:"source,omitempty"` // fetch tier that produced the signal
	AdapterID  string        `json:"adapter_id,omitempty"`
	Price      *float64      `json:"price,omitempty"`
	Currency   string        `json:"currency,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
	Attempt    int           `json:"attempt"`
	UsedBrowser bool         `json:"used_browser"`
	LatencyMS  int64         `json:"latency_ms"`
	CreatedAt  time.Time     `json:"created_at"`
}
