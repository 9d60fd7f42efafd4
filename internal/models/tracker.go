package models

import (
	"fmt"
	"time"
)

// TrackerStatus is the last observed state of a tracked competitor URL.
type TrackerStatus string

const (
	TrackerStatusNew              TrackerStatus = "new"
	TrackerStatusOK               TrackerStatus = "ok"
	TrackerStatusExtractionFailed TrackerStatus = "extraction_failed"
	TrackerStatusNetworkError     TrackerStatus = "network_error"
	TrackerStatusBlocked          TrackerStatus = "blocked"
	TrackerStatusDead             TrackerStatus = "dead"
)

// CompetitorTracker links one product to one canonical competitor URL.
//
// Uniqueness: at most one active tracker exists per (ProductID, CanonicalURL).
// CreateOrGet on the tracker store enforces this and returns the existing row
// instead of erroring on duplicates.
//
// Version guards concurrent updates: the worker pool and the API both write
// trackers, and every update is a compare-and-set on Version.
type CompetitorTracker struct {
	ID             string        `json:"id"` // trk_{uuid}
	ProductID      string        `json:"product_id"`
	CompetitorName string        `json:"competitor_name"`
	RawURL         string        `json:"raw_url"`       // as supplied by the caller
	CanonicalURL   string        `json:"canonical_url"` // dedupe key, see scraper.CanonicalizeURL
	Domain         string        `json:"domain"`
	Active         bool          `json:"active"`

	LastPrice      *float64      `json:"last_price,omitempty"`
	LastCurrency   string        `json:"last_currency,omitempty"`
	LastCheckedAt  *time.Time    `json:"last_checked_at,omitempty"`
	LastStatus     TrackerStatus `json:"last_status"`
	FailureStreak  int           `json:"failure_streak"` // consecutive failures, reset to 0 on success

	// IntervalSeconds overrides the deployment-wide scrape interval when > 0.
	IntervalSeconds int `json:"interval_seconds,omitempty"`

	// InFlightUntil is a short-TTL marker stamped when a job is enqueued for
	// this tracker. The scheduler skips trackers whose marker has not expired,
	// which keeps it from enqueuing two concurrent jobs for the same URL.
	InFlightUntil *time.Time `json:"in_flight_until,omitempty"`

	Version   uint64    `json:"version"` // CAS counter, bumped on every write
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the invariants the stores rely on.
func (t *CompetitorTracker) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("tracker ID cannot be empty")
	}
	if t.ProductID == "" {
		return fmt.Errorf("tracker product_id cannot be empty")
	}
	if t.CanonicalURL == "" {
		return fmt.Errorf("tracker canonical_url cannot be empty")
	}
	if t.FailureStreak < 0 {
		return fmt.Errorf("tracker failure_streak cannot be negative")
	}
	return nil
}

// EffectiveInterval returns the scrape interval for this tracker, falling
// back to the deployment default when no per-tracker override is set.
func (t *CompetitorTracker) EffectiveInterval(defaultInterval time.Duration) time.Duration {
	if t.IntervalSeconds > 0 {
		return time.Duration(t.IntervalSeconds) * time.Second
	}
	return defaultInterval
}

// Due reports whether the tracker should be scraped at now.
// Never-checked trackers are always due.
func (t *CompetitorTracker) Due(now time.Time, defaultInterval time.Duration) bool {
	if t.LastCheckedAt == nil {
		return true
	}
	return !t.LastCheckedAt.Add(t.EffectiveInterval(defaultInterval)).After(now)
}

// InFlight reports whether an enqueued job for this tracker may still be live.
func (t *CompetitorTracker) InFlight(now time.Time) bool {
	return t.InFlightUntil != nil && t.InFlightUntil.After(now)
}
