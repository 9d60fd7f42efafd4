package interfaces

import (
	"context"

	"github.com/ternarybob/pricewatch/internal/models"
)

// TrackRequest asks to watch one competitor URL for a product.
type TrackRequest struct {
	ProductID       string `json:"product_id" validate:"required"`
	CompetitorName  string `json:"competitor_name" validate:"required"`
	RawURL          string `json:"raw_url" validate:"required"`
	IntervalSeconds int    `json:"interval_seconds,omitempty" validate:"gte=0"`
	EnqueueScrape   bool   `json:"enqueue_scrape,omitempty"`
}

// FetchNowRequest runs one synchronous scrape outside the queue.
type FetchNowRequest struct {
	URL                  string `json:"url" validate:"required"`
	ProductID            string `json:"product_id" validate:"required"`
	TrackerID            string `json:"tracker_id,omitempty"`
	AllowBrowserFallback *bool  `json:"allow_browser_fallback,omitempty"`
}

// FetchNowResult carries the outcome and, when the scrape succeeded against
// a known tracker, the persisted observation.
type FetchNowResult struct {
	Outcome models.ScrapeOutcome `json:"outcome"`
	Point   *models.PricePoint   `json:"point,omitempty"`
}

// TrackingService owns the tracker-facing operations behind the API:
// create-or-get with canonicalization and allowlist gating, on-demand
// enqueueing, and synchronous fetch-now runs.
type TrackingService interface {
	// TrackCompetitor canonicalizes, deduplicates, and creates or returns
	// the tracker. created=false means an active tracker already existed.
	TrackCompetitor(ctx context.Context, req *TrackRequest) (*models.CompetitorTracker, bool, error)

	// EnqueueScrape enqueues one manual job for the tracker, bypassing the
	// interval check but respecting the in-flight marker.
	EnqueueScrape(ctx context.Context, trackerID string) (*models.ScrapeJob, error)

	// FetchNow runs the executor synchronously. On success against a known
	// tracker it appends a price point and updates the tracker; failures
	// mutate nothing.
	FetchNow(ctx context.Context, req *FetchNowRequest) (*FetchNowResult, error)
}
