// -----------------------------------------------------------------------
// Last Modified: Tuesday, 11th August 2026 2:41:18 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/pricewatch/internal/models"
)

// ProductStorage - interface for catalog product persistence
type ProductStorage interface {
	SaveProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	CountProducts(ctx context.Context) (int, error)
}

// TrackerStorage - interface for competitor tracker persistence
type TrackerStorage interface {
	// CreateOrGet enforces the (product_id, canonical_url) uniqueness
	// invariant: when an active tracker already exists it is returned with
	// created=false and the candidate is discarded.
	CreateOrGet(ctx context.Context, tracker *models.CompetitorTracker) (*models.CompetitorTracker, bool, error)
	GetTracker(ctx context.Context, id string) (*models.CompetitorTracker, error)
	ListTrackers(ctx context.Context, limit, offset int) ([]*models.CompetitorTracker, error)
	ListByProduct(ctx context.Context, productID string) ([]*models.CompetitorTracker, error)

	// ListDue returns active, non-dead trackers whose interval has elapsed
	// (or that were never checked), excluding those with a live in-flight
	// marker. Results are capped at limit.
	ListDue(ctx context.Context, now time.Time, defaultInterval time.Duration, limit int) ([]*models.CompetitorTracker, error)

	// UpdateTracker is a compare-and-set on tracker.Version; it fails with
	// ErrVersionConflict when another writer got there first.
	UpdateTracker(ctx context.Context, tracker *models.CompetitorTracker) error

	// MarkInFlight stamps the short-TTL marker consulted by the scheduler.
	MarkInFlight(ctx context.Context, id string, until time.Time) error

	// Revive clears DEAD status and resets the failure streak.
	Revive(ctx context.Context, id string) error

	DeleteTracker(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (map[models.TrackerStatus]int, error)
}

// HistoryStorage - append-only price history persistence.
// The public surface has no update or delete; Compact is the explicit
// retention hook and is never called by the pipeline itself.
type HistoryStorage interface {
	Append(ctx context.Context, point *models.PricePoint) error
	RangeByTracker(ctx context.Context, trackerID string, from, to time.Time) ([]*models.PricePoint, error)
	Latest(ctx context.Context, trackerID string) (*models.PricePoint, error)
	HistoryForProduct(ctx context.Context, productID string, days int) ([]*models.PricePoint, error)
	CountPoints(ctx context.Context) (int, error)
	Compact(ctx context.Context, before time.Time) (int, error)
}

// RuleStorage - interface for pricing rule persistence
type RuleStorage interface {
	SaveRule(ctx context.Context, rule *models.PricingRule) error
	GetRule(ctx context.Context, id string) (*models.PricingRule, error)
	ListRules(ctx context.Context, limit, offset int) ([]*models.PricingRule, error)
	ListActiveRules(ctx context.Context) ([]*models.PricingRule, error)
	DeleteRule(ctx context.Context, id string) error
}

// ExecutionStorage - append-only scrape attempt audit log
type ExecutionStorage interface {
	RecordExecution(ctx context.Context, exec *models.ScrapeExecution) error
	ListExecutions(ctx context.Context, trackerID string, limit int) ([]*models.ScrapeExecution, error)
	CountExecutions(ctx context.Context) (int, error)
}

// StorageManager - composite interface for all storage operations
type StorageManager interface {
	ProductStorage() ProductStorage
	TrackerStorage() TrackerStorage
	HistoryStorage() HistoryStorage
	RuleStorage() RuleStorage
	ExecutionStorage() ExecutionStorage

	// CommitObservation appends a price point and updates its tracker in one
	// transaction so history and tracker state never diverge. The tracker
	// write is a compare-and-set on Version, as in UpdateTracker.
	CommitObservation(ctx context.Context, point *models.PricePoint, tracker *models.CompetitorTracker) error

	Close() error
}
