package badger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// TrackerStorage implements the TrackerStorage interface for Badger
type TrackerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	// createMu serializes CreateOrGet so the (product, canonical URL)
	// uniqueness check and the insert cannot interleave.
	createMu sync.Mutex
}

// NewTrackerStorage creates a new TrackerStorage instance
func NewTrackerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.TrackerStorage {
	return &TrackerStorage{
		db:     db,
		logger: logger,
	}
}

func (s *TrackerStorage) CreateOrGet(ctx context.Context, tracker *models.CompetitorTracker) (*models.CompetitorTracker, bool, error) {
	if tracker.ID == "" {
		return nil, false, fmt.Errorf("tracker ID is required")
	}
	if tracker.CanonicalURL == "" {
		return nil, false, fmt.Errorf("tracker canonical URL is required")
	}

	s.createMu.Lock()
	defer s.createMu.Unlock()

	var existing []models.CompetitorTracker
	err := s.db.Store().Find(&existing,
		badgerhold.Where("ProductID").Eq(tracker.ProductID).
			And("CanonicalURL").Eq(tracker.CanonicalURL).
			And("Active").Eq(true))
	if err != nil {
		return nil, false, fmt.Errorf("failed to check for existing tracker: %w", err)
	}
	if len(existing) > 0 {
		s.logger.Debug().
			Str("tracker_id", existing[0].ID).
			Str("canonical_url", tracker.CanonicalURL).
			Msg("Tracker already exists for product and URL")
		return &existing[0], false, nil
	}

	now := time.Now()
	tracker.CreatedAt = now
	tracker.UpdatedAt = now
	if tracker.LastStatus == "" {
		tracker.LastStatus = models.TrackerStatusNew
	}

	if err := s.db.Store().Insert(tracker.ID, tracker); err != nil {
		return nil, false, fmt.Errorf("failed to create tracker: %w", err)
	}
	return tracker, true, nil
}

func (s *TrackerStorage) GetTracker(ctx context.Context, id string) (*models.CompetitorTracker, error) {
	var tracker models.CompetitorTracker
	if err := s.db.Store().Get(id, &tracker); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: tracker %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get tracker: %w", err)
	}
	return &tracker, nil
}

func (s *TrackerStorage) ListTrackers(ctx context.Context, limit, offset int) ([]*models.CompetitorTracker, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var trackers []models.CompetitorTracker
	if err := s.db.Store().Find(&trackers, query); err != nil {
		return nil, fmt.Errorf("failed to list trackers: %w", err)
	}
	return trackerPtrs(trackers), nil
}

func (s *TrackerStorage) ListByProduct(ctx context.Context, productID string) ([]*models.CompetitorTracker, error) {
	var trackers []models.CompetitorTracker
	if err := s.db.Store().Find(&trackers, badgerhold.Where("ProductID").Eq(productID).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("failed to list trackers by product: %w", err)
	}
	return trackerPtrs(trackers), nil
}

// ListDue filters in code because the due test depends on each tracker's own
// interval. Oldest last-checked first; never-checked trackers lead.
func (s *TrackerStorage) ListDue(ctx context.Context, now time.Time, defaultInterval time.Duration, limit int) ([]*models.CompetitorTracker, error) {
	var trackers []models.CompetitorTracker
	err := s.db.Store().Find(&trackers,
		badgerhold.Where("Active").Eq(true).
			And("LastStatus").Ne(models.TrackerStatusDead))
	if err != nil {
		return nil, fmt.Errorf("failed to query due trackers: %w", err)
	}

	var due []*models.CompetitorTracker
	for i := range trackers {
		t := &trackers[i]
		if !t.Due(now, defaultInterval) {
			continue
		}
		if t.InFlight(now) {
			continue
		}
		due = append(due, t)
	}

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].LastCheckedAt, due[j].LastCheckedAt
		switch {
		case a == nil && b == nil:
			return due[i].ID < due[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// UpdateTracker commits tracker with a compare-and-set on Version. The
// stored version must match the caller's copy; on success the version is
// bumped.
func (s *TrackerStorage) UpdateTracker(ctx context.Context, tracker *models.CompetitorTracker) error {
	if tracker.ID == "" {
		return fmt.Errorf("tracker ID is required")
	}

	// The closure may be retried on transaction conflict, so the caller's
	// struct is only written back after a successful commit.
	var committed models.CompetitorTracker
	err := s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var current models.CompetitorTracker
		if err := s.db.Store().TxGet(tx, tracker.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: tracker %s", models.ErrNotFound, tracker.ID)
			}
			return err
		}
		if current.Version != tracker.Version {
			return fmt.Errorf("%w: tracker %s at version %d, caller has %d",
				models.ErrVersionConflict, tracker.ID, current.Version, tracker.Version)
		}
		committed = *tracker
		committed.Version = tracker.Version + 1
		committed.UpdatedAt = time.Now()
		return s.db.Store().TxUpdate(tx, tracker.ID, &committed)
	})
	if err != nil {
		return err
	}
	*tracker = committed
	return nil
}

func (s *TrackerStorage) MarkInFlight(ctx context.Context, id string, until time.Time) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var tracker models.CompetitorTracker
		if err := s.db.Store().TxGet(tx, id, &tracker); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: tracker %s", models.ErrNotFound, id)
			}
			return err
		}
		tracker.InFlightUntil = &until
		tracker.Version++
		tracker.UpdatedAt = time.Now()
		return s.db.Store().TxUpdate(tx, id, &tracker)
	})
}

// Revive clears DEAD status so the scheduler picks the tracker up again.
func (s *TrackerStorage) Revive(ctx context.Context, id string) error {
	return s.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var tracker models.CompetitorTracker
		if err := s.db.Store().TxGet(tx, id, &tracker); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: tracker %s", models.ErrNotFound, id)
			}
			return err
		}
		tracker.LastStatus = models.TrackerStatusNew
		tracker.FailureStreak = 0
		tracker.InFlightUntil = nil
		tracker.Version++
		tracker.UpdatedAt = time.Now()
		return s.db.Store().TxUpdate(tx, id, &tracker)
	})
}

func (s *TrackerStorage) DeleteTracker(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.CompetitorTracker{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete tracker: %w", err)
	}
	return nil
}

func (s *TrackerStorage) CountByStatus(ctx context.Context) (map[models.TrackerStatus]int, error) {
	var trackers []models.CompetitorTracker
	if err := s.db.Store().Find(&trackers, nil); err != nil {
		return nil, fmt.Errorf("failed to count trackers: %w", err)
	}

	counts := make(map[models.TrackerStatus]int)
	for i := range trackers {
		counts[trackers[i].LastStatus]++
	}
	return counts, nil
}

func trackerPtrs(trackers []models.CompetitorTracker) []*models.CompetitorTracker {
	result := make([]*models.CompetitorTracker, len(trackers))
	for i := range trackers {
		result[i] = &trackers[i]
	}
	return result
}
