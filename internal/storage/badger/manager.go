package badger

import (
	"context"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db        *BadgerDB
	product   interfaces.ProductStorage
	tracker   interfaces.TrackerStorage
	history   interfaces.HistoryStorage
	rule      interfaces.RuleStorage
	execution interfaces.ExecutionStorage
	logger    arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		product:   NewProductStorage(db, logger),
		tracker:   NewTrackerStorage(db, logger),
		history:   NewHistoryStorage(db, logger),
		rule:      NewRuleStorage(db, logger),
		execution: NewExecutionStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// ProductStorage returns the Product storage interface
func (m *Manager) ProductStorage() interfaces.ProductStorage {
	return m.product
}

// TrackerStorage returns the Tracker storage interface
func (m *Manager) TrackerStorage() interfaces.TrackerStorage {
	return m.tracker
}

// HistoryStorage returns the History storage interface
func (m *Manager) HistoryStorage() interfaces.HistoryStorage {
	return m.history
}

// RuleStorage returns the Rule storage interface
func (m *Manager) RuleStorage() interfaces.RuleStorage {
	return m.rule
}

// ExecutionStorage returns the Execution storage interface
func (m *Manager) ExecutionStorage() interfaces.ExecutionStorage {
	return m.execution
}

// CommitObservation writes a price point and its tracker update in a single
// transaction. The tracker write is a compare-and-set on Version so a
// concurrent manual update cannot be silently overwritten; the closure may
// be retried on conflict, so the caller's tracker is only updated after a
// successful commit.
func (m *Manager) CommitObservation(ctx context.Context, point *models.PricePoint, tracker *models.CompetitorTracker) error {
	if point.ID == "" {
		return fmt.Errorf("price point ID is required")
	}
	if tracker.ID == "" {
		return fmt.Errorf("tracker ID is required")
	}
	if point.CapturedAt.IsZero() {
		point.CapturedAt = time.Now()
	}

	var committed models.CompetitorTracker
	err := m.db.Store().Badger().Update(func(tx *badgerdb.Txn) error {
		var current models.CompetitorTracker
		if err := m.db.Store().TxGet(tx, tracker.ID, &current); err != nil {
			if err == badgerhold.ErrNotFound {
				return fmt.Errorf("%w: tracker %s", models.ErrNotFound, tracker.ID)
			}
			return err
		}
		if current.Version != tracker.Version {
			return fmt.Errorf("%w: tracker %s at version %d, caller has %d",
				models.ErrVersionConflict, tracker.ID, current.Version, tracker.Version)
		}

		if err := m.db.Store().TxUpsert(tx, point.ID, point); err != nil {
			return fmt.Errorf("failed to write price point: %w", err)
		}

		committed = *tracker
		committed.Version = tracker.Version + 1
		committed.UpdatedAt = time.Now()
		return m.db.Store().TxUpdate(tx, tracker.ID, &committed)
	})
	if err != nil {
		return err
	}
	*tracker = committed

	m.logger.Debug().
		Str("tracker_id", tracker.ID).
		Str("point_id", point.ID).
		Float64("price", point.Price).
		Msg("Committed price observation")
	return nil
}

// DB returns the underlying database connection
func (m *Manager) DB() *badgerdb.DB {
	if m.db != nil {
		return m.db.Store().Badger()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
