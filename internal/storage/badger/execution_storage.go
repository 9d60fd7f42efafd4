package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// ExecutionStorage implements the append-only scrape audit log for Badger
type ExecutionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewExecutionStorage creates a new ExecutionStorage instance
func NewExecutionStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ExecutionStorage {
	return &ExecutionStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ExecutionStorage) RecordExecution(ctx context.Context, exec *models.ScrapeExecution) error {
	if exec.ID == "" {
		return fmt.Errorf("execution ID is required")
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now()
	}

	if err := s.db.Store().Insert(exec.ID, exec); err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

func (s *ExecutionStorage) ListExecutions(ctx context.Context, trackerID string, limit int) ([]*models.ScrapeExecution, error) {
	query := badgerhold.Where("ID").Ne("")
	if trackerID != "" {
		query = badgerhold.Where("TrackerID").Eq(trackerID)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}

	var execs []models.ScrapeExecution
	if err := s.db.Store().Find(&execs, query); err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	result := make([]*models.ScrapeExecution, len(execs))
	for i := range execs {
		result[i] = &execs[i]
	}
	return result, nil
}

func (s *ExecutionStorage) CountExecutions(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.ScrapeExecution{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return int(count), nil
}
