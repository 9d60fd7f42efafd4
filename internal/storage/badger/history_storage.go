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

// HistoryStorage implements the append-only HistoryStorage interface for
// Badger. Price points are never updated in place.
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *HistoryStorage) Append(ctx context.Context, point *models.PricePoint) error {
	if point.ID == "" {
		return fmt.Errorf("price point ID is required")
	}
	if point.CapturedAt.IsZero() {
		point.CapturedAt = time.Now()
	}

	if err := s.db.Store().Insert(point.ID, point); err != nil {
		return fmt.Errorf("failed to append price point: %w", err)
	}
	return nil
}

func (s *HistoryStorage) RangeByTracker(ctx context.Context, trackerID string, from, to time.Time) ([]*models.PricePoint, error) {
	var points []models.PricePoint
	err := s.db.Store().Find(&points,
		badgerhold.Where("TrackerID").Eq(trackerID).
			And("CapturedAt").Ge(from).
			And("CapturedAt").Le(to).
			SortBy("CapturedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to range price points: %w", err)
	}
	return pointPtrs(points), nil
}

func (s *HistoryStorage) Latest(ctx context.Context, trackerID string) (*models.PricePoint, error) {
	var points []models.PricePoint
	err := s.db.Store().Find(&points,
		badgerhold.Where("TrackerID").Eq(trackerID).
			SortBy("CapturedAt").Reverse().Limit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price point: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no price points for tracker %s", models.ErrNotFound, trackerID)
	}
	return &points[0], nil
}

func (s *HistoryStorage) HistoryForProduct(ctx context.Context, productID string, days int) ([]*models.PricePoint, error) {
	if days <= 0 {
		days = 14
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var points []models.PricePoint
	err := s.db.Store().Find(&points,
		badgerhold.Where("ProductID").Eq(productID).
			And("CapturedAt").Ge(cutoff).
			SortBy("CapturedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to get product history: %w", err)
	}
	return pointPtrs(points), nil
}

func (s *HistoryStorage) CountPoints(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.PricePoint{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count price points: %w", err)
	}
	return int(count), nil
}

// Compact removes points captured before the cutoff. Retention is operator
// driven; nothing in the pipeline calls this.
func (s *HistoryStorage) Compact(ctx context.Context, before time.Time) (int, error) {
	query := badgerhold.Where("CapturedAt").Lt(before)

	count, err := s.db.Store().Count(&models.PricePoint{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count compactable points: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.PricePoint{}, query); err != nil {
		return 0, fmt.Errorf("failed to compact price points: %w", err)
	}

	s.logger.Info().
		Int("removed", int(count)).
		Str("before", before.Format(time.RFC3339)).
		Msg("Compacted price history")
	return int(count), nil
}

func pointPtrs(points []models.PricePoint) []*models.PricePoint {
	result := make([]*models.PricePoint, len(points))
	for i := range points {
		result[i] = &points[i]
	}
	return result
}
