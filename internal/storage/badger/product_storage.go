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

// ProductStorage implements the ProductStorage interface for Badger
type ProductStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProductStorage creates a new ProductStorage instance
func NewProductStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProductStorage {
	return &ProductStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ProductStorage) SaveProduct(ctx context.Context, product *models.Product) error {
	if product.ID == "" {
		return fmt.Errorf("product ID is required")
	}

	now := time.Now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	if err := s.db.Store().Upsert(product.ID, product); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *ProductStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := s.db.Store().Get(id, &product); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("%w: product %s", models.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

func (s *ProductStorage) ListProducts(ctx context.Context, limit, offset int) ([]*models.Product, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var products []models.Product
	if err := s.db.Store().Find(&products, query); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	result := make([]*models.Product, len(products))
	for i := range products {
		result[i] = &products[i]
	}
	return result, nil
}

func (s *ProductStorage) DeleteProduct(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Product{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

func (s *ProductStorage) CountProducts(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.Product{}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return int(count), nil
}
