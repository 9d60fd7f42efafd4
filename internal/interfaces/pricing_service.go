package interfaces

import (
	"context"

	"github.com/ternarybob/pricewatch/internal/models"
)

// PricingService - rule-based price recommendation
type PricingService interface {
	// Recommend evaluates the active rules against the product and its
	// recent competitor history. The result is deterministic for a given
	// (product, rules, history) snapshot.
	Recommend(ctx context.Context, productID string) (*models.Recommendation, error)
}
