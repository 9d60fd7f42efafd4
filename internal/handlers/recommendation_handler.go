package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
)

// RecommendationHandler serves GET /api/recommendations/{product_id}.
type RecommendationHandler struct {
	pricing interfaces.PricingService
	logger  arbor.ILogger
}

func NewRecommendationHandler(pricingService interfaces.PricingService, logger arbor.ILogger) *RecommendationHandler {
	return &RecommendationHandler{
		pricing: pricingService,
		logger:  logger,
	}
}

// GetHandler runs the rule engine for one product.
func (h *RecommendationHandler) GetHandler(w http.ResponseWriter, r *http.Request, productID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	rec, err := h.pricing.Recommend(r.Context(), productID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}
