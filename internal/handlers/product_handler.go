package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// ProductHandler serves the catalog product endpoints.
type ProductHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewProductHandler(storage interfaces.StorageManager, logger arbor.ILogger) *ProductHandler {
	return &ProductHandler{
		storage: storage,
		logger:  logger,
	}
}

// ListHandler handles GET /api/products.
func (h *ProductHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := GetPaginationParams(r)
	products, err := h.storage.ProductStorage().ListProducts(r.Context(), limit, offset)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"products": products,
		"count":    len(products),
		"limit":    limit,
		"offset":   offset,
	})
}

// CreateHandler handles POST /api/products.
func (h *ProductHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var product models.Product
	if !DecodeJSON(w, r, &product) {
		return
	}

	if product.ID == "" {
		product.ID = common.NewProductID()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	if err := product.Validate(); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.storage.ProductStorage().SaveProduct(r.Context(), &product); err != nil {
		WriteDomainError(w, err)
		return
	}

	h.logger.Info().Str("product_id", product.ID).Str("name", product.Name).Msg("Product saved")
	WriteJSON(w, http.StatusCreated, &product)
}

// GetHandler handles GET /api/products/{id}.
func (h *ProductHandler) GetHandler(w http.ResponseWriter, r *http.Request, id string) {
	product, err := h.storage.ProductStorage().GetProduct(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, product)
}
