package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
)

const defaultHistoryDays = 14

// HistoryHandler serves GET /api/history.
type HistoryHandler struct {
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

func NewHistoryHandler(storage interfaces.StorageManager, logger arbor.ILogger) *HistoryHandler {
	return &HistoryHandler{
		storage: storage,
		logger:  logger,
	}
}

// GetHandler returns price points for a product or a single tracker, limited
// to the requested number of days (default 14).
func (h *HistoryHandler) GetHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	days := defaultHistoryDays
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		d, err := strconv.Atoi(daysStr)
		if err != nil || d <= 0 {
			WriteError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = d
	}

	productID := r.URL.Query().Get("product_id")
	trackerID := r.URL.Query().Get("tracker_id")

	switch {
	case productID != "" && trackerID != "":
		WriteError(w, http.StatusBadRequest, "provide product_id or tracker_id, not both")
	case productID != "":
		points, err := h.storage.HistoryStorage().HistoryForProduct(r.Context(), productID, days)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"points": points,
			"count":  len(points),
			"days":   days,
		})
	case trackerID != "":
		to := time.Now().UTC()
		from := to.AddDate(0, 0, -days)
		points, err := h.storage.HistoryStorage().RangeByTracker(r.Context(), trackerID, from, to)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"points": points,
			"count":  len(points),
			"days":   days,
		})
	default:
		WriteError(w, http.StatusBadRequest, "product_id or tracker_id is required")
	}
}
