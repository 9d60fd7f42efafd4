package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// ScrapeHandler serves POST /api/scrape: a synchronous fetch-now run.
type ScrapeHandler struct {
	tracking interfaces.TrackingService
	logger   arbor.ILogger
}

func NewScrapeHandler(trackingService interfaces.TrackingService, logger arbor.ILogger) *ScrapeHandler {
	return &ScrapeHandler{
		tracking: trackingService,
		logger:   logger,
	}
}

// FetchNowHandler runs the executor inline and reports the outcome. Scrape
// failures are a 200 with the outcome in the body: the request itself
// worked, the target page did not cooperate.
func (h *ScrapeHandler) FetchNowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req interfaces.FetchNowRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.tracking.FetchNow(r.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "invalid fetch request") {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteDomainError(w, err)
		return
	}

	response := map[string]interface{}{
		"status": result.Outcome.Status,
	}
	if result.Outcome.IsSuccess() {
		response["signal"] = result.Outcome.Signal
		if result.Point != nil {
			response["point"] = result.Point
		}
	} else {
		response["kind"] = result.Outcome.Kind
		response["detail"] = result.Outcome.Detail
	}

	status := http.StatusOK
	if result.Outcome.Kind == models.FailKindDomainBlocked {
		status = http.StatusUnprocessableEntity
	}
	WriteJSON(w, status, response)
}
