package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/services/tracking"
)

// TrackerHandler serves the competitor tracker endpoints.
type TrackerHandler struct {
	tracking interfaces.TrackingService
	storage  interfaces.StorageManager
	logger   arbor.ILogger
}

func NewTrackerHandler(trackingService interfaces.TrackingService, storage interfaces.StorageManager, logger arbor.ILogger) *TrackerHandler {
	return &TrackerHandler{
		tracking: trackingService,
		storage:  storage,
		logger:   logger,
	}
}

// CreateHandler handles POST /api/trackers. Returns 201 on create and 200
// with the existing tracker when the canonical URL is already tracked.
func (h *TrackerHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req interfaces.TrackRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	tracker, created, err := h.tracking.TrackCompetitor(r.Context(), &req)
	if err != nil {
		if strings.Contains(err.Error(), "invalid track request") {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteDomainError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	WriteJSON(w, status, map[string]interface{}{
		"tracker": tracker,
		"created": created,
	})
}

// ListHandler handles GET /api/trackers, optionally filtered by product_id.
func (h *TrackerHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if productID := r.URL.Query().Get("product_id"); productID != "" {
		trackers, err := h.storage.TrackerStorage().ListByProduct(ctx, productID)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"trackers": trackers,
			"count":    len(trackers),
		})
		return
	}

	limit, offset := GetPaginationParams(r)
	trackers, err := h.storage.TrackerStorage().ListTrackers(ctx, limit, offset)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"trackers": trackers,
		"count":    len(trackers),
		"limit":    limit,
		"offset":   offset,
	})
}

// GetHandler handles GET /api/trackers/{id}.
func (h *TrackerHandler) GetHandler(w http.ResponseWriter, r *http.Request, id string) {
	tracker, err := h.storage.TrackerStorage().GetTracker(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tracker)
}

// DeleteHandler handles DELETE /api/trackers/{id}.
func (h *TrackerHandler) DeleteHandler(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.storage.TrackerStorage().DeleteTracker(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	h.logger.Info().Str("tracker_id", id).Msg("Tracker deleted")
	WriteSuccess(w, "tracker deleted")
}

// ScrapeHandler handles POST /api/trackers/{id}/scrape: enqueue one manual
// job and return its handle.
func (h *TrackerHandler) ScrapeHandler(w http.ResponseWriter, r *http.Request, id string) {
	job, err := h.tracking.EnqueueScrape(r.Context(), id)
	if err != nil {
		if errors.Is(err, tracking.ErrInFlight) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     job.ID,
		"tracker_id": job.TrackerID,
		"origin":     job.Origin,
	})
}

// ReviveHandler handles POST /api/trackers/{id}/revive: clear DEAD status
// and reset the failure streak.
func (h *TrackerHandler) ReviveHandler(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.storage.TrackerStorage().Revive(r.Context(), id); err != nil {
		WriteDomainError(w, err)
		return
	}
	tracker, err := h.storage.TrackerStorage().GetTracker(r.Context(), id)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	h.logger.Info().Str("tracker_id", id).Msg("Tracker revived")
	WriteJSON(w, http.StatusOK, tracker)
}
