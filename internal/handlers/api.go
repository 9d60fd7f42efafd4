package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

// APIHandler serves the system endpoints: version, health, status.
type APIHandler struct {
	storage   interfaces.StorageManager
	queue     interfaces.JobQueue
	scheduler interfaces.SchedulerService
	startedAt time.Time
	logger    arbor.ILogger
}

func NewAPIHandler(storage interfaces.StorageManager, queue interfaces.JobQueue, scheduler interfaces.SchedulerService, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		storage:   storage,
		queue:     queue,
		scheduler: scheduler,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"git_commit": common.GetGitCommit(),
	})
}

// HealthHandler returns health check status. Dead trackers surface here per
// the tracker lifecycle: they no longer get scheduled, so this is where an
// operator notices them.
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	counts, err := h.storage.TrackerStorage().CountByStatus(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"dead_trackers": counts[models.TrackerStatusDead],
	})
}

// StatusHandler returns a fuller operational snapshot: store counts, queue
// depths, and the scheduler's sweep state.
func (h *APIHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	trackerCounts, err := h.storage.TrackerStorage().CountByStatus(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	productCount, err := h.storage.ProductStorage().CountProducts(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	pointCount, err := h.storage.HistoryStorage().CountPoints(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	queueStats, err := h.queue.Stats(ctx)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := map[string]interface{}{
		"uptime":       time.Since(h.startedAt).Round(time.Second).String(),
		"products":     productCount,
		"trackers":     trackerCounts,
		"price_points": pointCount,
		"queue":        queueStats,
	}
	if h.scheduler != nil {
		status["scheduler"] = h.scheduler.Status()
	}

	WriteJSON(w, http.StatusOK, status)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"error":   "Not Found",
		"path":    r.URL.Path,
		"message": "The requested endpoint does not exist",
	})
}
