package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
	"github.com/ternarybob/pricewatch/internal/services/scraper"
)

// casRetries bounds how often a tracker update is replayed after losing a
// version race to the API.
const casRetries = 3

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers           int
	PollInterval      time.Duration
	VisibilityTimeout time.Duration
	// JobTimeout is the end-to-end deadline for one attempt. Keep it below
	// VisibilityTimeout or a slow job can be redelivered while still running.
	JobTimeout time.Duration
}

// WorkerPool drives scrape execution: N workers poll the queue, run the
// executor, and settle each reservation exactly once. Success commits the
// price point and the tracker update atomically; failure updates the tracker
// and hands the job to the retry policy.
type WorkerPool struct {
	config   PoolConfig
	queue    interfaces.JobQueue
	executor interfaces.ScrapeExecutor
	storage  interfaces.StorageManager
	events   interfaces.EventService
	policy   *RetryPolicy
	logger   arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerPool wires the pool. events may be nil; nothing then listens.
func NewWorkerPool(config PoolConfig, queue interfaces.JobQueue, executor interfaces.ScrapeExecutor, storage interfaces.StorageManager, events interfaces.EventService, policy *RetryPolicy, logger arbor.ILogger) *WorkerPool {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		config:   config,
		queue:    queue,
		executor: executor,
		storage:  storage,
		events:   events,
		policy:   policy,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("workers", wp.config.Workers).
		Dur("poll_interval", wp.config.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.config.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop signals workers to exit after their current job and waits for them.
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Info().Msg("Worker pool stopped")
	return nil
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	// Stagger starts so workers do not all hit the queue on the same tick.
	stagger := wp.config.PollInterval / time.Duration(wp.config.Workers) * time.Duration(id)
	select {
	case <-time.After(stagger):
	case <-wp.ctx.Done():
		return
	}

	workerID := fmt.Sprintf("worker-%d", id)
	wp.logger.Debug().Str("worker_id", workerID).Msg("Worker started")

	ticker := time.NewTicker(wp.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().Str("worker_id", workerID).Msg("Worker stopped")
			return
		case <-ticker.C:
			wp.drain(workerID)
		}
	}
}

// drain processes reservations until the queue is empty or shutdown begins,
// so a burst of due jobs is not paced at one per poll tick.
func (wp *WorkerPool) drain(workerID string) {
	for {
		if wp.ctx.Err() != nil {
			return
		}

		res, err := wp.queue.Reserve(wp.ctx, workerID, wp.config.VisibilityTimeout)
		if err != nil {
			if !errors.Is(err, models.ErrNoMessage) && wp.ctx.Err() == nil {
				wp.logger.Warn().Err(err).Str("worker_id", workerID).Msg("Failed to reserve job")
			}
			return
		}

		wp.process(workerID, res)
	}
}

// process runs one reserved job to a terminal queue action. The job context
// is detached from the pool context: shutdown stops reserving, but the job
// in hand runs to its own deadline.
func (wp *WorkerPool) process(workerID string, res *interfaces.Reservation) {
	job := res.Job
	ctx, cancel := context.WithTimeout(context.Background(), wp.config.JobTimeout)
	defer cancel()

	started := time.Now()
	outcome := wp.executor.Execute(ctx, job)
	elapsed := time.Since(started)

	wp.recordExecution(ctx, job, outcome, elapsed)

	if outcome.IsSuccess() {
		wp.settleSuccess(ctx, workerID, job, outcome)
		return
	}
	wp.settleFailure(ctx, workerID, job, outcome)
}

func (wp *WorkerPool) settleSuccess(ctx context.Context, workerID string, job *models.ScrapeJob, outcome models.ScrapeOutcome) {
	signal := outcome.Signal

	tracker, err := wp.storage.TrackerStorage().GetTracker(ctx, job.TrackerID)
	if err != nil {
		// Tracker deleted while the job was queued; the observation has no
		// home, so drop the job.
		wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Tracker gone, dropping job")
		wp.ack(ctx, job.ID)
		return
	}

	point := &models.PricePoint{
		ID:             common.NewPricePointID(),
		ProductID:      job.ProductID,
		TrackerID:      job.TrackerID,
		CompetitorName: tracker.CompetitorName,
		Price:          signal.Price,
		Currency:       signal.Currency,
		CapturedAt:     time.Now(),
		Source:         signal.ExtractedFrom,
		AdapterID:      signal.AdapterID,
	}

	committed := false
	for i := 0; i < casRetries; i++ {
		now := time.Now()
		tracker.LastPrice = &signal.Price
		tracker.LastCurrency = signal.Currency
		tracker.LastCheckedAt = &now
		tracker.LastStatus = models.TrackerStatusOK
		tracker.FailureStreak = 0
		tracker.InFlightUntil = nil

		err = wp.storage.CommitObservation(ctx, point, tracker)
		if err == nil {
			committed = true
			break
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			break
		}
		if tracker, err = wp.storage.TrackerStorage().GetTracker(ctx, job.TrackerID); err != nil {
			break
		}
	}
	if !committed {
		// Storage fault, not a scrape failure: requeue so the observation is
		// retried rather than lost.
		wp.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to commit observation, requeuing")
		wp.nack(ctx, job.ID, wp.policy.Backoff(job.Attempt, wp.policy.MaxBackoff))
		return
	}

	wp.ack(ctx, job.ID)
	wp.publish(interfaces.EventPriceCaptured, map[string]interface{}{
		"job_id":     job.ID,
		"tracker_id": job.TrackerID,
		"product_id": job.ProductID,
		"price":      signal.Price,
		"currency":   signal.Currency,
		"source":     string(signal.ExtractedFrom),
		"adapter_id": signal.AdapterID,
	})

	wp.logger.Info().
		Str("worker_id", workerID).
		Str("job_id", job.ID).
		Str("tracker_id", job.TrackerID).
		Float64("price", signal.Price).
		Str("currency", signal.Currency).
		Str("source", string(signal.ExtractedFrom)).
		Msg("Price captured")
}

func (wp *WorkerPool) settleFailure(ctx context.Context, workerID string, job *models.ScrapeJob, outcome models.ScrapeOutcome) {
	wp.updateTrackerAfterFailure(ctx, job, outcome)

	decision := wp.policy.Decide(outcome, job.Attempt)
	if decision.Retry {
		wp.nack(ctx, job.ID, decision.Delay)
		wp.logger.Warn().
			Str("worker_id", workerID).
			Str("job_id", job.ID).
			Str("kind", string(outcome.Kind)).
			Str("detail", outcome.Detail).
			Int("attempt", job.Attempt).
			Dur("retry_in", decision.Delay).
			Msg("Scrape failed, retrying")
		return
	}

	if err := wp.queue.MoveToDLQ(ctx, job.ID, outcome.Kind, outcome.Detail); err != nil {
		wp.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to move job to DLQ")
	}
	wp.publish(interfaces.EventScrapeFailed, map[string]interface{}{
		"job_id":     job.ID,
		"tracker_id": job.TrackerID,
		"product_id": job.ProductID,
		"kind":       string(outcome.Kind),
		"detail":     outcome.Detail,
		"attempts":   job.Attempt,
	})

	wp.logger.Warn().
		Str("worker_id", workerID).
		Str("job_id", job.ID).
		Str("kind", string(outcome.Kind)).
		Str("detail", outcome.Detail).
		Int("attempts", job.Attempt).
		Msg("Scrape failed terminally, job dead-lettered")
}

// updateTrackerAfterFailure bumps the failure streak and stamps the status
// derived from the failure kind. Lost version races are replayed against a
// fresh read.
func (wp *WorkerPool) updateTrackerAfterFailure(ctx context.Context, job *models.ScrapeJob, outcome models.ScrapeOutcome) {
	if job.TrackerID == "" {
		return
	}

	tracker, err := wp.storage.TrackerStorage().GetTracker(ctx, job.TrackerID)
	if err != nil {
		return
	}

	for i := 0; i < casRetries; i++ {
		now := time.Now()
		tracker.LastCheckedAt = &now
		tracker.LastStatus = outcome.Kind.TrackerStatus()
		tracker.FailureStreak++
		tracker.InFlightUntil = nil

		err = wp.storage.TrackerStorage().UpdateTracker(ctx, tracker)
		if err == nil {
			return
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			break
		}
		if tracker, err = wp.storage.TrackerStorage().GetTracker(ctx, job.TrackerID); err != nil {
			break
		}
	}
	wp.logger.Warn().Err(err).Str("tracker_id", job.TrackerID).Msg("Failed to update tracker after scrape failure")
}

// recordExecution writes the immutable audit row for this attempt.
func (wp *WorkerPool) recordExecution(ctx context.Context, job *models.ScrapeJob, outcome models.ScrapeOutcome, elapsed time.Duration) {
	exec := &models.ScrapeExecution{
		ID:        common.NewExecutionID(),
		JobID:     job.ID,
		TrackerID: job.TrackerID,
		ProductID: job.ProductID,
		URL:       job.URL,
		Domain:    scraper.ExtractDomain(job.URL),
		Status:    outcome.Status,
		Kind:      outcome.Kind,
		Detail:    outcome.Detail,
		Attempt:   job.Attempt,
		LatencyMS: elapsed.Milliseconds(),
		CreatedAt: time.Now(),
	}
	if signal := outcome.Signal; signal != nil {
		exec.Source = signal.ExtractedFrom
		exec.AdapterID = signal.AdapterID
		exec.Price = &signal.Price
		exec.Currency = signal.Currency
		exec.Confidence = &signal.Confidence
		exec.UsedBrowser = signal.ExtractedFrom == models.PriceSourceBrowser
	}

	if err := wp.storage.ExecutionStorage().RecordExecution(ctx, exec); err != nil {
		wp.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to record scrape execution")
	}
}

func (wp *WorkerPool) ack(ctx context.Context, jobID string) {
	if err := wp.queue.Ack(ctx, jobID); err != nil {
		wp.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to ack job")
	}
}

func (wp *WorkerPool) nack(ctx context.Context, jobID string, delay time.Duration) {
	if err := wp.queue.Nack(ctx, jobID, delay); err != nil {
		wp.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to nack job")
	}
}

func (wp *WorkerPool) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if wp.events == nil {
		return
	}
	if err := wp.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		wp.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}
