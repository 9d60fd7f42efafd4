package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
)

const casRetries = 3

// Config carries the sweep policy knobs.
type Config struct {
	DefaultInterval    time.Duration // per-tracker interval unless overridden
	FailureStreakLimit int           // consecutive failures before a tracker is marked dead
	InFlightTTL        time.Duration // marker TTL stamped on enqueue
	SweepLimit         int           // max jobs enqueued per sweep
	MaxAttempts        int           // stamped onto enqueued jobs
	BrowserFallback    bool          // whether scheduled jobs may escalate to the browser tier
}

// Service sweeps due trackers into the scrape queue on a cron tick.
//
// The sweep also owns the terminal tracker rule: a tracker whose failure
// streak has reached the limit is marked DEAD here, not in the worker pool,
// so the state transition happens exactly once even with many workers.
type Service struct {
	config  Config
	storage interfaces.StorageManager
	queue   interfaces.JobQueue
	events  interfaces.EventService
	cron    *cron.Cron
	logger  arbor.ILogger

	mu        sync.Mutex
	running   bool
	sweeping  bool
	entryID   cron.EntryID
	schedule  string
	lastRun   *time.Time
	lastError string
	enqueued  int
}

// NewService creates a sweep scheduler.
func NewService(config Config, storage interfaces.StorageManager, queue interfaces.JobQueue, events interfaces.EventService, logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		config:  config,
		storage: storage,
		queue:   queue,
		events:  events,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start begins sweeping on the given cron expression.
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if cronExpr == "" {
		cronExpr = "*/1 * * * *" // every minute
	}

	entryID, err := s.cron.AddFunc(cronExpr, s.runSweep)
	if err != nil {
		return fmt.Errorf("failed to add sweep job: %w", err)
	}
	s.entryID = entryID
	s.schedule = cronExpr

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Int("sweep_limit", s.config.SweepLimit).
		Msg("Scheduler started")

	return nil
}

// Stop halts the scheduler; a sweep in progress finishes first.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Sweep did not finish within stop timeout")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// TriggerSweepNow runs one sweep outside the cron cadence.
func (s *Service) TriggerSweepNow() error {
	s.runSweep()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastError != "" {
		return fmt.Errorf("sweep failed: %s", s.lastError)
	}
	return nil
}

// IsRunning returns true if the scheduler is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the sweep job status.
func (s *Service) Status() *interfaces.SweepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &interfaces.SweepStatus{
		Schedule:  s.schedule,
		LastRun:   s.lastRun,
		IsRunning: s.sweeping,
		LastError: s.lastError,
		Enqueued:  s.enqueued,
	}
	if s.running {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// runSweep is the cron entry point. Overlapping sweeps are skipped rather
// than queued so a slow store cannot stack ticks.
func (s *Service) runSweep() {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		s.logger.Debug().Msg("Sweep already in progress, skipping tick")
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("panic", fmt.Sprintf("%v", r)).Msg("Sweep panicked")
		}
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	started := time.Now().UTC()
	enqueued, err := s.sweep(context.Background(), started)

	s.mu.Lock()
	s.lastRun = &started
	s.enqueued = enqueued
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Msg("Sweep failed")
		return
	}
	if enqueued > 0 {
		s.logger.Info().
			Int("enqueued", enqueued).
			Str("duration", time.Since(started).String()).
			Msg("Sweep completed")
	}
}

// sweep selects due trackers, retires the ones past the failure-streak
// limit, and enqueues one scheduled job for each of the rest.
func (s *Service) sweep(ctx context.Context, now time.Time) (int, error) {
	due, err := s.storage.TrackerStorage().ListDue(ctx, now, s.config.DefaultInterval, s.config.SweepLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to list due trackers: %w", err)
	}

	enqueued := 0
	for _, tracker := range due {
		if s.config.FailureStreakLimit > 0 && tracker.FailureStreak >= s.config.FailureStreakLimit {
			s.retire(ctx, tracker)
			continue
		}

		if err := s.enqueueFor(ctx, tracker, now); err != nil {
			s.logger.Warn().Err(err).
				Str("tracker_id", tracker.ID).
				Msg("Failed to enqueue scheduled job")
			continue
		}
		enqueued++
	}

	return enqueued, nil
}

func (s *Service) enqueueFor(ctx context.Context, tracker *models.CompetitorTracker, now time.Time) error {
	job := &models.ScrapeJob{
		ID:                   common.NewJobID(),
		TrackerID:            tracker.ID,
		ProductID:            tracker.ProductID,
		URL:                  tracker.CanonicalURL,
		AllowBrowserFallback: s.config.BrowserFallback,
		Attempt:              1,
		MaxAttempts:          s.config.MaxAttempts,
		EnqueuedAt:           now,
		Origin:               models.JobOriginScheduled,
	}

	if err := s.queue.Enqueue(ctx, job, nil); err != nil {
		return err
	}

	// Stamp the in-flight marker so the next sweep skips this tracker while
	// the job may still be live. Marker failure is non-fatal: the worst case
	// is a duplicate job, which the worker's CAS update absorbs.
	until := now.Add(s.config.InFlightTTL)
	if err := s.storage.TrackerStorage().MarkInFlight(ctx, tracker.ID, until); err != nil {
		s.logger.Warn().Err(err).
			Str("tracker_id", tracker.ID).
			Msg("Failed to mark tracker in flight")
	}

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{
			Type:    interfaces.EventJobEnqueued,
			Payload: job,
		})
	}

	s.logger.Debug().
		Str("tracker_id", tracker.ID).
		Str("job_id", job.ID).
		Msg("Scheduled job enqueued")
	return nil
}

// retire marks a tracker DEAD once its failure streak hits the limit.
func (s *Service) retire(ctx context.Context, tracker *models.CompetitorTracker) {
	for i := 0; i < casRetries; i++ {
		tracker.LastStatus = models.TrackerStatusDead
		tracker.InFlightUntil = nil
		tracker.UpdatedAt = time.Now().UTC()

		err := s.storage.TrackerStorage().UpdateTracker(ctx, tracker)
		if err == nil {
			s.logger.Warn().
				Str("tracker_id", tracker.ID).
				Int("failure_streak", tracker.FailureStreak).
				Msg("Tracker marked dead")

			if s.events != nil {
				s.events.Publish(ctx, interfaces.Event{
					Type:    interfaces.EventTrackerDead,
					Payload: tracker,
				})
			}
			return
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			s.logger.Error().Err(err).Str("tracker_id", tracker.ID).Msg("Failed to mark tracker dead")
			return
		}

		fresh, getErr := s.storage.TrackerStorage().GetTracker(ctx, tracker.ID)
		if getErr != nil {
			s.logger.Error().Err(getErr).Str("tracker_id", tracker.ID).Msg("Failed to reload tracker")
			return
		}
		if fresh.FailureStreak < s.config.FailureStreakLimit || fresh.LastStatus == models.TrackerStatusDead {
			return // a concurrent success or another sweep settled it
		}
		tracker = fresh
	}
}
