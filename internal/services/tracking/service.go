package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	"github.com/ternarybob/pricewatch/internal/models"
	"github.com/ternarybob/pricewatch/internal/services/scraper"
)

const casRetries = 3

// ErrInFlight is returned when a manual enqueue hits a tracker whose
// in-flight marker has not expired.
var ErrInFlight = errors.New("scrape already in flight for tracker")

// Config carries the job-shaping knobs the service stamps onto work it
// creates.
type Config struct {
	MaxAttempts     int
	InFlightTTL     time.Duration
	BrowserFallback bool
}

// Service implements TrackingService on top of the URL policy, the stores,
// the queue, and the executor.
type Service struct {
	config   Config
	policy   *scraper.URLPolicy
	storage  interfaces.StorageManager
	queue    interfaces.JobQueue
	executor interfaces.ScrapeExecutor
	events   interfaces.EventService
	validate *validator.Validate
	logger   arbor.ILogger
}

func NewService(config Config, policy *scraper.URLPolicy, storage interfaces.StorageManager, queue interfaces.JobQueue, executor interfaces.ScrapeExecutor, events interfaces.EventService, logger arbor.ILogger) interfaces.TrackingService {
	return &Service{
		config:   config,
		policy:   policy,
		storage:  storage,
		queue:    queue,
		executor: executor,
		events:   events,
		validate: validator.New(),
		logger:   logger,
	}
}

// TrackCompetitor canonicalizes the URL, gates it on the allowlist, and
// creates or returns the tracker for (product_id, canonical_url).
func (s *Service) TrackCompetitor(ctx context.Context, req *interfaces.TrackRequest) (*models.CompetitorTracker, bool, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, false, fmt.Errorf("invalid track request: %w", err)
	}

	if _, err := s.storage.ProductStorage().GetProduct(ctx, req.ProductID); err != nil {
		return nil, false, err
	}

	canonical, err := s.policy.Canonicalize(req.RawURL)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s", models.ErrInvalidURL, err.Error())
	}
	if !s.policy.DomainAllowed(canonical) {
		return nil, false, fmt.Errorf("%w: %s", models.ErrDomainBlocked, scraper.ExtractDomain(canonical))
	}

	now := time.Now().UTC()
	candidate := &models.CompetitorTracker{
		ID:              common.NewTrackerID(),
		ProductID:       req.ProductID,
		CompetitorName:  req.CompetitorName,
		RawURL:          req.RawURL,
		CanonicalURL:    canonical,
		Domain:          scraper.ExtractDomain(canonical),
		Active:          true,
		LastStatus:      models.TrackerStatusNew,
		IntervalSeconds: req.IntervalSeconds,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	tracker, created, err := s.storage.TrackerStorage().CreateOrGet(ctx, candidate)
	if err != nil {
		return nil, false, err
	}

	s.logger.Info().
		Str("tracker_id", tracker.ID).
		Str("product_id", tracker.ProductID).
		Str("domain", tracker.Domain).
		Bool("created", created).
		Msg("Competitor tracked")

	if req.EnqueueScrape {
		if _, err := s.EnqueueScrape(ctx, tracker.ID); err != nil && !errors.Is(err, ErrInFlight) {
			s.logger.Warn().Err(err).Str("tracker_id", tracker.ID).Msg("Failed to enqueue initial scrape")
		}
	}

	return tracker, created, nil
}

// EnqueueScrape enqueues one manual job, bypassing the interval check but
// respecting the in-flight marker.
func (s *Service) EnqueueScrape(ctx context.Context, trackerID string) (*models.ScrapeJob, error) {
	tracker, err := s.storage.TrackerStorage().GetTracker(ctx, trackerID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if tracker.InFlight(now) {
		return nil, ErrInFlight
	}

	job := &models.ScrapeJob{
		ID:                   common.NewJobID(),
		TrackerID:            tracker.ID,
		ProductID:            tracker.ProductID,
		URL:                  tracker.CanonicalURL,
		AllowBrowserFallback: s.config.BrowserFallback,
		Attempt:              1,
		MaxAttempts:          s.config.MaxAttempts,
		EnqueuedAt:           now,
		Origin:               models.JobOriginManual,
	}

	if err := s.queue.Enqueue(ctx, job, nil); err != nil {
		return nil, err
	}

	if err := s.storage.TrackerStorage().MarkInFlight(ctx, tracker.ID, now.Add(s.config.InFlightTTL)); err != nil {
		s.logger.Warn().Err(err).Str("tracker_id", tracker.ID).Msg("Failed to mark tracker in flight")
	}

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventJobEnqueued, Payload: job})
	}

	s.logger.Info().
		Str("tracker_id", tracker.ID).
		Str("job_id", job.ID).
		Msg("Manual scrape enqueued")
	return job, nil
}

// FetchNow runs the executor synchronously. Success against a known tracker
// commits the observation; every failure path leaves the stores untouched.
func (s *Service) FetchNow(ctx context.Context, req *interfaces.FetchNowRequest) (*interfaces.FetchNowResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid fetch request: %w", err)
	}

	fallback := s.config.BrowserFallback
	if req.AllowBrowserFallback != nil {
		fallback = *req.AllowBrowserFallback
	}

	job := &models.ScrapeJob{
		ID:                   common.NewJobID(),
		TrackerID:            req.TrackerID,
		ProductID:            req.ProductID,
		URL:                  req.URL,
		AllowBrowserFallback: fallback,
		Attempt:              1,
		MaxAttempts:          1,
		EnqueuedAt:           time.Now().UTC(),
		Origin:               models.JobOriginManual,
	}

	outcome := s.executor.Execute(ctx, job)
	result := &interfaces.FetchNowResult{Outcome: outcome}

	if !outcome.IsSuccess() || req.TrackerID == "" {
		return result, nil
	}

	point, err := s.commit(ctx, req.TrackerID, outcome.Signal)
	if err != nil {
		return nil, err
	}
	result.Point = point

	if s.events != nil {
		s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventPriceCaptured, Payload: point})
	}

	return result, nil
}

// commit persists the observation with the same CAS discipline as the
// worker pool: price point and tracker state land in one transaction.
func (s *Service) commit(ctx context.Context, trackerID string, signal *models.PriceSignal) (*models.PricePoint, error) {
	for i := 0; i < casRetries; i++ {
		tracker, err := s.storage.TrackerStorage().GetTracker(ctx, trackerID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		point := &models.PricePoint{
			ID:             common.NewPricePointID(),
			ProductID:      tracker.ProductID,
			TrackerID:      tracker.ID,
			CompetitorName: tracker.CompetitorName,
			Price:          signal.Price,
			Currency:       signal.Currency,
			CapturedAt:     now,
			Source:         signal.ExtractedFrom,
			AdapterID:      signal.AdapterID,
		}

		tracker.LastPrice = &signal.Price
		tracker.LastCurrency = signal.Currency
		tracker.LastCheckedAt = &now
		tracker.LastStatus = models.TrackerStatusOK
		tracker.FailureStreak = 0
		tracker.InFlightUntil = nil
		tracker.UpdatedAt = now

		err = s.storage.CommitObservation(ctx, point, tracker)
		if err == nil {
			return point, nil
		}
		if !errors.Is(err, models.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("failed to commit observation for tracker %s: %w", trackerID, models.ErrVersionConflict)
}
