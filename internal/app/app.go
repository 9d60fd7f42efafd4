package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/pricewatch/internal/common"
	"github.com/ternarybob/pricewatch/internal/handlers"
	"github.com/ternarybob/pricewatch/internal/interfaces"
	jobqueue "github.com/ternarybob/pricewatch/internal/queue"
	"github.com/ternarybob/pricewatch/internal/services/events"
	"github.com/ternarybob/pricewatch/internal/services/extractor"
	"github.com/ternarybob/pricewatch/internal/services/pricing"
	"github.com/ternarybob/pricewatch/internal/services/scheduler"
	"github.com/ternarybob/pricewatch/internal/services/scraper"
	"github.com/ternarybob/pricewatch/internal/services/tracking"
	badgerstore "github.com/ternarybob/pricewatch/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	Storage    interfaces.StorageManager
	Queue      interfaces.JobQueue
	Events     interfaces.EventService
	Scheduler  interfaces.SchedulerService
	WorkerPool interfaces.WorkerPool
	Tracking   interfaces.TrackingService
	Pricing    interfaces.PricingService

	browserPool *scraper.BrowserPool

	TrackerHandler        *handlers.TrackerHandler
	ScrapeHandler         *handlers.ScrapeHandler
	ProductHandler        *handlers.ProductHandler
	HistoryHandler        *handlers.HistoryHandler
	RuleHandler           *handlers.RuleHandler
	RecommendationHandler *handlers.RecommendationHandler
	QueueHandler          *handlers.QueueHandler
	APIHandler            *handlers.APIHandler
	WSHandler             *handlers.WebSocketHandler
}

// New wires the application in dependency order: storage and seeds, then
// the scrape pipeline (queue, fetchers, workers, scheduler), then handlers.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
	}

	policy := scraper.NewURLPolicy(cfg.Scraper.AllowlistEnabled, cfg.Scraper.AllowedDomains)

	if err := a.initStorage(policy); err != nil {
		return nil, err
	}
	if err := a.initPipeline(policy); err != nil {
		a.Storage.Close()
		return nil, err
	}
	a.initHandlers()

	return a, nil
}

func (a *App) initStorage(policy *scraper.URLPolicy) error {
	storage, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = storage

	if a.Config.Seeds.Dir != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := badgerstore.LoadSeedsFromFiles(ctx, storage, policy, a.Config.Seeds.Dir, a.Logger); err != nil {
			a.Logger.Warn().Err(err).Str("dir", a.Config.Seeds.Dir).Msg("Seed loading failed")
		}
	}

	return nil
}

func (a *App) initPipeline(policy *scraper.URLPolicy) error {
	cfg := a.Config

	manager, ok := a.Storage.(*badgerstore.Manager)
	if !ok {
		return fmt.Errorf("storage manager does not expose a badger handle")
	}
	queue, err := jobqueue.NewBadgerQueue(manager.DB(), cfg.Queue.QueueName, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue: %w", err)
	}
	a.Queue = queue

	a.Events = events.NewService(a.Logger)

	governor := scraper.NewGovernor(scraper.GovernorConfig{
		PerHostCapacity:  cfg.Governor.PerHostCapacity,
		PerHostRefillPer: cfg.Governor.PerHostRefillPer,
		GlobalLimit:      cfg.Governor.GlobalLimit,
		WaitBound:        common.ParseDurationOr(cfg.Governor.WaitBound, 15*time.Second),
	})

	httpFetcher := scraper.NewHTTPFetcher(scraper.HTTPFetcherConfig{
		UserAgents:     cfg.Scraper.UserAgents,
		AcceptLanguage: cfg.Scraper.AcceptLanguage,
		Timeout:        cfg.Scraper.HTTPTimeout,
		MaxRedirects:   cfg.Scraper.MaxRedirects,
		MaxBodySize:    cfg.Scraper.MaxBodySize,
	}, a.Logger)

	poolConfig := scraper.BrowserPoolConfig{
		Size:           cfg.Scraper.BrowserPoolSize,
		UserAgent:      cfg.Scraper.UserAgents[0],
		StartupTimeout: cfg.Scraper.BrowserTimeout,
	}
	a.browserPool = scraper.NewBrowserPool(poolConfig, a.Logger)
	if cfg.Scraper.BrowserFallback {
		// Startup failure downgrades the deployment to HTTP-only; jobs
		// needing the browser tier classify as browser_error and retry.
		if err := a.browserPool.Init(poolConfig); err != nil {
			a.Logger.Warn().Err(err).Msg("Browser pool unavailable, continuing HTTP-only")
		}
	}
	browserFetcher := scraper.NewBrowserFetcher(a.browserPool, scraper.BrowserFetcherConfig{
		PageTimeout: cfg.Scraper.BrowserTimeout,
		RenderWait:  cfg.Scraper.BrowserWait,
	}, a.Logger)

	registry := extractor.NewRegistry(cfg.Scraper.DefaultCurrency)
	executor := scraper.NewExecutor(policy, httpFetcher, browserFetcher, registry, governor, a.Logger)

	retryPolicy := &jobqueue.RetryPolicy{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		BaseBackoff:     common.ParseDurationOr(cfg.Queue.BaseBackoff, 5*time.Second),
		MaxBackoff:      common.ParseDurationOr(cfg.Queue.MaxBackoff, 5*time.Minute),
		HardFailBackoff: common.ParseDurationOr(cfg.Queue.HardFailBackoff, 30*time.Second),
	}

	visibility := common.ParseDurationOr(cfg.Queue.VisibilityTimeout, 2*time.Minute)
	a.WorkerPool = jobqueue.NewWorkerPool(jobqueue.PoolConfig{
		Workers:           cfg.Queue.Workers,
		PollInterval:      common.ParseDurationOr(cfg.Queue.PollInterval, time.Second),
		VisibilityTimeout: visibility,
		JobTimeout:        visibility * 4 / 5,
	}, queue, executor, a.Storage, a.Events, retryPolicy, a.Logger)

	inFlightTTL := common.ParseDurationOr(cfg.Scheduler.InFlightTTL, 3*time.Minute)
	a.Scheduler = scheduler.NewService(scheduler.Config{
		DefaultInterval:    common.ParseDurationOr(cfg.Scheduler.DefaultInterval, 6*time.Hour),
		FailureStreakLimit: cfg.Scheduler.FailureStreakLimit,
		InFlightTTL:        inFlightTTL,
		SweepLimit:         cfg.Scheduler.SweepLimit,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		BrowserFallback:    cfg.Scraper.BrowserFallback,
	}, a.Storage, queue, a.Events, a.Logger)

	a.Tracking = tracking.NewService(tracking.Config{
		MaxAttempts:     cfg.Queue.MaxAttempts,
		InFlightTTL:     inFlightTTL,
		BrowserFallback: cfg.Scraper.BrowserFallback,
	}, policy, a.Storage, queue, executor, a.Events, a.Logger)

	a.Pricing = pricing.NewEngine(a.Storage, &cfg.Pricing, a.Logger)

	return nil
}

func (a *App) initHandlers() {
	a.TrackerHandler = handlers.NewTrackerHandler(a.Tracking, a.Storage, a.Logger)
	a.ScrapeHandler = handlers.NewScrapeHandler(a.Tracking, a.Logger)
	a.ProductHandler = handlers.NewProductHandler(a.Storage, a.Logger)
	a.HistoryHandler = handlers.NewHistoryHandler(a.Storage, a.Logger)
	a.RuleHandler = handlers.NewRuleHandler(a.Storage, a.Logger)
	a.RecommendationHandler = handlers.NewRecommendationHandler(a.Pricing, a.Logger)
	a.QueueHandler = handlers.NewQueueHandler(a.Queue, a.Logger)
	a.APIHandler = handlers.NewAPIHandler(a.Storage, a.Queue, a.Scheduler, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Events, &a.Config.WebSocket, a.Logger)
}

// Start brings up the background pipeline: workers first so any backlog
// drains, then the sweep scheduler.
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.Scheduler.Start(a.Config.Scheduler.SweepSchedule); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close shuts down in reverse dependency order: stop producing (scheduler),
// finish consuming (workers), then release shared resources.
func (a *App) Close() error {
	if a.Scheduler != nil {
		if err := a.Scheduler.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}
	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Worker pool stop failed")
		}
	}
	if a.Events != nil {
		a.Events.Close()
	}
	if a.browserPool != nil {
		a.browserPool.Shutdown()
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}
