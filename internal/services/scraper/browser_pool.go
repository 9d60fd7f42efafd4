package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// BrowserPoolConfig holds configuration for the headless browser pool.
type BrowserPoolConfig struct {
	Size           int
	UserAgent      string
	StartupTimeout time.Duration
}

// BrowserPool keeps a fixed set of headless browser contexts and hands them
// out round-robin. Each fetch opens its own tab, so sharing a browser
// between workers is safe.
type BrowserPool struct {
	browsers         []context.Context
	browserCancels   []context.CancelFunc
	allocatorCancels []context.CancelFunc
	mu               sync.Mutex
	size             int
	currentIndex     int
	userAgent        string
	logger           arbor.ILogger
	initialized      bool
}

func NewBrowserPool(config BrowserPoolConfig, logger arbor.ILogger) *BrowserPool {
	size := config.Size
	if size <= 0 {
		size = 1
	}
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &BrowserPool{
		size:      size,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Init starts the browser instances. Partial success is accepted; the pool
// shrinks to however many instances came up.
func (p *BrowserPool) Init(config BrowserPoolConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initialized {
		return fmt.Errorf("browser pool already initialized")
	}

	startupTimeout := config.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 30 * time.Second
	}

	p.browsers = make([]context.Context, 0, p.size)
	p.browserCancels = make([]context.CancelFunc, 0, p.size)
	p.allocatorCancels = make([]context.CancelFunc, 0, p.size)
	p.currentIndex = 0

	p.logger.Info().
		Int("pool_size", p.size).
		Str("user_agent", p.userAgent).
		Msg("Initializing browser pool")

	created := 0
	var lastErr error
	for i := 0; i < p.size; i++ {
		if err := p.createInstance(i, startupTimeout); err != nil {
			lastErr = err
			p.logger.Warn().
				Err(err).
				Int("browser_index", i).
				Msg("Failed to create browser instance")
			if created == 0 && i == p.size-1 {
				p.cleanupInstances()
				return fmt.Errorf("failed to create any browser instances: %w", err)
			}
			continue
		}
		created++
	}

	if created < p.size {
		p.logger.Warn().
			Int("requested", p.size).
			Int("created", created).
			Err(lastErr).
			Msg("Created fewer browser instances than requested")
		p.size = created
	}

	p.initialized = true
	p.logger.Info().
		Int("browsers_created", len(p.browsers)).
		Msg("Browser pool initialized")

	return nil
}

func (p *BrowserPool) createInstance(index int, startupTimeout time.Duration) error {
	start := time.Now()

	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(p.userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	testCtx, testCancel := context.WithTimeout(browserCtx, startupTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return fmt.Errorf("browser instance failed startup test: %w", err)
	}

	p.browsers = append(p.browsers, browserCtx)
	p.browserCancels = append(p.browserCancels, browserCancel)
	p.allocatorCancels = append(p.allocatorCancels, allocatorCancel)

	p.logger.Debug().
		Int("browser_index", index).
		Dur("startup_time", time.Since(start)).
		Msg("Browser instance created")

	return nil
}

// Acquire returns a browser context round-robin. The context stays owned by
// the pool; callers open a tab on it and must not cancel it.
func (p *BrowserPool) Acquire() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil, fmt.Errorf("browser pool not initialized")
	}
	if len(p.browsers) == 0 {
		return nil, fmt.Errorf("no browser instances available")
	}

	index := p.currentIndex % len(p.browsers)
	p.currentIndex = (p.currentIndex + 1) % len(p.browsers)
	return p.browsers[index], nil
}

// Shutdown cancels every browser and allocator context.
func (p *BrowserPool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return
	}

	count := len(p.browsers)
	p.logger.Info().Int("browser_count", count).Msg("Shutting down browser pool")

	done := make(chan struct{})
	go func() {
		p.cleanupInstances()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		p.logger.Warn().Int("browser_count", count).Msg("Browser pool shutdown timed out")
	}

	p.initialized = false
}

// cleanupInstances must be called with the mutex held.
func (p *BrowserPool) cleanupInstances() {
	for _, cancel := range p.browserCancels {
		if cancel != nil {
			cancel()
		}
	}
	for _, cancel := range p.allocatorCancels {
		if cancel != nil {
			cancel()
		}
	}
	p.browsers = nil
	p.browserCancels = nil
	p.allocatorCancels = nil
	p.currentIndex = 0
}

// IsInitialized reports whether Init completed.
func (p *BrowserPool) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Stats describes the pool for status endpoints.
func (p *BrowserPool) Stats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"size":        p.size,
		"active":      len(p.browsers),
		"initialized": p.initialized,
	}
}
