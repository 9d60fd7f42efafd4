package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Queue       QueueConfig     `toml:"queue"`
	Scraper     ScraperConfig   `toml:"scraper"`
	Governor    GovernorConfig  `toml:"governor"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Pricing     PricingConfig   `toml:"pricing"`
	Seeds       SeedsConfig     `toml:"seeds"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type QueueConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g., "1s" - how often workers poll for jobs
	Workers           int    `toml:"workers"`            // Number of concurrent scrape workers
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g., "2m" - reservation timeout before redelivery
	MaxAttempts       int    `toml:"max_attempts"`       // Attempts before a job is dead-lettered
	BaseBackoff       string `toml:"base_backoff"`       // First retry delay, doubled per attempt
	MaxBackoff        string `toml:"max_backoff"`        // Retry delay cap
	HardFailBackoff   string `toml:"hard_fail_backoff"`  // Retry delay cap for likely-permanent failures
	QueueName         string `toml:"queue_name"`         // Queue name prefix in Badger
}

// ScraperConfig contains fetch behavior for both tiers
type ScraperConfig struct {
	UserAgents       []string      `toml:"user_agents"`       // Rotated per request
	AcceptLanguage   string        `toml:"accept_language"`   // Accept-Language header value
	HTTPTimeout      time.Duration `toml:"http_timeout"`      // Per-request deadline, HTTP tier
	BrowserTimeout   time.Duration `toml:"browser_timeout"`   // Per-navigation deadline, browser tier
	BrowserWait      time.Duration `toml:"browser_wait"`      // Post-navigation settle time for scripted pages
	MaxRedirects     int           `toml:"max_redirects"`     // Redirect bound; exceeding it classifies as network error
	MaxBodySize      int64         `toml:"max_body_size"`     // Response body cap in bytes
	BrowserFallback  bool          `toml:"browser_fallback"`  // Escalate to browser tier on parse miss
	BrowserPoolSize  int           `toml:"browser_pool_size"` // Headless browser contexts kept warm
	AllowlistEnabled bool          `toml:"allowlist_enabled"` // Reject hosts outside AllowedDomains
	AllowedDomains   []string      `toml:"allowed_domains"`   // Exact host or suffix match
	DefaultCurrency  string        `toml:"default_currency"`  // Assigned when extraction finds no currency marker
}

// GovernorConfig bounds request rate per host and global concurrency
type GovernorConfig struct {
	PerHostCapacity  int     `toml:"per_host_capacity"`   // Token bucket burst per host
	PerHostRefillPer float64 `toml:"per_host_refill_per"` // Tokens added per second per host
	GlobalLimit      int     `toml:"global_limit"`        // Max in-flight fetches across all hosts
	WaitBound        string  `toml:"wait_bound"`          // Max admission wait before jobs are requeued as rate limited
}

type SchedulerConfig struct {
	SweepSchedule      string `toml:"sweep_schedule"`       // Cron format
	DefaultInterval    string `toml:"default_interval"`     // Per-tracker scrape interval unless overridden
	FailureStreakLimit int    `toml:"failure_streak_limit"` // Consecutive failures before a tracker is marked dead
	InFlightTTL        string `toml:"in_flight_ttl"`        // Marker TTL preventing concurrent jobs per tracker
	SweepLimit         int    `toml:"sweep_limit"`          // Max jobs enqueued per sweep
}

type PricingConfig struct {
	HistoryWindowDays int     `toml:"history_window_days"` // Recent-history window for recommendations
	MaxChangePct      float64 `toml:"max_change_pct"`      // Clamp on suggested price movement
	MinMarginPct      float64 `toml:"min_margin_pct"`      // Floor above cost when cost is known
	CompetitorWeight  float64 `toml:"competitor_weight"`   // Dynamic rule blend weight, competitor side
	MarketWeight      float64 `toml:"market_weight"`       // Dynamic rule blend weight, own-price side
}

// SeedsConfig contains configuration for seed file loading
type SeedsConfig struct {
	Dir string `toml:"dir"` // Directory containing product/rule/tracker seed files (TOML/YAML)
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs (default: "15:04:05.000")
	MinEventLevel string   `toml:"min_event_level"` // Minimum log level to publish on the event bus
}

// WebSocketConfig contains configuration for the price-event stream
type WebSocketConfig struct {
	MinLevel      string   `toml:"min_level"`      // Minimum log level forwarded to clients
	AllowedEvents []string `toml:"allowed_events"` // Whitelist of event types to broadcast (empty = all)
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in pricewatch.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			PollInterval:      "1s",
			Workers:           8, // Scraping is I/O bound; per-host limits dominate throughput
			VisibilityTimeout: "2m",
			MaxAttempts:       3,
			BaseBackoff:       "5s",
			MaxBackoff:        "5m",
			HardFailBackoff:   "30s", // Smaller cap for likely-permanent failures retried once
			QueueName:         "pricewatch_scrapes",
		},
		Scraper: ScraperConfig{
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			},
			AcceptLanguage:   "en-US,en;q=0.9",
			HTTPTimeout:      10 * time.Second,
			BrowserTimeout:   30 * time.Second,
			BrowserWait:      3 * time.Second,
			MaxRedirects:     5,
			MaxBodySize:      10 * 1024 * 1024, // 10MB
			BrowserFallback:  true,
			BrowserPoolSize:  2,
			AllowlistEnabled: false,
			AllowedDomains:   []string{},
			DefaultCurrency:  "USD",
		},
		Governor: GovernorConfig{
			PerHostCapacity:  2,
			PerHostRefillPer: 0.5, // One request per host every 2s
			GlobalLimit:      16,
			WaitBound:        "15s",
		},
		Scheduler: SchedulerConfig{
			SweepSchedule:      "*/1 * * * *", // Every minute; due selection does the real pacing
			DefaultInterval:    "6h",
			FailureStreakLimit: 5,
			InFlightTTL:        "3m",
			SweepLimit:         200,
		},
		Pricing: PricingConfig{
			HistoryWindowDays: 14,
			MaxChangePct:      20,
			MinMarginPct:      0,
			CompetitorWeight:  0.6,
			MarketWeight:      0.4,
		},
		Seeds: SeedsConfig{
			Dir: "./seeds",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			MinEventLevel: "info",
		},
		WebSocket: WebSocketConfig{
			MinLevel:      "info",
			AllowedEvents: []string{},
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env -> CLI
func LoadFromFile(path string) (*Config, error) {
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files. Later files override
// earlier files. Priority: CLI flags > environment > last file > ... > defaults.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("PRICEWATCH_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("PRICEWATCH_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("PRICEWATCH_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("PRICEWATCH_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Queue configuration
	if pollInterval := os.Getenv("PRICEWATCH_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if workers := os.Getenv("PRICEWATCH_QUEUE_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Queue.Workers = w
		}
	}
	if visibilityTimeout := os.Getenv("PRICEWATCH_QUEUE_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Queue.VisibilityTimeout = visibilityTimeout
	}
	if maxAttempts := os.Getenv("PRICEWATCH_QUEUE_MAX_ATTEMPTS"); maxAttempts != "" {
		if ma, err := strconv.Atoi(maxAttempts); err == nil {
			config.Queue.MaxAttempts = ma
		}
	}
	if baseBackoff := os.Getenv("PRICEWATCH_QUEUE_BASE_BACKOFF"); baseBackoff != "" {
		config.Queue.BaseBackoff = baseBackoff
	}
	if maxBackoff := os.Getenv("PRICEWATCH_QUEUE_MAX_BACKOFF"); maxBackoff != "" {
		config.Queue.MaxBackoff = maxBackoff
	}

	// Scraper configuration
	if timeout := os.Getenv("PRICEWATCH_SCRAPER_HTTP_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Scraper.HTTPTimeout = d
		}
	}
	if timeout := os.Getenv("PRICEWATCH_SCRAPER_BROWSER_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Scraper.BrowserTimeout = d
		}
	}
	if fallback := os.Getenv("PRICEWATCH_SCRAPER_BROWSER_FALLBACK"); fallback != "" {
		config.Scraper.BrowserFallback = fallback == "true" || fallback == "1"
	}
	if poolSize := os.Getenv("PRICEWATCH_SCRAPER_BROWSER_POOL_SIZE"); poolSize != "" {
		if n, err := strconv.Atoi(poolSize); err == nil {
			config.Scraper.BrowserPoolSize = n
		}
	}
	if enabled := os.Getenv("PRICEWATCH_SCRAPER_ALLOWLIST_ENABLED"); enabled != "" {
		config.Scraper.AllowlistEnabled = enabled == "true" || enabled == "1"
	}
	if domains := os.Getenv("PRICEWATCH_SCRAPER_ALLOWED_DOMAINS"); domains != "" {
		allowed := []string{}
		for _, d := range strings.Split(domains, ",") {
			if trimmed := strings.TrimSpace(d); trimmed != "" {
				allowed = append(allowed, trimmed)
			}
		}
		config.Scraper.AllowedDomains = allowed
	}

	// Governor configuration
	if capacity := os.Getenv("PRICEWATCH_GOVERNOR_PER_HOST_CAPACITY"); capacity != "" {
		if c, err := strconv.Atoi(capacity); err == nil {
			config.Governor.PerHostCapacity = c
		}
	}
	if refill := os.Getenv("PRICEWATCH_GOVERNOR_PER_HOST_REFILL"); refill != "" {
		if r, err := strconv.ParseFloat(refill, 64); err == nil {
			config.Governor.PerHostRefillPer = r
		}
	}
	if limit := os.Getenv("PRICEWATCH_GOVERNOR_GLOBAL_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Governor.GlobalLimit = l
		}
	}

	// Scheduler configuration
	if schedule := os.Getenv("PRICEWATCH_SCHEDULER_SWEEP_SCHEDULE"); schedule != "" {
		config.Scheduler.SweepSchedule = schedule
	}
	if interval := os.Getenv("PRICEWATCH_SCHEDULER_DEFAULT_INTERVAL"); interval != "" {
		config.Scheduler.DefaultInterval = interval
	}
	if limit := os.Getenv("PRICEWATCH_SCHEDULER_FAILURE_STREAK_LIMIT"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			config.Scheduler.FailureStreakLimit = l
		}
	}

	// Pricing configuration
	if days := os.Getenv("PRICEWATCH_PRICING_HISTORY_WINDOW_DAYS"); days != "" {
		if d, err := strconv.Atoi(days); err == nil {
			config.Pricing.HistoryWindowDays = d
		}
	}
	if pct := os.Getenv("PRICEWATCH_PRICING_MAX_CHANGE_PCT"); pct != "" {
		if p, err := strconv.ParseFloat(pct, 64); err == nil {
			config.Pricing.MaxChangePct = p
		}
	}

	// Seeds configuration
	if dir := os.Getenv("PRICEWATCH_SEEDS_DIR"); dir != "" {
		config.Seeds.Dir = dir
	}

	// Logging configuration
	if level := os.Getenv("PRICEWATCH_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("PRICEWATCH_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("PRICEWATCH_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks settings that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("scraper.user_agents cannot be empty")
	}
	if c.Governor.PerHostCapacity < 1 {
		return fmt.Errorf("governor.per_host_capacity must be at least 1")
	}
	if c.Governor.GlobalLimit < 1 {
		return fmt.Errorf("governor.global_limit must be at least 1")
	}
	if c.Scraper.AllowlistEnabled && len(c.Scraper.AllowedDomains) == 0 {
		return fmt.Errorf("scraper.allowed_domains cannot be empty when the allowlist is enabled")
	}
	if w := c.Pricing.CompetitorWeight + c.Pricing.MarketWeight; w < 0.999 || w > 1.001 {
		return fmt.Errorf("pricing.competitor_weight and pricing.market_weight must sum to 1")
	}
	return nil
}

// ParseDurationOr parses a duration string, falling back to def on error or
// empty input. Config durations are strings so operators can write "90s".
func ParseDurationOr(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}
