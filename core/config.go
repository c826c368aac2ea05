package core

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the process-wide settings for agentforge. It is built
// with three-layer priority: built-in defaults, then environment
// variables, then functional Options — mirroring the layering the
// teacher framework uses for its own Config.
type Config struct {
	ServiceName string
	Port        int
	LogLevel    string
	LogFormat   string

	ModelServerURL     string
	PoolMaxConcurrency int
	PoolRequestTimeout time.Duration

	EventStoreMaxSessions      int
	EventStoreTTL              time.Duration
	EventStoreCleanupInterval  time.Duration
	RedisURL                   string // read from REDIS_URL; cmd/agentforge only logs it and runs the in-memory event store

	ReasoningChunkSize    int
	ReasoningDebounceMS   int
	MaxThinkingTimeMS     int

	QualityThreshold float64
	MaxRetries       int
	OutputDir        string // where stage_metrics.json / benchmark.json are written

	DrainTimeout time.Duration

	logger Logger
}

// Option mutates a Config during NewConfig.
type Option func(*Config) error

func defaultConfig() *Config {
	return &Config{
		ServiceName:               "agentforge",
		Port:                      8080,
		LogLevel:                  "info",
		LogFormat:                 "text",
		ModelServerURL:            "http://localhost:11434",
		PoolMaxConcurrency:        10,
		PoolRequestTimeout:        300 * time.Second,
		EventStoreMaxSessions:     1000,
		EventStoreTTL:             time.Hour,
		EventStoreCleanupInterval: 5 * time.Minute,
		ReasoningChunkSize:        100,
		ReasoningDebounceMS:       50,
		MaxThinkingTimeMS:         0,
		QualityThreshold:          0.70,
		MaxRetries:                2,
		OutputDir:                 "./data",
		DrainTimeout:              10 * time.Second,
	}
}

// NewConfig builds a Config from defaults, environment variables, then
// the supplied options, in that priority order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := defaultConfig()
	cfg.loadFromEnv()

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.ServiceName, cfg.LogLevel, cfg.LogFormat)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("AGENTFORGE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("AGENTFORGE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("AGENTFORGE_LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("MODEL_SERVER_URL"); v != "" {
		c.ModelServerURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv("AGENTFORGE_POOL_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PoolMaxConcurrency = n
		}
	}
}

// Validate checks invariants that must hold regardless of how the
// Config was assembled.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfiguration, c.Port)
	}
	if c.PoolMaxConcurrency < 1 {
		return fmt.Errorf("%w: pool concurrency must be >= 1", ErrInvalidConfiguration)
	}
	if c.ModelServerURL == "" {
		return fmt.Errorf("%w: model server URL", ErrMissingConfiguration)
	}
	if c.EventStoreMaxSessions < 1 {
		return fmt.Errorf("%w: max sessions must be >= 1", ErrInvalidConfiguration)
	}
	return nil
}

// Logger returns the resolved logger for this config.
func (c *Config) Logger() Logger { return c.logger }

// WithLogger overrides the logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithPort overrides the HTTP listen port.
func WithPort(port int) Option {
	return func(c *Config) error {
		c.Port = port
		return nil
	}
}

// WithModelServerURL overrides the local LLM server base URL.
func WithModelServerURL(url string) Option {
	return func(c *Config) error {
		c.ModelServerURL = url
		return nil
	}
}

// WithRedisURL sets the Redis URL. Nothing in cmd/agentforge connects
// to Redis with it; eventstore.NewRedisStore takes a URL of this form.
func WithRedisURL(url string) Option {
	return func(c *Config) error {
		c.RedisURL = url
		return nil
	}
}

// WithPoolConcurrency overrides the connection pool's concurrency cap.
func WithPoolConcurrency(n int) Option {
	return func(c *Config) error {
		c.PoolMaxConcurrency = n
		return nil
	}
}

// WithEventStoreLimits overrides the event store's bounds.
func WithEventStoreLimits(maxSessions int, ttl, cleanupInterval time.Duration) Option {
	return func(c *Config) error {
		c.EventStoreMaxSessions = maxSessions
		c.EventStoreTTL = ttl
		c.EventStoreCleanupInterval = cleanupInterval
		return nil
	}
}

// WithQualityRetryPolicy overrides the orchestrator's reflection
// retry threshold and cap.
func WithQualityRetryPolicy(threshold float64, maxRetries int) Option {
	return func(c *Config) error {
		c.QualityThreshold = threshold
		c.MaxRetries = maxRetries
		return nil
	}
}

// WithOutputDir overrides the directory stage_metrics.json and
// benchmark.json are written under.
func WithOutputDir(dir string) Option {
	return func(c *Config) error {
		c.OutputDir = dir
		return nil
	}
}
