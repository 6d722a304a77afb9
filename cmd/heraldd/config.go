package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const envPrefix = "HERALD_"

// Config is the daemon configuration, read from HERALD_* environment
// variables after optional .env files are loaded.
type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	APIPrefix   string `env:"API_PREFIX" envDefault:"/webhooks"`
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	Store         string `env:"STORE" envDefault:"memory"` // memory, redis, postgres, sqlite or mongo
	RedisURL      string `env:"REDIS_URL"`
	PostgresDSN   string `env:"POSTGRES_DSN"`
	SQLiteDSN     string `env:"SQLITE_DSN"`
	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE"` // overrides the database named in MONGO_URI

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // json or text

	Product          string          `env:"PRODUCT" envDefault:"Herald"`
	SweepInterval    time.Duration   `env:"SWEEP_INTERVAL" envDefault:"30s"`
	SweepBatchSize   int             `env:"SWEEP_BATCH_SIZE" envDefault:"100"`
	SweepConcurrency int             `env:"SWEEP_CONCURRENCY" envDefault:"10"`
	SweepLockTTL     time.Duration   `env:"SWEEP_LOCK_TTL" envDefault:"5m"`
	Backoff          []time.Duration `env:"BACKOFF" envDefault:"60s,5m,30m" envSeparator:","`
	MaxResponseBody  int             `env:"MAX_RESPONSE_BODY" envDefault:"10240"`
	ShutdownTimeout  time.Duration   `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	TestDeliveryRate int             `env:"TEST_DELIVERY_RATE" envDefault:"1"`
}

// loadEnvFiles loads the env files that exist and reports how many did.
func loadEnvFiles(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// loadConfig reads .env files, then the environment.
func loadConfig(envFiles []string) (*Config, error) {
	if _, err := loadEnvFiles(envFiles); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Store {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("HERALD_REDIS_URL is required when HERALD_STORE is redis")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("HERALD_POSTGRES_DSN is required when HERALD_STORE is postgres")
		}
	case "sqlite":
		if c.SQLiteDSN == "" {
			return errors.New("HERALD_SQLITE_DSN is required when HERALD_STORE is sqlite")
		}
	case "mongo":
		if c.MongoURI == "" {
			return errors.New("HERALD_MONGO_URI is required when HERALD_STORE is mongo")
		}
	default:
		return fmt.Errorf("HERALD_STORE must be one of memory, redis, postgres, sqlite or mongo, got '%s'", c.Store)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("HERALD_LOG_FORMAT must be 'json' or 'text', got '%s'", c.LogFormat)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if len(c.Backoff) == 0 {
		return errors.New("HERALD_BACKOFF must list at least one duration")
	}
	for _, d := range c.Backoff {
		if d <= 0 {
			return fmt.Errorf("HERALD_BACKOFF entries must be positive, got %s", d)
		}
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("HERALD_SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.TestDeliveryRate < 0 {
		return fmt.Errorf("HERALD_TEST_DELIVERY_RATE must be non-negative, got %d", c.TestDeliveryRate)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("HERALD_LOG_LEVEL: %w", err)
	}
	return level, nil
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler).With("service", "heraldd")
}
