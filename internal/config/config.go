// Package config handles environment variable loading for connection
// strings, scheduler tunables and observability settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// Redis address for the distributed lock; empty selects the in-process
	// locker (single-node deployments only)
	RedisAddr string

	// HTTP port for metrics and health
	MetricsPort int

	// Environment scoping: when enabled, every query is scoped to
	// Environment
	Environment        string
	EnvironmentEnabled bool

	// Materializer: how far ahead crontab occurrences are generated and how
	// often the sweep runs
	LookaheadDays       int
	MaterializeInterval time.Duration

	// Execution engine
	Concurrency   int
	LockTTL       time.Duration
	PollInterval  time.Duration
	RatePerSecond float64

	// Retention reaper
	RetentionDays int
	ReapInterval  time.Duration

	// OTLP trace collector address; empty disables tracing
	OTELEndpoint string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		OTELEndpoint:        os.Getenv("CRONFLOW_OTEL_ENDPOINT"),
		Environment:         os.Getenv("CRONFLOW_ENVIRONMENT"),
		MetricsPort:         2112,
		LookaheadDays:       3,
		MaterializeInterval: time.Minute,
		Concurrency:         500,
		LockTTL:             10 * time.Minute,
		PollInterval:        10 * time.Second,
		RetentionDays:       10,
		ReapInterval:        time.Hour,
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var err error
	if cfg.MetricsPort, err = intEnv("CRONFLOW_METRICS_PORT", cfg.MetricsPort); err != nil {
		return nil, err
	}
	if cfg.EnvironmentEnabled, err = boolEnv("CRONFLOW_ENV_ENABLED", false); err != nil {
		return nil, err
	}
	if cfg.LookaheadDays, err = intEnv("CRONFLOW_LOOKAHEAD_DAYS", cfg.LookaheadDays); err != nil {
		return nil, err
	}
	if cfg.MaterializeInterval, err = durationEnv("CRONFLOW_MATERIALIZE_INTERVAL", cfg.MaterializeInterval); err != nil {
		return nil, err
	}
	if cfg.Concurrency, err = intEnv("CRONFLOW_CONCURRENCY", cfg.Concurrency); err != nil {
		return nil, err
	}
	if cfg.LockTTL, err = durationEnv("CRONFLOW_LOCK_TTL", cfg.LockTTL); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationEnv("CRONFLOW_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.RatePerSecond, err = floatEnv("CRONFLOW_RATE_LIMIT", 0); err != nil {
		return nil, err
	}
	if cfg.RetentionDays, err = intEnv("CRONFLOW_RETENTION_DAYS", cfg.RetentionDays); err != nil {
		return nil, err
	}
	if cfg.ReapInterval, err = durationEnv("CRONFLOW_REAP_INTERVAL", cfg.ReapInterval); err != nil {
		return nil, err
	}

	if cfg.EnvironmentEnabled && cfg.Environment == "" {
		return nil, fmt.Errorf("CRONFLOW_ENVIRONMENT is required when CRONFLOW_ENV_ENABLED is set")
	}

	return cfg, nil
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
