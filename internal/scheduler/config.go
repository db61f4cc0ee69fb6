package scheduler

import (
	"time"

	"github.com/smallbiznis/fintrack/internal/config"
)

// Config controls the janitor cadence and batch sizes.
type Config struct {
	Enabled     bool
	RunInterval time.Duration
	Retention   time.Duration
	BatchSize   int
	JobTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		RunInterval: 10 * time.Minute,
		Retention:   24 * time.Hour,
		BatchSize:   500,
		JobTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.Retention <= 0 {
		c.Retention = defaults.Retention
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.Janitor.Enabled,
		RunInterval: cfg.Janitor.Interval,
		Retention:   cfg.Janitor.Retention,
		BatchSize:   cfg.Janitor.BatchSize,
	}
}
