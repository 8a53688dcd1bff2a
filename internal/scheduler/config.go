package scheduler

import (
	"time"
)

// Config controls sweep cadence and batch sizes.
type Config struct {
	RunInterval    time.Duration
	BatchSize      int
	RetryBatchSize int
	SweepLockTTL   time.Duration
	EnabledJobs    []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:    time.Minute,
		BatchSize:      100,
		RetryBatchSize: 25,
		SweepLockTTL:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RetryBatchSize <= 0 {
		c.RetryBatchSize = defaults.RetryBatchSize
	}
	if c.SweepLockTTL <= 0 {
		c.SweepLockTTL = defaults.SweepLockTTL
	}
	return c
}
