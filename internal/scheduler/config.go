package scheduler

import (
	"time"
)

// Config bounds how long each job may run. Cron specs live in the engine
// config so they can be tuned without a restart of the process config.
type Config struct {
	PassTimeout      time.Duration
	ReconcileTimeout time.Duration
	FlushTimeout     time.Duration
	PushTimeout      time.Duration
	// EnabledJobs limits which jobs are scheduled; empty enables all.
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		PassTimeout:      30 * time.Minute,
		ReconcileTimeout: 10 * time.Minute,
		FlushTimeout:     30 * time.Second,
		PushTimeout:      10 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.PassTimeout <= 0 {
		c.PassTimeout = defaults.PassTimeout
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = defaults.ReconcileTimeout
	}
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = defaults.FlushTimeout
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = defaults.PushTimeout
	}
	return c
}
