package scheduler

import (
	"time"

	"github.com/mogcia-app/signal/internal/config"
)

// Config controls scheduler intervals and batch sizes. The periodic
// reconcile interval is read from the KPI config on every tick.
type Config struct {
	RunInterval       time.Duration
	BatchSize         int
	RecoveryThreshold time.Duration
	RebuildTimeout    time.Duration
	ReconcileTimeout  time.Duration
	EnabledJobs       []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:       time.Minute,
		BatchSize:         10,
		RecoveryThreshold: 45 * time.Minute,
		RebuildTimeout:    35 * time.Minute,
		ReconcileTimeout:  time.Hour,
	}
}

func ProvideConfig(cfg config.Config) Config {
	c := DefaultConfig()
	c.EnabledJobs = cfg.SchedulerJobs
	return c
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.RebuildTimeout <= 0 {
		c.RebuildTimeout = defaults.RebuildTimeout
	}
	if c.ReconcileTimeout <= 0 {
		c.ReconcileTimeout = defaults.ReconcileTimeout
	}
	return c
}
