package scheduler

import (
	"time"

	appconfig "github.com/apexhq/apex/internal/config"
)

const tickLockKey = "apex:scheduler:tick"

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	BatchSize   int
	// EnabledJobs limits which jobs this instance runs. Empty means all.
	EnabledJobs []string
	// TickLockKey serializes ticks across instances when a Locker is
	// configured. Empty disables the lock, overlapping ticks are safe.
	TickLockKey string
	TickLockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		JobTimeout:  30 * time.Second,
		BatchSize:   50,
		TickLockTTL: 55 * time.Second,
	}
}

// NewConfig maps application settings onto scheduler settings. The tick
// lock only gets a key when it is switched on.
func NewConfig(cfg appconfig.Config) Config {
	out := DefaultConfig()
	if cfg.RateLimit.TickLockEnabled {
		out.TickLockKey = tickLockKey
		if cfg.RateLimit.TickLockTTL > 0 {
			out.TickLockTTL = cfg.RateLimit.TickLockTTL
		}
	}
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.TickLockTTL <= 0 {
		c.TickLockTTL = defaults.TickLockTTL
	}
	return c
}
