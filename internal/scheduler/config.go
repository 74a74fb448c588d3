package scheduler

import (
	"strings"
	"time"

	"github.com/smallbiznis/paysync/internal/config"
)

// Config controls the reprocess sweep.
type Config struct {
	Enabled   bool
	Schedule  string
	BatchSize int
	Timeout   time.Duration
	// LockTTL bounds how long one instance may own the sweep.
	LockTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Schedule:  "@every 30s",
		BatchSize: 50,
		Timeout:   25 * time.Second,
		LockTTL:   time.Minute,
	}
}

func ProvideConfig(cfg config.Config, holder *config.ReconcileConfigHolder) Config {
	out := DefaultConfig()
	out.Enabled = cfg.Reprocess.Enabled
	if spec := strings.TrimSpace(cfg.Reprocess.Schedule); spec != "" {
		out.Schedule = spec
	}
	if holder != nil {
		out.BatchSize = holder.Get().ReprocessBatch
	}
	return out
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if strings.TrimSpace(c.Schedule) == "" {
		c.Schedule = defaults.Schedule
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}
