package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcileConfig tunes the reconciliation read and write paths. It is hot reloaded.
type ReconcileConfig struct {
	FreshnessThreshold   time.Duration `mapstructure:"freshness_threshold"`
	FallbackInterval     time.Duration `mapstructure:"fallback_interval"`
	ProviderTimeout      time.Duration `mapstructure:"provider_timeout"`
	LockTTL              time.Duration `mapstructure:"lock_ttl"`
	LockWait             time.Duration `mapstructure:"lock_wait"`
	SignupGrace          time.Duration `mapstructure:"signup_grace"`
	ReprocessBatch       int           `mapstructure:"reprocess_batch"`
	ReprocessMaxAttempts int           `mapstructure:"reprocess_max_attempts"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		FreshnessThreshold:   30 * time.Second,
		FallbackInterval:     10 * time.Second,
		ProviderTimeout:      5 * time.Second,
		LockTTL:              30 * time.Second,
		LockWait:             5 * time.Second,
		SignupGrace:          10 * time.Minute,
		ReprocessBatch:       50,
		ReprocessMaxAttempts: 10,
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconcileConfigHolder(log *zap.Logger) (*ReconcileConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.reconcile")

	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/paysync")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RECONCILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.freshness_threshold", defaults.FreshnessThreshold)
	v.SetDefault("reconcile.fallback_interval", defaults.FallbackInterval)
	v.SetDefault("reconcile.provider_timeout", defaults.ProviderTimeout)
	v.SetDefault("reconcile.lock_ttl", defaults.LockTTL)
	v.SetDefault("reconcile.lock_wait", defaults.LockWait)
	v.SetDefault("reconcile.signup_grace", defaults.SignupGrace)
	v.SetDefault("reconcile.reprocess_batch", defaults.ReprocessBatch)
	v.SetDefault("reconcile.reprocess_max_attempts", defaults.ReprocessMaxAttempts)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return nil, err
	}
	if err := validateReconcileConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticReconcileConfigHolder(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateReconcileConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	if h == nil {
		return DefaultReconcileConfig()
	}
	cfg, ok := h.current.Load().(ReconcileConfig)
	if !ok {
		return DefaultReconcileConfig()
	}
	return cfg
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.FreshnessThreshold < 0 {
		return errors.New("reconcile.freshness_threshold cannot be negative")
	}
	if cfg.FallbackInterval <= 0 {
		return errors.New("reconcile.fallback_interval must be positive")
	}
	if cfg.ProviderTimeout <= 0 {
		return errors.New("reconcile.provider_timeout must be positive")
	}
	if cfg.LockTTL <= 0 || cfg.LockWait <= 0 {
		return errors.New("reconcile.lock_ttl and reconcile.lock_wait must be positive")
	}
	if cfg.ReprocessBatch <= 0 {
		return errors.New("reconcile.reprocess_batch must be positive")
	}
	if cfg.ReprocessMaxAttempts <= 0 {
		return errors.New("reconcile.reprocess_max_attempts must be positive")
	}
	return nil
}
