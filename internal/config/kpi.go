package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MaxBackfillBatchSize is the store's per-transaction write ceiling.
const MaxBackfillBatchSize = 400

// KPIConfig tunes the aggregation engine. It can be changed at runtime.
type KPIConfig struct {
	SupportedSNSKind  string        `mapstructure:"supportedSnsKind"`
	DefaultTimezone   string        `mapstructure:"defaultTimezone"`
	BackfillBatchSize int           `mapstructure:"backfillBatchSize"`
	ScanPageSize      int           `mapstructure:"scanPageSize"`
	ReconcileInterval time.Duration `mapstructure:"reconcileInterval"`
	SummaryLockTTL    time.Duration `mapstructure:"summaryLockTTL"`
}

func DefaultKPIConfig() KPIConfig {
	return KPIConfig{
		SupportedSNSKind:  "instagram",
		DefaultTimezone:   "Asia/Tokyo",
		BackfillBatchSize: MaxBackfillBatchSize,
		ScanPageSize:      1000,
		ReconcileInterval: 0,
		SummaryLockTTL:    10 * time.Second,
	}
}

type KPIConfigHolder struct {
	current atomic.Value // holds KPIConfig
}

// NewStaticKPIConfigHolder wraps a fixed config without watching any file.
func NewStaticKPIConfigHolder(cfg KPIConfig) (*KPIConfigHolder, error) {
	if err := validateKPIConfig(cfg); err != nil {
		return nil, err
	}
	holder := &KPIConfigHolder{}
	holder.current.Store(cfg)
	return holder, nil
}

func NewKPIConfigHolder() (*KPIConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("kpi")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/signal/config")
	v.AddConfigPath("/etc/signal")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SIGNAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultKPIConfig()
	v.SetDefault("kpi.supportedSnsKind", defaults.SupportedSNSKind)
	v.SetDefault("kpi.defaultTimezone", defaults.DefaultTimezone)
	v.SetDefault("kpi.backfillBatchSize", defaults.BackfillBatchSize)
	v.SetDefault("kpi.scanPageSize", defaults.ScanPageSize)
	v.SetDefault("kpi.reconcileInterval", defaults.ReconcileInterval)
	v.SetDefault("kpi.summaryLockTTL", defaults.SummaryLockTTL)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg KPIConfig
	if err := v.UnmarshalKey("kpi", &cfg); err != nil {
		return nil, err
	}
	if err := validateKPIConfig(cfg); err != nil {
		return nil, err
	}

	holder := &KPIConfigHolder{}
	holder.current.Store(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated KPIConfig
			if err := v.UnmarshalKey("kpi", &updated); err != nil {
				log.Printf("[kpi-config] reload failed: %v", err)
				return
			}
			if err := validateKPIConfig(updated); err != nil {
				log.Printf("[kpi-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[kpi-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func (h *KPIConfigHolder) Get() KPIConfig {
	if h == nil {
		return DefaultKPIConfig()
	}
	cfg, ok := h.current.Load().(KPIConfig)
	if !ok {
		return DefaultKPIConfig()
	}
	return cfg
}

func validateKPIConfig(cfg KPIConfig) error {
	if strings.TrimSpace(cfg.SupportedSNSKind) == "" {
		return errors.New("kpi.supportedSnsKind cannot be empty")
	}
	if strings.TrimSpace(cfg.DefaultTimezone) == "" {
		return errors.New("kpi.defaultTimezone cannot be empty")
	}
	if cfg.BackfillBatchSize <= 0 || cfg.BackfillBatchSize > MaxBackfillBatchSize {
		return errors.New("kpi.backfillBatchSize must be between 1 and 400")
	}
	if cfg.ScanPageSize <= 0 {
		return errors.New("kpi.scanPageSize must be positive")
	}
	if cfg.ReconcileInterval < 0 {
		return errors.New("kpi.reconcileInterval cannot be negative")
	}
	return nil
}
