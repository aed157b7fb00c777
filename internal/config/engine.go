package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EngineConfig carries the runtime tuning that operators may change without a restart.
type EngineConfig struct {
	Buffer      BufferConfig      `mapstructure:"buffer"`
	Schedule    ScheduleConfig    `mapstructure:"schedule"`
	Reconcile   ReconcileConfig   `mapstructure:"reconcile"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Collection  CollectionConfig  `mapstructure:"collection"`
}

type BufferConfig struct {
	FlushCount           int           `mapstructure:"flushCount"`
	FlushInterval        time.Duration `mapstructure:"flushInterval"`
	MaxRetries           uint          `mapstructure:"maxRetries"`
	RetryInitialInterval time.Duration `mapstructure:"retryInitialInterval"`
	RetryMaxInterval     time.Duration `mapstructure:"retryMaxInterval"`
	WriteTimeout         time.Duration `mapstructure:"writeTimeout"`
	WriteBatchSize       int           `mapstructure:"writeBatchSize"`
}

// ScheduleConfig holds cron specs (robfig/cron syntax, seconds optional).
type ScheduleConfig struct {
	StartSubscriptions    string `mapstructure:"startSubscriptions"`
	EndRenewSubscriptions string `mapstructure:"endRenewSubscriptions"`
	ReconcileInvoices     string `mapstructure:"reconcileInvoices"`
	FlushEvents           string `mapstructure:"flushEvents"`
	PushMetrics           string `mapstructure:"pushMetrics"`
}

type ReconcileConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	BatchSize   int `mapstructure:"batchSize"`
}

// CollectionConfig bounds calls to the payment processor.
type CollectionConfig struct {
	MaxRetries           uint          `mapstructure:"maxRetries"`
	RetryInitialInterval time.Duration `mapstructure:"retryInitialInterval"`
	RetryMaxInterval     time.Duration `mapstructure:"retryMaxInterval"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

type AggregationConfig struct {
	// EmptyMaxDefault is returned by max aggregations over zero events.
	// Empty means the aggregation fails with a no-data error instead.
	EmptyMaxDefault string `mapstructure:"emptyMaxDefault"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Buffer: BufferConfig{
			FlushCount:           1000,
			FlushInterval:        180 * time.Second,
			MaxRetries:           5,
			RetryInitialInterval: 200 * time.Millisecond,
			RetryMaxInterval:     10 * time.Second,
			WriteTimeout:         30 * time.Second,
			WriteBatchSize:       500,
		},
		Schedule: ScheduleConfig{
			StartSubscriptions:    "*/5 * * * *",
			EndRenewSubscriptions: "*/5 * * * *",
			ReconcileInvoices:     "*/10 * * * *",
			FlushEvents:           "@every 10s",
			PushMetrics:           "@every 30s",
		},
		Reconcile: ReconcileConfig{
			Concurrency: 8,
			BatchSize:   200,
		},
		Collection: CollectionConfig{
			MaxRetries:           3,
			RetryInitialInterval: 250 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			Timeout:              10 * time.Second,
		},
	}
}

// EmptyMax parses the configured default for empty max aggregations.
func (c AggregationConfig) EmptyMax() (decimal.Decimal, bool) {
	raw := strings.TrimSpace(c.EmptyMaxDefault)
	if raw == "" {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

// NewStaticEngineConfigHolder wraps a fixed config, used by tests and one-shot commands.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewEngineConfigHolder(log *zap.Logger) (*EngineConfigHolder, error) {
	log = log.Named("config.engine")
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/meterflow/config") // Volume-mounted config
	v.AddConfigPath("/etc/meterflow")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	v.SetEnvPrefix("METERFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		found = false
	}

	cfg := DefaultEngineConfig()
	if found {
		if err := v.UnmarshalKey("engine", &cfg); err != nil {
			return nil, err
		}
	}
	cfg = cfg.withDefaults()
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	if !found {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultEngineConfig()
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Warn("engine config reload failed", zap.Error(err))
			return
		}
		updated = updated.withDefaults()
		if err := validateEngineConfig(updated); err != nil {
			log.Warn("invalid engine config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("engine config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func (c EngineConfig) withDefaults() EngineConfig {
	defaults := DefaultEngineConfig()
	if c.Buffer.FlushCount <= 0 {
		c.Buffer.FlushCount = defaults.Buffer.FlushCount
	}
	if c.Buffer.FlushInterval <= 0 {
		c.Buffer.FlushInterval = defaults.Buffer.FlushInterval
	}
	if c.Buffer.MaxRetries == 0 {
		c.Buffer.MaxRetries = defaults.Buffer.MaxRetries
	}
	if c.Buffer.RetryInitialInterval <= 0 {
		c.Buffer.RetryInitialInterval = defaults.Buffer.RetryInitialInterval
	}
	if c.Buffer.RetryMaxInterval <= 0 {
		c.Buffer.RetryMaxInterval = defaults.Buffer.RetryMaxInterval
	}
	if c.Buffer.WriteTimeout <= 0 {
		c.Buffer.WriteTimeout = defaults.Buffer.WriteTimeout
	}
	if c.Buffer.WriteBatchSize <= 0 {
		c.Buffer.WriteBatchSize = defaults.Buffer.WriteBatchSize
	}
	if strings.TrimSpace(c.Schedule.StartSubscriptions) == "" {
		c.Schedule.StartSubscriptions = defaults.Schedule.StartSubscriptions
	}
	if strings.TrimSpace(c.Schedule.EndRenewSubscriptions) == "" {
		c.Schedule.EndRenewSubscriptions = defaults.Schedule.EndRenewSubscriptions
	}
	if strings.TrimSpace(c.Schedule.ReconcileInvoices) == "" {
		c.Schedule.ReconcileInvoices = defaults.Schedule.ReconcileInvoices
	}
	if strings.TrimSpace(c.Schedule.FlushEvents) == "" {
		c.Schedule.FlushEvents = defaults.Schedule.FlushEvents
	}
	if strings.TrimSpace(c.Schedule.PushMetrics) == "" {
		c.Schedule.PushMetrics = defaults.Schedule.PushMetrics
	}
	if c.Reconcile.Concurrency <= 0 {
		c.Reconcile.Concurrency = defaults.Reconcile.Concurrency
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = defaults.Reconcile.BatchSize
	}
	if c.Collection.MaxRetries == 0 {
		c.Collection.MaxRetries = defaults.Collection.MaxRetries
	}
	if c.Collection.RetryInitialInterval <= 0 {
		c.Collection.RetryInitialInterval = defaults.Collection.RetryInitialInterval
	}
	if c.Collection.RetryMaxInterval <= 0 {
		c.Collection.RetryMaxInterval = defaults.Collection.RetryMaxInterval
	}
	if c.Collection.Timeout <= 0 {
		c.Collection.Timeout = defaults.Collection.Timeout
	}
	return c
}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.Buffer.RetryMaxInterval < cfg.Buffer.RetryInitialInterval {
		return errors.New("engine.buffer.retryMaxInterval must be >= retryInitialInterval")
	}
	if cfg.Collection.RetryMaxInterval < cfg.Collection.RetryInitialInterval {
		return errors.New("engine.collection.retryMaxInterval must be >= retryInitialInterval")
	}
	if raw := strings.TrimSpace(cfg.Aggregation.EmptyMaxDefault); raw != "" {
		if _, err := decimal.NewFromString(raw); err != nil {
			return errors.New("engine.aggregation.emptyMaxDefault must be a decimal")
		}
	}
	return nil
}
