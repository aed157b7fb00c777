package lock

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterflow/internal/config"
	obsmetrics "github.com/smallbiznis/meterflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("lock",
	fx.Provide(NewLocker),
)

type Params struct {
	fx.In

	Config  config.Config
	DB      *gorm.DB
	Redis   *redis.Client `optional:"true"`
	Log     *zap.Logger
	Metrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

func NewLocker(p Params) (Locker, error) {
	var base Locker
	switch p.Config.LockBackend {
	case config.LockBackendRedis:
		if p.Redis == nil {
			return nil, errors.New("lock backend redis requires REDIS_ADDR")
		}
		base = NewRedisLocker(p.Redis, 5*time.Minute)
	case config.LockBackendPostgres:
		sqlDB, err := p.DB.DB()
		if err != nil {
			return nil, err
		}
		base = NewPostgresLocker(sqlDB)
	default:
		base = NewLocalLocker()
	}
	p.Log.Named("lock").Info("locker configured", zap.String("backend", base.Backend()))
	return Instrument(base, p.Metrics), nil
}

type instrumented struct {
	Locker
	metrics *obsmetrics.SchedulerMetrics
}

// Instrument records how long callers wait on l.
func Instrument(l Locker, m *obsmetrics.SchedulerMetrics) Locker {
	if m == nil {
		return l
	}
	return &instrumented{Locker: l, metrics: m}
}

func (i *instrumented) Lock(ctx context.Context, key string) (Release, error) {
	start := time.Now()
	release, err := i.Locker.Lock(ctx, key)
	i.metrics.ObserveLockWait(i.Backend(), time.Since(start))
	return release, err
}
