package usage

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterflow/internal/config"
	"github.com/smallbiznis/meterflow/internal/usage/aggregation"
	"github.com/smallbiznis/meterflow/internal/usage/buffer"
	"github.com/smallbiznis/meterflow/internal/usage/repository"
	"github.com/smallbiznis/meterflow/internal/usage/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(NewStager),
	fx.Provide(buffer.New),
	fx.Provide(aggregation.New),
	fx.Provide(service.New),
	fx.Invoke(runBuffer),
)

type StagerParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *goredis.Client `optional:"true"`
}

var errRedisStagerUnavailable = errors.New("buffer backend redis requires REDIS_ADDR")

func NewStager(p StagerParams) (buffer.Stager, error) {
	if p.Config.BufferBackend != config.BufferBackendRedis {
		return buffer.NewMemoryStager(), nil
	}
	if p.Redis == nil {
		return nil, errRedisStagerUnavailable
	}
	p.Log.Info("event buffer staged in redis")
	return buffer.NewRedisStager(p.Redis), nil
}

func runBuffer(lc fx.Lifecycle, b *buffer.Buffer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			b.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return b.Drain(ctx)
		},
	})
}
