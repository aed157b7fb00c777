package alert

import (
	"context"

	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	alertlogger "github.com/smallbiznis/meterflow/internal/alert/provider/logger"
	"github.com/smallbiznis/meterflow/internal/alert/provider/slack"
	"github.com/smallbiznis/meterflow/internal/alert/service"
	"github.com/smallbiznis/meterflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("alert.service",
	fx.Provide(NewDispatcher),
	fx.Provide(func(d *service.Dispatcher) alertdomain.Dispatcher { return d }),
	fx.Invoke(runDispatcher),
)

func NewDispatcher(cfg config.Config, log *zap.Logger) *service.Dispatcher {
	providers := []alertdomain.Provider{alertlogger.New(log)}
	if cfg.Alert.SlackWebhookURL != "" {
		p, err := slack.New(cfg.Alert.SlackWebhookURL)
		if err != nil {
			log.Warn("slack alert provider disabled", zap.Error(err))
		} else {
			providers = append(providers, p)
		}
	}
	return service.NewDispatcher(log, service.Config{QueueSize: cfg.Alert.QueueSize}, providers...)
}

func runDispatcher(lc fx.Lifecycle, d *service.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			d.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return d.Stop(ctx)
		},
	})
}
