package payment

import (
	"github.com/smallbiznis/meterflow/internal/config"
	"github.com/smallbiznis/meterflow/internal/payment/adapters"
	"github.com/smallbiznis/meterflow/internal/payment/adapters/manual"
	"github.com/smallbiznis/meterflow/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/meterflow/internal/payment/domain"
	paymentservice "github.com/smallbiznis/meterflow/internal/payment/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("payment.service",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			manual.NewFactory(),
		)
	}),
	fx.Provide(NewCollector),
)

// NewCollector builds the configured processor collector wrapped with
// timeouts and retries.
func NewCollector(
	cfg config.Config,
	engine *config.EngineConfigHolder,
	registry *adapters.Registry,
	log *zap.Logger,
) (paymentdomain.Collector, error) {
	base, err := registry.NewCollector(cfg.Payment)
	if err != nil {
		return nil, err
	}
	log.Info("payment collector configured", zap.String("provider", base.Provider()))
	return paymentservice.NewRetryingCollector(base, log, engine), nil
}
