package invoice

import (
	invoicedomain "github.com/smallbiznis/meterflow/internal/invoice/domain"
	"github.com/smallbiznis/meterflow/internal/invoice/repository"
	"github.com/smallbiznis/meterflow/internal/invoice/service"
	"github.com/smallbiznis/meterflow/internal/usage/aggregation"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(a *aggregation.Aggregator) invoicedomain.UsageAggregator { return a }),
	fx.Provide(service.New),
)
