package subscription

import (
	"github.com/smallbiznis/meterflow/internal/subscription/repository"
	"github.com/smallbiznis/meterflow/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(repository.Provide),
	fx.Provide(repository.NewPlanReferences),
	fx.Provide(service.New),
)
