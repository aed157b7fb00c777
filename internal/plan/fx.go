package plan

import (
	"github.com/smallbiznis/meterflow/internal/plan/repository"
	"github.com/smallbiznis/meterflow/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
