package meter

import (
	"github.com/smallbiznis/meterflow/internal/meter/repository"
	"github.com/smallbiznis/meterflow/internal/meter/service"
	"go.uber.org/fx"
)

var Module = fx.Module("meter.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
