package lifecycle

import (
	lifecycledomain "github.com/smallbiznis/meterflow/internal/lifecycle/domain"
	"github.com/smallbiznis/meterflow/internal/lifecycle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("lifecycle.manager",
	fx.Provide(service.New),
	fx.Provide(func(m *service.Manager) lifecycledomain.Manager { return m }),
)
