package scheduler

import (
	"context"

	"github.com/smallbiznis/meterflow/internal/cloudmetrics"
	"github.com/smallbiznis/meterflow/internal/usage/buffer"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(func(b *buffer.Buffer) EventFlusher { return b }),
	fx.Provide(providePusher),
	fx.Provide(New),
)

// Run starts the cron loop with the application and stops it on shutdown.
// One-shot commands provide Module without invoking Run.
var Run = fx.Invoke(runScheduler)

type pusherParams struct {
	fx.In

	Exporter *cloudmetrics.Exporter `optional:"true"`
}

func providePusher(p pusherParams) MetricsPusher {
	if p.Exporter == nil {
		return nil
	}
	return p.Exporter
}

func runScheduler(lc fx.Lifecycle, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
