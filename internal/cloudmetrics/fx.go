package cloudmetrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("cloud.metrics",
	fx.Provide(NewPusher),
	fx.Provide(func(pusher Pusher, db *gorm.DB, log *zap.Logger) *Exporter {
		if pusher == nil {
			return nil
		}
		return NewExporter(pusher, db, prometheus.DefaultGatherer, log)
	}),
	fx.Invoke(RegisterInstrumentation),
)
