package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/internal/alert"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/cloudmetrics"
	"github.com/smallbiznis/meterflow/internal/config"
	"github.com/smallbiznis/meterflow/internal/invoice"
	"github.com/smallbiznis/meterflow/internal/lifecycle"
	"github.com/smallbiznis/meterflow/internal/lock"
	"github.com/smallbiznis/meterflow/internal/meter"
	"github.com/smallbiznis/meterflow/internal/migration"
	"github.com/smallbiznis/meterflow/internal/observability"
	"github.com/smallbiznis/meterflow/internal/payment"
	"github.com/smallbiznis/meterflow/internal/plan"
	"github.com/smallbiznis/meterflow/internal/rating"
	"github.com/smallbiznis/meterflow/internal/redis"
	"github.com/smallbiznis/meterflow/internal/scheduler"
	"github.com/smallbiznis/meterflow/internal/subscription"
	"github.com/smallbiznis/meterflow/internal/usage"
	"github.com/smallbiznis/meterflow/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		redis.Module,
		lock.Module,
		alert.Module,
		cloudmetrics.Module,

		// Billing
		meter.Module,
		plan.Module,
		rating.Module,
		usage.Module,
		subscription.Module,
		payment.Module,
		invoice.Module,
		lifecycle.Module,

		scheduler.Module,
		scheduler.Run,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
