package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

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
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

// passJobs maps CLI pass names to scheduler jobs.
var passJobs = map[string]string{
	"start":     scheduler.JobStart,
	"end":       scheduler.JobEndRenew,
	"reconcile": scheduler.JobReconcile,
	"flush":     scheduler.JobFlushEvents,
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "meterflow",
		Short:        "Usage-based billing engine",
		Version:      readVersionFromEnv(),
		SilenceUsage: true,
	}
	root.AddCommand(newEngineCmd(), newMigrateCmd(), newPassCmd())
	return root
}

func newEngineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "engine",
		Short: "Run migrations, then the scheduled engine until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				billingModules(),
				migration.Module,
				cloudmetrics.Module,
				scheduler.Run,
			)
			app.Run()
			return app.Err()
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate()
		},
	}
}

const passLong = `Run one engine pass and exit, for external cron.

flush needs BUFFER_BACKEND=redis: with the memory backend a fresh process
has nothing staged.`

func newPassCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:       "pass <start|end|reconcile|flush>",
		Short:     "Run one engine pass and exit, for external cron",
		Long:      passLong,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"start", "end", "reconcile", "flush"},
		RunE: func(cmd *cobra.Command, args []string) error {
			job := passJobs[args[0]]
			if err := checkPass(job, config.Load()); err != nil {
				return err
			}
			return runPass(cmd.Context(), job, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "upper bound for startup, the pass and shutdown")
	return cmd
}

var errFlushNeedsSharedBuffer = errors.New("pass flush requires BUFFER_BACKEND=redis: the memory buffer of a one-shot process is always empty")

// checkPass rejects passes that cannot do anything in a one-shot process.
func checkPass(job string, cfg config.Config) error {
	if job == scheduler.JobFlushEvents && cfg.BufferBackend != config.BufferBackendRedis {
		return errFlushNeedsSharedBuffer
	}
	return nil
}

func runMigrate() error {
	app := fx.New(
		config.Module,
		observability.Module,
		db.Module,
		migration.Module,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("migrate failed: %w", err)
	}
	_ = app.Stop(context.Background())
	return nil
}

func runPass(parent context.Context, job string, timeout time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	var sched *scheduler.Scheduler
	app := fx.New(
		billingModules(),
		fx.Populate(&sched),
	)
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	runErr := sched.RunJob(ctx, job)

	// Stopping drains the event buffer and the alert queue.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	stopErr := app.Stop(stopCtx)

	if runErr != nil {
		return runErr
	}
	if stopErr != nil {
		return fmt.Errorf("stop engine: %w", stopErr)
	}
	return json.NewEncoder(os.Stdout).Encode(map[string]string{"job": job, "status": "ok"})
}

// billingModules wires every billing component without starting the cron loop.
func billingModules() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		redis.Module,
		lock.Module,
		alert.Module,
		meter.Module,
		plan.Module,
		rating.Module,
		usage.Module,
		subscription.Module,
		payment.Module,
		invoice.Module,
		lifecycle.Module,
		scheduler.Module,
	)
}

func registerSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
