package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/config"
	invoicedomain "github.com/smallbiznis/meterflow/internal/invoice/domain"
	lifecycledomain "github.com/smallbiznis/meterflow/internal/lifecycle/domain"
	obsmetrics "github.com/smallbiznis/meterflow/internal/observability/metrics"
	"github.com/smallbiznis/meterflow/internal/observability/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobStart       = "start"
	JobEndRenew    = "end_renew"
	JobReconcile   = "reconcile"
	JobFlushEvents = "flush_events"
	JobPushMetrics = "push_metrics"
)

var (
	ErrInvalidConfig = errors.New("scheduler_invalid_config")
	ErrUnknownJob    = errors.New("scheduler_unknown_job")
	ErrJobRunning    = errors.New("scheduler_job_running")
)

// EventFlusher submits staged events whose collection is due.
type EventFlusher interface {
	MaybeFlush(ctx context.Context) (bool, error)
}

// MetricsPusher ships the process's metrics to an external collector.
type MetricsPusher interface {
	Push(ctx context.Context) error
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Clock     clock.Clock
	Engine    *config.EngineConfigHolder
	Lifecycle lifecycledomain.Manager
	Invoices  invoicedomain.Service
	Events    EventFlusher
	Pusher    MetricsPusher                `optional:"true"`
	Metrics   *obsmetrics.SchedulerMetrics `optional:"true"`
	Config    Config                       `optional:"true"`
}

type job struct {
	name     string
	resource string
	timeout  time.Duration
	spec     func(config.ScheduleConfig) string
	run      func(ctx context.Context, run *jobRun) error

	// running keeps a job from overlapping itself, whether triggered by
	// cron or by RunJob.
	running sync.Mutex
}

// Scheduler runs each engine job on its own cron spec. Jobs are independent:
// a failing or slow job never delays another.
type Scheduler struct {
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	engine    *config.EngineConfigHolder
	lifecycle lifecycledomain.Manager
	invoices  invoicedomain.Service
	events    EventFlusher
	pusher    MetricsPusher
	metrics   *obsmetrics.SchedulerMetrics

	jobs  map[string]*job
	order []string

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Engine == nil || p.Lifecycle == nil || p.Invoices == nil || p.Events == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	s := &Scheduler{
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg,
		clock:     p.Clock,
		engine:    p.Engine,
		lifecycle: p.Lifecycle,
		invoices:  p.Invoices,
		events:    p.Events,
		pusher:    p.Pusher,
		metrics:   p.Metrics,
		jobs:      make(map[string]*job),
	}

	s.register(&job{
		name: JobStart, resource: "subscription", timeout: cfg.PassTimeout,
		spec: func(c config.ScheduleConfig) string { return c.StartSubscriptions },
		run:  s.startJob,
	})
	s.register(&job{
		name: JobEndRenew, resource: "subscription", timeout: cfg.PassTimeout,
		spec: func(c config.ScheduleConfig) string { return c.EndRenewSubscriptions },
		run:  s.endRenewJob,
	})
	s.register(&job{
		name: JobReconcile, resource: "invoice", timeout: cfg.ReconcileTimeout,
		spec: func(c config.ScheduleConfig) string { return c.ReconcileInvoices },
		run:  s.reconcileJob,
	})
	s.register(&job{
		name: JobFlushEvents, resource: "event_batch", timeout: cfg.FlushTimeout,
		spec: func(c config.ScheduleConfig) string { return c.FlushEvents },
		run:  s.flushJob,
	})
	if s.pusher != nil {
		s.register(&job{
			name: JobPushMetrics, resource: "push", timeout: cfg.PushTimeout,
			spec: func(c config.ScheduleConfig) string { return c.PushMetrics },
			run:  s.pushJob,
		})
	}
	return s, nil
}

func (s *Scheduler) register(j *job) {
	s.jobs[j.name] = j
	s.order = append(s.order, j.name)
}

// Jobs lists the registered job names in registration order.
func (s *Scheduler) Jobs() []string {
	return append([]string(nil), s.order...)
}

// RunJob runs one job now. It returns ErrJobRunning when the job is already
// in progress in this process.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	j, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !j.running.TryLock() {
		s.log.Info("scheduler.job.skipped", zap.String("job", name), zap.String("reason", "still_running"))
		return ErrJobRunning
	}
	defer j.running.Unlock()
	return s.runJob(ctx, j)
}

func (s *Scheduler) runJob(parent context.Context, j *job) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, j.timeout)
	defer cancel()

	ctx, run := s.startJobRun(ctx, j.name)
	ctx, span := tracing.Start(ctx, "scheduler."+j.name,
		attribute.String("scheduler.job", j.name),
		attribute.String("scheduler.run_id", run.runID),
	)
	s.logJobStart(ctx, run)
	s.metrics.IncJobRun(j.name)

	err := j.run(ctx, run)
	span.SetAttributes(
		attribute.Int("scheduler.processed", run.processedCount),
		attribute.Int("scheduler.errors", run.errorCount),
	)
	tracing.End(span, err)
	s.metrics.ObserveJobDuration(j.name, time.Since(start))
	s.metrics.AddBatchProcessed(j.name, j.resource, run.processedCount)
	if err != nil && run.errorCount == 0 {
		run.AddErrors(1)
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the next run picks up where this one stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(j.name)
	}
	s.metrics.IncJobError(j.name, err)
	if isTimeout {
		s.logger(ctx).Warn("job timed out",
			zap.String("job", j.name),
			zap.Duration("timeout", j.timeout),
			zap.Error(err),
		)
		return nil
	}
	s.logJobError(ctx, run, err)
	return fmt.Errorf("%s: %w", j.name, err)
}

// Start schedules every enabled job with the cron specs currently in the
// engine config. Spec changes take effect on the next Start.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithParser(cron.NewParser(
			cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor,
		)),
		cron.WithLogger(cronLogger{log: s.log.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{log: s.log.Sugar()})),
	)
	ctx, cancel := context.WithCancel(context.Background())

	schedule := s.engine.Get().Schedule
	for _, name := range s.order {
		if !s.isJobEnabled(name) {
			continue
		}
		spec := strings.TrimSpace(s.jobs[name].spec(schedule))
		if _, err := c.AddFunc(spec, func() { s.runScheduled(ctx, name) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s %q: %w", name, spec, err)
		}
		s.log.Info("scheduler.job.scheduled", zap.String("job", name), zap.String("spec", spec))
	}

	c.Start()
	s.cron, s.ctx, s.cancel = c, ctx, cancel
	return nil
}

// Stop prevents new runs and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) runScheduled(ctx context.Context, name string) {
	if err := s.RunJob(ctx, name); err != nil && !errors.Is(err, ErrJobRunning) {
		s.log.Warn("scheduler run failed", zap.String("job", name), zap.Error(err))
	}
}

func (s *Scheduler) isJobEnabled(name string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(strings.TrimSpace(enabled), name) {
			return true
		}
	}
	return false
}

func (s *Scheduler) startJob(ctx context.Context, run *jobRun) error {
	report, err := s.lifecycle.StartPass(ctx)
	recordPass(run, report)
	return err
}

func (s *Scheduler) endRenewJob(ctx context.Context, run *jobRun) error {
	report, err := s.lifecycle.EndRenewPass(ctx)
	recordPass(run, report)
	return err
}

// recordPass counts per-subscription failures without failing the job; the
// manager already logged and alerted on each of them.
func recordPass(run *jobRun, report lifecycledomain.PassReport) {
	run.AddProcessed(report.Processed())
	failed := 0
	for _, res := range report.Results {
		if res.Err != nil {
			failed++
		}
	}
	run.AddErrors(failed)
}

func (s *Scheduler) reconcileJob(ctx context.Context, run *jobRun) error {
	report, err := s.invoices.Reconcile(ctx)
	run.AddProcessed(report.Updated + report.Collected)
	run.AddErrors(report.Failed)
	return err
}

func (s *Scheduler) flushJob(ctx context.Context, run *jobRun) error {
	flushed, err := s.events.MaybeFlush(ctx)
	if flushed {
		run.AddProcessed(1)
	}
	return err
}

func (s *Scheduler) pushJob(ctx context.Context, run *jobRun) error {
	if err := s.pusher.Push(ctx); err != nil {
		return err
	}
	run.AddProcessed(1)
	return nil
}
