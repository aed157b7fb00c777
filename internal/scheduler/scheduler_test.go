package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/config"
	invoicedomain "github.com/smallbiznis/meterflow/internal/invoice/domain"
	lifecycledomain "github.com/smallbiznis/meterflow/internal/lifecycle/domain"
	obsmetrics "github.com/smallbiznis/meterflow/internal/observability/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type managerStub struct {
	startCalls atomic.Int32
	endCalls   atomic.Int32
	endFn      func(ctx context.Context) (lifecycledomain.PassReport, error)
}

func (m *managerStub) StartPass(ctx context.Context) (lifecycledomain.PassReport, error) {
	m.startCalls.Add(1)
	<-ctx.Done()
	return lifecycledomain.PassReport{Pass: lifecycledomain.PassStart}, ctx.Err()
}

func (m *managerStub) EndRenewPass(ctx context.Context) (lifecycledomain.PassReport, error) {
	m.endCalls.Add(1)
	if m.endFn != nil {
		return m.endFn(ctx)
	}
	return lifecycledomain.PassReport{Pass: lifecycledomain.PassEndRenew}, nil
}

type invoicesStub struct {
	invoicedomain.Service
	report invoicedomain.ReconcileReport
	err    error
}

func (s invoicesStub) Reconcile(context.Context) (invoicedomain.ReconcileReport, error) {
	return s.report, s.err
}

type flusherStub struct {
	calls atomic.Int32
}

func (f *flusherStub) MaybeFlush(context.Context) (bool, error) {
	f.calls.Add(1)
	return true, nil
}

type pusherFunc func(ctx context.Context) error

func (f pusherFunc) Push(ctx context.Context) error { return f(ctx) }

type fixture struct {
	sched    *Scheduler
	registry *prometheus.Registry
	manager  *managerStub
	flusher  *flusherStub
}

func newFixture(t *testing.T, mutate func(*Params)) fixture {
	t.Helper()
	registry := prometheus.NewRegistry()
	manager := &managerStub{}
	flusher := &flusherStub{}

	p := Params{
		Log:       zap.NewNop(),
		Clock:     clock.SystemClock{},
		Engine:    config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
		Lifecycle: manager,
		Invoices:  invoicesStub{},
		Events:    flusher,
		Metrics: obsmetrics.NewSchedulerMetrics(registry, obsmetrics.Config{
			ServiceName: "meterflow",
			Environment: "test",
		}),
		Config: Config{PassTimeout: 5 * time.Millisecond},
	}
	if mutate != nil {
		mutate(&p)
	}
	sched, err := New(p)
	require.NoError(t, err)
	return fixture{sched: sched, registry: registry, manager: manager, flusher: flusher}
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPushJobRegisteredOnlyWithPusher(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, []string{JobStart, JobEndRenew, JobReconcile, JobFlushEvents}, f.sched.Jobs())

	f = newFixture(t, func(p *Params) {
		p.Pusher = pusherFunc(func(context.Context) error { return nil })
	})
	assert.Contains(t, f.sched.Jobs(), JobPushMetrics)
}

func TestRunJobUnknown(t *testing.T) {
	f := newFixture(t, nil)
	err := f.sched.RunJob(context.Background(), "rollup")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	f := newFixture(t, nil)

	err := f.sched.RunJob(context.Background(), JobStart)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.manager.startCalls.Load())

	labels := map[string]string{"service": "meterflow", "env": "test", "job": JobStart}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "meterflow_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "meterflow",
		"env":     "test",
		"job":     JobStart,
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "meterflow_scheduler_job_errors_total", errorLabels))
}

func TestRunJobCountsProcessedSubscriptions(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.endFn = func(context.Context) (lifecycledomain.PassReport, error) {
		report := lifecycledomain.PassReport{Pass: lifecycledomain.PassEndRenew}
		report.Add(lifecycledomain.SubscriptionResult{SubscriptionID: 1, Outcome: lifecycledomain.OutcomeRenewed})
		report.Add(lifecycledomain.SubscriptionResult{SubscriptionID: 2, Outcome: lifecycledomain.OutcomeEnded})
		report.Add(lifecycledomain.SubscriptionResult{SubscriptionID: 3, Outcome: lifecycledomain.OutcomeFailed, Err: errors.New("boom")})
		return report, nil
	}

	require.NoError(t, f.sched.RunJob(context.Background(), JobEndRenew))

	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "meterflow_scheduler_job_runs_total",
		map[string]string{"service": "meterflow", "env": "test", "job": JobEndRenew}))
	assert.Equal(t, 2.0, getCounterValue(t, f.registry, "meterflow_scheduler_batch_processed_total",
		map[string]string{"service": "meterflow", "env": "test", "job": JobEndRenew, "resource": "subscription"}))
}

func TestRunJobReturnsPassLevelError(t *testing.T) {
	f := newFixture(t, nil)
	f.manager.endFn = func(context.Context) (lifecycledomain.PassReport, error) {
		return lifecycledomain.PassReport{}, errors.New("list due subscriptions: db down")
	}

	err := f.sched.RunJob(context.Background(), JobEndRenew)
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobEndRenew)
}

func TestRunJobDoesNotOverlapItself(t *testing.T) {
	f := newFixture(t, nil)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.manager.endFn = func(context.Context) (lifecycledomain.PassReport, error) {
		close(entered)
		<-release
		return lifecycledomain.PassReport{}, nil
	}

	done := make(chan error, 1)
	go func() { done <- f.sched.RunJob(context.Background(), JobEndRenew) }()
	<-entered

	assert.ErrorIs(t, f.sched.RunJob(context.Background(), JobEndRenew), ErrJobRunning)
	// Other jobs are independent.
	assert.NoError(t, f.sched.RunJob(context.Background(), JobFlushEvents))

	close(release)
	require.NoError(t, <-done)
	assert.EqualValues(t, 1, f.manager.endCalls.Load())
}

func TestReconcileJobFailureIsReported(t *testing.T) {
	f := newFixture(t, func(p *Params) {
		p.Invoices = invoicesStub{
			report: invoicedomain.ReconcileReport{Checked: 3, Updated: 1, Failed: 2},
			err:    errors.New("list open invoices: conn reset"),
		}
	})

	err := f.sched.RunJob(context.Background(), JobReconcile)
	require.Error(t, err)
	assert.Equal(t, 1.0, getCounterValue(t, f.registry, "meterflow_scheduler_batch_processed_total",
		map[string]string{"service": "meterflow", "env": "test", "job": JobReconcile, "resource": "invoice"}))
}

func TestStartRejectsInvalidSpec(t *testing.T) {
	engine := config.DefaultEngineConfig()
	engine.Schedule.ReconcileInvoices = "every ten minutes"
	f := newFixture(t, func(p *Params) {
		p.Engine = config.NewStaticEngineConfigHolder(engine)
	})

	err := f.sched.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), JobReconcile)
}

func TestStartRunsEnabledJobsOnSchedule(t *testing.T) {
	engine := config.DefaultEngineConfig()
	engine.Schedule.FlushEvents = "@every 1s"
	f := newFixture(t, func(p *Params) {
		p.Engine = config.NewStaticEngineConfigHolder(engine)
		p.Config.EnabledJobs = []string{JobFlushEvents}
	})

	require.NoError(t, f.sched.Start())
	require.NoError(t, f.sched.Start())
	assert.Eventually(t, func() bool { return f.flusher.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.sched.Stop(ctx))
	assert.Zero(t, f.manager.endCalls.Load())
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
