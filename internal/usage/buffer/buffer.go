// Package buffer stages recorded events and writes them to the event store
// in batches, so ingest never pays a write per event.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v5"
	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/config"
	obsmetrics "github.com/smallbiznis/meterflow/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pendingBatches = 64

var (
	ErrDurableWrite = billingerr.New(billingerr.KindDurableWrite, "event_flush_failed")
	ErrClosed       = errors.New("event_buffer_closed")
)

type Params struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Repo             usagedomain.Repository
	Stager           Stager
	Engine           *config.EngineConfigHolder
	Clock            clock.Clock
	Alerts           alertdomain.Dispatcher
	Metrics          *obsmetrics.Metrics          `optional:"true"`
	SchedulerMetrics *obsmetrics.SchedulerMetrics `optional:"true"`
}

type batch struct {
	orgID     snowflake.ID
	events    []usagedomain.Event
	createdAt time.Time
}

// Buffer owns the staging area. Record only appends to the stager; flushes
// swap a collection out and hand it to the background writer.
type Buffer struct {
	db               *gorm.DB
	log              *zap.Logger
	repo             usagedomain.Repository
	stager           Stager
	engine           *config.EngineConfigHolder
	clock            clock.Clock
	alerts           alertdomain.Dispatcher
	metrics          *obsmetrics.Metrics
	schedulerMetrics *obsmetrics.SchedulerMetrics

	// mu serializes swap decisions and guards the writer state below.
	mu      sync.Mutex
	pending chan batch
	started bool
	closed  bool
	wg      sync.WaitGroup

	writerCtx    context.Context
	cancelWriter context.CancelFunc
}

func New(p Params) *Buffer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Buffer{
		db:               p.DB,
		log:              p.Log.Named("usage.buffer"),
		repo:             p.Repo,
		stager:           p.Stager,
		engine:           p.Engine,
		clock:            p.Clock,
		alerts:           p.Alerts,
		metrics:          p.Metrics,
		schedulerMetrics: p.SchedulerMetrics,
		pending:          make(chan batch, pendingBatches),
		writerCtx:        ctx,
		cancelWriter:     cancel,
	}
}

// Record validates event and appends it to its organization's collection.
func (b *Buffer) Record(ctx context.Context, event usagedomain.Event) error {
	if err := event.Validate(); err != nil {
		return err
	}

	now := b.clock.Now()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	if err := b.stager.Append(ctx, event, now); err != nil {
		return fmt.Errorf("stage event: %w", err)
	}

	b.metrics.RecordEventRecorded(ctx, event.EventName)
	return nil
}

// MaybeFlush swaps out every collection that reached the count threshold or
// has been open longer than the flush interval. It reports whether anything
// was submitted. It waits for room in the writer queue, so it belongs to the
// flush job, not the ingest path.
func (b *Buffer) MaybeFlush(ctx context.Context) (bool, error) {
	return b.flush(ctx, b.thresholdsReached(), false)
}

// TryFlush is MaybeFlush for the ingest path. It never waits: it skips when
// another flush holds the buffer, when no writer is running, or when the
// writer queue is full. Skipped collections stay staged for the flush job.
func (b *Buffer) TryFlush(ctx context.Context) (bool, error) {
	return b.flush(ctx, b.thresholdsReached(), true)
}

// Flush swaps out every non-empty collection regardless of thresholds.
func (b *Buffer) Flush(ctx context.Context) error {
	_, err := b.flush(ctx, func(Stage, time.Time) bool { return true }, false)
	return err
}

func (b *Buffer) thresholdsReached() func(Stage, time.Time) bool {
	cfg := b.engine.Get().Buffer
	return func(stage Stage, now time.Time) bool {
		return stage.Count >= cfg.FlushCount || now.Sub(stage.CreatedAt) >= cfg.FlushInterval
	}
}

func (b *Buffer) flush(ctx context.Context, due func(Stage, time.Time) bool, noWait bool) (bool, error) {
	if noWait {
		if !b.mu.TryLock() {
			return false, nil
		}
		if !b.started || b.closed {
			b.mu.Unlock()
			return false, nil
		}
	} else {
		b.mu.Lock()
	}
	defer b.mu.Unlock()

	stages, err := b.stager.Stages(ctx)
	if err != nil {
		return false, fmt.Errorf("list staged collections: %w", err)
	}

	now := b.clock.Now()
	submitted := false
	remaining := 0
	for _, stage := range stages {
		if stage.Count == 0 {
			continue
		}
		// Only flushers send, and they hold b.mu, so free capacity seen here
		// is still free at the send below.
		if !due(stage, now) || (noWait && len(b.pending) == cap(b.pending)) {
			remaining += stage.Count
			continue
		}

		events, err := b.stager.Take(ctx, stage.OrgID)
		if err != nil {
			var undecodable *UndecodableError
			if !errors.As(err, &undecodable) {
				return submitted, fmt.Errorf("take staged events: %w", err)
			}
			b.reportUndecodable(ctx, undecodable)
		}
		if len(events) == 0 {
			continue
		}

		bt := batch{orgID: stage.OrgID, events: events, createdAt: stage.CreatedAt}
		if noWait {
			if !b.trySubmitLocked(ctx, bt) {
				remaining += len(events)
				continue
			}
		} else if err := b.submitLocked(ctx, bt); err != nil {
			return submitted, err
		}
		submitted = true
	}

	b.schedulerMetrics.SetStagedEvents(remaining)
	return submitted, nil
}

// submitLocked hands a batch to the writer, or writes it inline when no
// writer is running. Callers hold b.mu.
func (b *Buffer) submitLocked(ctx context.Context, bt batch) error {
	if !b.started || b.closed {
		return b.write(ctx, bt)
	}

	select {
	case b.pending <- bt:
		return nil
	case <-ctx.Done():
		if err := b.stager.Restore(context.WithoutCancel(ctx), bt.orgID, bt.events, bt.createdAt); err != nil {
			b.log.Error("failed to restore batch after cancelled submit",
				zap.String("org_id", bt.orgID.String()),
				zap.Int("count", len(bt.events)),
				zap.Error(err),
			)
		}
		return ctx.Err()
	}
}

// trySubmitLocked queues bt without waiting. A full queue puts the batch
// back in the stager. Callers hold b.mu and have checked the writer runs.
func (b *Buffer) trySubmitLocked(ctx context.Context, bt batch) bool {
	select {
	case b.pending <- bt:
		return true
	default:
	}
	if err := b.stager.Restore(context.WithoutCancel(ctx), bt.orgID, bt.events, bt.createdAt); err != nil {
		b.requeue(bt, fmt.Errorf("restore batch after full writer queue: %w", err))
	}
	return false
}

// reportUndecodable alerts on staged entries that could not be decoded.
// The stager has parked them under a dead-letter key unless that failed too.
func (b *Buffer) reportUndecodable(ctx context.Context, undecodable *UndecodableError) {
	report := alertdomain.NewReport(alertdomain.SourceEventBuffer, undecodable)
	report.OrgID = undecodable.OrgID
	report.Attributes = map[string]string{
		"undecodable_events": fmt.Sprint(undecodable.Count),
		"dead_letter_key":    undecodable.Key,
	}
	b.log.Error("staged events could not be decoded",
		zap.String("org_id", undecodable.OrgID.String()),
		zap.Int("count", undecodable.Count),
		zap.String("dead_letter_key", undecodable.Key),
		zap.Error(undecodable),
	)
	b.alerts.Report(context.WithoutCancel(ctx), report)
}

// Start launches the background writer.
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started || b.closed {
		return
	}
	b.started = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for bt := range b.pending {
			_ = b.write(b.writerCtx, bt)
		}
	}()
}

// Drain stops the writer after it empties its queue, then synchronously
// writes whatever is still staged. Further flushes write inline.
func (b *Buffer) Drain(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.pending)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.cancelWriter()
		<-done
	}

	err := b.Flush(ctx)
	b.log.Info("event buffer drained", zap.Error(err))
	return err
}

// write persists one batch with bounded exponential backoff. On final
// failure the batch goes back to the stager and operators are alerted.
func (b *Buffer) write(ctx context.Context, bt batch) error {
	cfg := b.engine.Get().Buffer
	start := time.Now()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.RetryInitialInterval
	policy.MaxInterval = cfg.RetryMaxInterval

	attempt := 0
	inserted, err := backoff.Retry(ctx, func() (int64, error) {
		attempt++
		writeCtx, cancel := context.WithTimeout(ctx, cfg.WriteTimeout)
		defer cancel()

		n, err := b.repo.InsertEvents(writeCtx, b.db, bt.events, cfg.WriteBatchSize)
		if err != nil {
			b.log.Warn("event batch write failed",
				zap.String("org_id", bt.orgID.String()),
				zap.Int("attempt", attempt),
				zap.Int("count", len(bt.events)),
				zap.Error(err),
			)
			return 0, err
		}
		return n, nil
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(cfg.MaxRetries+1),
	)

	b.metrics.RecordFlush(ctx, len(bt.events), time.Since(start), err)

	if err != nil {
		werr := ErrDurableWrite.With(err)
		b.requeue(bt, werr)
		return werr
	}

	b.log.Info("events flushed",
		zap.String("org_id", bt.orgID.String()),
		zap.Int("count", len(bt.events)),
		zap.Int64("inserted", inserted),
		zap.Int64("duplicates", int64(len(bt.events))-inserted),
		zap.Int("attempts", attempt),
	)
	return nil
}

func (b *Buffer) requeue(bt batch, cause error) {
	ctx := context.Background()

	report := alertdomain.NewReport(alertdomain.SourceEventBuffer, cause)
	report.OrgID = bt.orgID
	report.Attributes = map[string]string{"events": fmt.Sprint(len(bt.events))}

	if err := b.stager.Restore(ctx, bt.orgID, bt.events, bt.createdAt); err != nil {
		b.log.Error("failed to requeue event batch",
			zap.String("org_id", bt.orgID.String()),
			zap.Int("count", len(bt.events)),
			zap.Error(err),
		)
		report.Attributes["requeue_error"] = err.Error()
	} else {
		b.log.Error("event batch requeued after exhausting retries",
			zap.String("org_id", bt.orgID.String()),
			zap.Int("count", len(bt.events)),
			zap.Error(cause),
		)
	}

	b.alerts.Report(ctx, report)
}
