package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bwmarrin/snowflake"
	"github.com/redis/go-redis/v9"
	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	"github.com/smallbiznis/meterflow/internal/clock"
	"github.com/smallbiznis/meterflow/internal/config"
	"github.com/smallbiznis/meterflow/internal/testutil"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
	"github.com/smallbiznis/meterflow/internal/usage/repository"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type alertRecorder struct {
	mu      sync.Mutex
	reports []alertdomain.Report
}

func (r *alertRecorder) Report(_ context.Context, report alertdomain.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *alertRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type repoMock struct {
	mock.Mock
}

func (m *repoMock) InsertEvents(ctx context.Context, db *gorm.DB, events []usagedomain.Event, batchSize int) (int64, error) {
	args := m.Called(ctx, db, events, batchSize)
	return args.Get(0).(int64), args.Error(1)
}

func (m *repoMock) QueryEvents(context.Context, *gorm.DB, usagedomain.EventQuery) ([]usagedomain.Event, error) {
	return nil, nil
}

func (m *repoMock) StreamEvents(context.Context, *gorm.DB, usagedomain.EventQuery, int, func([]usagedomain.Event) error) error {
	return nil
}

func (m *repoMock) CountEvents(context.Context, *gorm.DB, usagedomain.EventQuery) (int64, error) {
	return 0, nil
}

type fixture struct {
	db     *gorm.DB
	buffer *Buffer
	stager Stager
	clock  *clock.FakeClock
	alerts *alertRecorder
}

func testEngine() *config.EngineConfigHolder {
	cfg := config.DefaultEngineConfig()
	cfg.Buffer.FlushCount = 3
	cfg.Buffer.FlushInterval = time.Minute
	cfg.Buffer.MaxRetries = 2
	cfg.Buffer.RetryInitialInterval = time.Millisecond
	cfg.Buffer.RetryMaxInterval = 2 * time.Millisecond
	return config.NewStaticEngineConfigHolder(cfg)
}

func newFixture(t *testing.T, stager Stager, repo usagedomain.Repository) fixture {
	t.Helper()
	db := testutil.OpenSQLite(t, &usagedomain.Event{})
	if repo == nil {
		repo = repository.Provide()
	}
	fake := clock.NewFakeClock(start)
	alerts := &alertRecorder{}
	b := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Repo:   repo,
		Stager: stager,
		Engine: testEngine(),
		Clock:  fake,
		Alerts: alerts,
	})
	return fixture{db: db, buffer: b, stager: stager, clock: fake, alerts: alerts}
}

func newEvent(id int64, org snowflake.ID) usagedomain.Event {
	return usagedomain.Event{
		ID:            snowflake.ID(id),
		OrgID:         org,
		CustomerID:    5,
		EventName:     "api_call",
		Timestamp:     start,
		IdempotencyID: fmt.Sprintf("evt-%d", id),
	}
}

func countRows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&usagedomain.Event{}).Count(&n).Error)
	return n
}

func TestRecordValidatesWithoutStaging(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()

	bad := newEvent(1, 1)
	bad.IdempotencyID = ""
	err := f.buffer.Record(ctx, bad)
	assert.ErrorIs(t, err, usagedomain.ErrInvalidIdempotencyID)
	assert.Equal(t, billingerr.KindValidation, billingerr.KindOf(err))

	stages, err := f.stager.Stages(ctx)
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestRecordNeverWrites(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, f.buffer.Record(context.Background(), newEvent(i, 1)))
	}
	assert.Zero(t, countRows(t, f.db))
}

func TestMaybeFlushOnCountThreshold(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()

	require.NoError(t, f.buffer.Record(ctx, newEvent(1, 1)))
	require.NoError(t, f.buffer.Record(ctx, newEvent(2, 1)))

	flushed, err := f.buffer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.False(t, flushed)
	assert.Zero(t, countRows(t, f.db))

	require.NoError(t, f.buffer.Record(ctx, newEvent(3, 1)))
	flushed, err = f.buffer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, int64(3), countRows(t, f.db))

	stages, err := f.stager.Stages(ctx)
	require.NoError(t, err)
	assert.Empty(t, stages)
}

func TestMaybeFlushOnElapsedTime(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()

	require.NoError(t, f.buffer.Record(ctx, newEvent(1, 1)))

	f.clock.Advance(59 * time.Second)
	flushed, err := f.buffer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.False(t, flushed)

	f.clock.Advance(time.Second)
	flushed, err = f.buffer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, int64(1), countRows(t, f.db))
}

func TestThresholdsArePerOrganization(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, f.buffer.Record(ctx, newEvent(i, 1)))
	}
	require.NoError(t, f.buffer.Record(ctx, newEvent(10, 2)))

	_, err := f.buffer.MaybeFlush(ctx)
	require.NoError(t, err)

	stages, err := f.stager.Stages(ctx)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, snowflake.ID(2), stages[0].OrgID)
	assert.Equal(t, 1, stages[0].Count)
}

func TestFlushTwiceWithoutNewEventsIsNoop(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()

	require.NoError(t, f.buffer.Record(ctx, newEvent(1, 1)))
	require.NoError(t, f.buffer.Flush(ctx))
	require.NoError(t, f.buffer.Flush(ctx))
	assert.Equal(t, int64(1), countRows(t, f.db))
}

func TestRetriedEventIsNotDuplicated(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()

	require.NoError(t, f.buffer.Record(ctx, newEvent(1, 1)))
	require.NoError(t, f.buffer.Flush(ctx))

	replay := newEvent(2, 1)
	replay.IdempotencyID = "evt-1"
	require.NoError(t, f.buffer.Record(ctx, replay))
	require.NoError(t, f.buffer.Flush(ctx))

	assert.Equal(t, int64(1), countRows(t, f.db))
}

func TestPersistentFailureRequeuesAndAlerts(t *testing.T) {
	repo := &repoMock{}
	repo.On("InsertEvents", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(int64(0), errors.New("connection refused"))

	f := newFixture(t, NewMemoryStager(), repo)
	ctx := context.Background()

	require.NoError(t, f.buffer.Record(ctx, newEvent(1, 1)))
	require.NoError(t, f.buffer.Record(ctx, newEvent(2, 1)))

	err := f.buffer.Flush(ctx)
	require.Error(t, err)
	assert.Equal(t, billingerr.KindDurableWrite, billingerr.KindOf(err))

	// MaxRetries of 2 means three attempts.
	repo.AssertNumberOfCalls(t, "InsertEvents", 3)
	assert.Equal(t, 1, f.alerts.count())

	stages, err := f.stager.Stages(ctx)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, 2, stages[0].Count)
	assert.Equal(t, start, stages[0].CreatedAt)
}

func TestBackgroundWriterAndDrain(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()
	f.buffer.Start()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, f.buffer.Record(ctx, newEvent(i, 1)))
	}
	flushed, err := f.buffer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.True(t, flushed)

	// Below threshold: left for the drain.
	require.NoError(t, f.buffer.Record(ctx, newEvent(4, 2)))

	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.buffer.Drain(drainCtx))

	assert.Equal(t, int64(4), countRows(t, f.db))

	// After drain, flushes write inline.
	require.NoError(t, f.buffer.Record(ctx, newEvent(5, 2)))
	require.NoError(t, f.buffer.Flush(ctx))
	assert.Equal(t, int64(5), countRows(t, f.db))
}

func TestRedisStagerSharesBufferAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = clientA.Close()
		_ = clientB.Close()
	})

	f := newFixture(t, NewRedisStager(clientA), nil)
	ctx := context.Background()

	require.NoError(t, f.buffer.Record(ctx, newEvent(1, 1)))
	require.NoError(t, f.buffer.Record(ctx, newEvent(2, 1)))

	other := NewRedisStager(clientB)
	stages, err := other.Stages(ctx)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, 2, stages[0].Count)
	assert.Equal(t, start.UnixMilli(), stages[0].CreatedAt.UnixMilli())

	require.NoError(t, f.buffer.Flush(ctx))
	assert.Equal(t, int64(2), countRows(t, f.db))

	stages, err = other.Stages(ctx)
	require.NoError(t, err)
	assert.Empty(t, stages)
}

// stalledRepo blocks every insert until release is closed.
type stalledRepo struct {
	repoMock
	release chan struct{}

	mu       sync.Mutex
	inserted int
}

func (r *stalledRepo) InsertEvents(_ context.Context, _ *gorm.DB, events []usagedomain.Event, _ int) (int64, error) {
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted += len(events)
	return int64(len(events)), nil
}

func (r *stalledRepo) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inserted
}

func TestTryFlushDoesNotWaitOnStalledStore(t *testing.T) {
	repo := &stalledRepo{release: make(chan struct{})}
	f := newFixture(t, NewMemoryStager(), repo)
	ctx := context.Background()
	f.buffer.Start()

	// One due batch per organization: more than the writer queue holds.
	orgs := pendingBatches + 5
	for org := 1; org <= orgs; org++ {
		for i := 0; i < 3; i++ {
			require.NoError(t, f.buffer.Record(ctx, newEvent(int64(org*10+i), snowflake.ID(org))))
		}
		began := time.Now()
		_, err := f.buffer.TryFlush(ctx)
		require.NoError(t, err)
		assert.Less(t, time.Since(began), time.Second)
	}

	stages, err := f.stager.Stages(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(stages), orgs-pendingBatches-1, "overflow stays staged")
	assert.Zero(t, repo.total())

	close(repo.release)
	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.buffer.Drain(drainCtx))
	assert.Equal(t, orgs*3, repo.total())
}

func TestTryFlushWithoutWriterLeavesEventsStaged(t *testing.T) {
	f := newFixture(t, NewMemoryStager(), nil)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, f.buffer.Record(ctx, newEvent(i, 1)))
	}
	flushed, err := f.buffer.TryFlush(ctx)
	require.NoError(t, err)
	assert.False(t, flushed)
	assert.Zero(t, countRows(t, f.db))

	flushed, err = f.buffer.MaybeFlush(ctx)
	require.NoError(t, err)
	assert.True(t, flushed)
	assert.Equal(t, int64(3), countRows(t, f.db))
}

func TestUndecodableStagedEventsAreParkedAndAlerted(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := newFixture(t, NewRedisStager(client), nil)
	ctx := context.Background()

	require.NoError(t, f.buffer.Record(ctx, newEvent(1, 1)))
	require.NoError(t, client.RPush(ctx, "meterflow:buffer:1:events", "{not json").Err())

	require.NoError(t, f.buffer.Flush(ctx))
	assert.Equal(t, int64(1), countRows(t, f.db))

	parked, err := client.LRange(ctx, "meterflow:buffer:1:deadletter", 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"{not json"}, parked)

	require.Equal(t, 1, f.alerts.count())
	f.alerts.mu.Lock()
	report := f.alerts.reports[0]
	f.alerts.mu.Unlock()
	assert.Equal(t, alertdomain.SourceEventBuffer, report.Source)
	assert.Equal(t, snowflake.ID(1), report.OrgID)
	assert.Equal(t, "1", report.Attributes["undecodable_events"])
}
