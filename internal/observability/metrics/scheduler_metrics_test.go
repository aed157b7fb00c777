package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, SchedulerJobReasonDeadlineExceeded},
		{"db_lock_timeout", &pgconn.PgError{Code: "55P03"}, SchedulerJobReasonDBLockTimeout},
		{"serialization_failure", &pgconn.PgError{Code: "40001"}, SchedulerJobReasonSerializationFailure},
		{"unique_violation", gorm.ErrDuplicatedKey, SchedulerJobReasonUniqueViolation},
		{"collection", billingerr.Wrap(billingerr.KindCollection, "charge_failed", errors.New("502")), "collection"},
		{"unknown", errors.New("boom"), SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySchedulerJobReason(tc.err))
		})
	}
}

func TestClassifySchedulerErrorType(t *testing.T) {
	assert.Equal(t, SchedulerErrorTypeBusinessRule,
		ClassifySchedulerErrorType(fmt.Errorf("pass: %w", billingerr.New(billingerr.KindNoData, "no_data"))))
	assert.Equal(t, SchedulerErrorTypeExternal,
		ClassifySchedulerErrorType(billingerr.New(billingerr.KindDurableWrite, "flush_failed")))
	assert.Equal(t, SchedulerErrorTypeDB, ClassifySchedulerErrorType(&pgconn.PgError{Code: "40001"}))
	assert.True(t, IsSchedulerErrorRetryable(context.Canceled))
	assert.False(t, IsSchedulerErrorRetryable(billingerr.New(billingerr.KindValidation, "invalid")))
}

func TestSchedulerMetricsRecordsJobRuns(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewSchedulerMetrics(registry, Config{ServiceName: "test", Environment: "test"})

	m.IncJobRun("end_renew_subscriptions")
	m.IncJobRun("end_renew_subscriptions")
	m.IncJobError("end_renew_subscriptions", context.DeadlineExceeded)
	m.ObserveJobDuration("end_renew_subscriptions", 20*time.Millisecond)
	m.IncPassOutcome("end_renew", "failed", "collection")
	m.SetStagedEvents(7)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("end_renew_subscriptions")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobErrors.WithLabelValues("end_renew_subscriptions", SchedulerJobReasonDeadlineExceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passOutcomes.WithLabelValues("end_renew", "failed", "collection")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.stagedEvents))
}

func TestNilSchedulerMetricsIsSafe(t *testing.T) {
	var m *SchedulerMetrics
	assert.NotPanics(t, func() {
		m.IncJobRun("x")
		m.AddBatchProcessed("x", "y", 3)
		m.ObserveLockWait("local", time.Second)
	})
}
