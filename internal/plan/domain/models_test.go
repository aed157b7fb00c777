package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSubscriptionEndDate(t *testing.T) {
	cases := []struct {
		interval Interval
		start    time.Time
		want     time.Time
	}{
		{IntervalMonth, date(2024, 1, 1), date(2024, 1, 31)},
		{IntervalMonth, date(2024, 2, 1), date(2024, 2, 29)},
		{IntervalMonth, date(2023, 2, 1), date(2023, 2, 28)},
		{IntervalMonth, date(2024, 1, 31), date(2024, 2, 28)},
		{IntervalWeek, date(2024, 1, 1), date(2024, 1, 7)},
		{IntervalYear, date(2024, 3, 1), date(2025, 2, 28)},
	}
	for _, tc := range cases {
		t.Run(string(tc.interval)+"_"+tc.start.Format("2006-01-02"), func(t *testing.T) {
			plan := BillingPlan{Interval: tc.interval}
			got, err := plan.SubscriptionEndDate(tc.start)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSubscriptionEndDateRejectsUnknownInterval(t *testing.T) {
	for _, interval := range []Interval{"", "quarter", "Month"} {
		_, err := BillingPlan{ID: 7, Interval: interval}.SubscriptionEndDate(date(2024, 1, 1))
		assert.ErrorIs(t, err, ErrInvalidInterval, "interval %q", interval)
	}
}
