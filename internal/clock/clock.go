package clock

import (
	"time"

	"go.uber.org/fx"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(func() Clock { return SystemClock{} }),
)

// Date truncates t to midnight UTC. Subscription windows and "today" are
// compared at whole-day precision.
func Date(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Today is the current UTC calendar date of c.
func Today(c Clock) time.Time {
	return Date(c.Now())
}

// AddDays moves a calendar date by n days.
func AddDays(date time.Time, n int) time.Time {
	return Date(date).AddDate(0, 0, n)
}

// AddMonthsClamped adds n months, clamping to the last day of the target month
// so 2024-01-31 plus one month is 2024-02-29 rather than 2024-03-02.
func AddMonthsClamped(date time.Time, n int) time.Time {
	date = Date(date)
	y, m, d := date.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}
