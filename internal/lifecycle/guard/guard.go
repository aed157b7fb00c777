// Package guard holds the preconditions a lifecycle pass checks on a
// freshly reloaded subscription before acting on it.
package guard

import (
	"errors"
	"time"

	"github.com/smallbiznis/meterflow/internal/clock"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
)

var (
	ErrNotStartable     = errors.New("subscription_not_startable")
	ErrNotYetStarted    = errors.New("subscription_start_in_future")
	ErrSubscriptionLive = errors.New("subscription_not_active")
	ErrPeriodNotOver    = errors.New("subscription_period_not_over")
)

func EnsureSubscriptionCanStart(sub subscriptiondomain.Subscription, today time.Time) error {
	if !subscriptiondomain.CanTransition(sub.Status, subscriptiondomain.StatusActive) {
		return ErrNotStartable
	}
	if clock.Date(sub.StartDate).After(clock.Date(today)) {
		return ErrNotYetStarted
	}
	return nil
}

// EnsureSubscriptionCanEnd requires an active subscription whose last day
// is before today.
func EnsureSubscriptionCanEnd(sub subscriptiondomain.Subscription, today time.Time) error {
	if !subscriptiondomain.CanTransition(sub.Status, subscriptiondomain.StatusEnded) {
		return ErrSubscriptionLive
	}
	if !clock.Date(sub.EndDate).Before(clock.Date(today)) {
		return ErrPeriodNotOver
	}
	return nil
}
