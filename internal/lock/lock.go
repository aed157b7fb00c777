// Package lock serializes work on a single key, such as one customer's
// subscriptions to a plan, across goroutines or engine replicas.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrEmptyKey     = errors.New("lock_key_empty")
	ErrNotAvailable = errors.New("lock_not_available")
)

// Release frees a held lock. It is safe to call once.
type Release func(ctx context.Context) error

type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Release, error)
	Backend() string
}

// SubscriptionKey is the key guarding overlap checks and renewals for a
// (organization, customer, plan) triple.
func SubscriptionKey(orgID, customerID, planID snowflake.ID) string {
	return fmt.Sprintf("meterflow:subscription:%d:%d:%d", orgID, customerID, planID)
}

const defaultPollInterval = 50 * time.Millisecond

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
