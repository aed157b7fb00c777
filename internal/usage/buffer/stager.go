package buffer

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/meterflow/internal/usage/domain"
)

// Stage describes one organization's staged collection.
type Stage struct {
	OrgID     snowflake.ID
	Count     int
	CreatedAt time.Time
}

// Stager holds events between Record and the durable write. Each
// organization has its own collection, created on first append.
type Stager interface {
	Backend() string
	Append(ctx context.Context, event usagedomain.Event, now time.Time) error
	Stages(ctx context.Context) ([]Stage, error)
	// Take atomically removes and returns an organization's collection. The
	// next Append starts a new collection with a fresh creation time.
	Take(ctx context.Context, orgID snowflake.ID) ([]usagedomain.Event, error)
	// Restore puts a failed batch back ahead of anything staged since, keeping
	// the older creation time so the batch is retried on the next flush.
	Restore(ctx context.Context, orgID snowflake.ID, events []usagedomain.Event, createdAt time.Time) error
}

// UndecodableError reports staged entries Take could not decode. They are
// parked under Key instead of being dropped. An empty Key means parking
// failed and Err says why.
type UndecodableError struct {
	OrgID snowflake.ID
	Count int
	Key   string
	Err   error
}

func (e *UndecodableError) Error() string {
	return fmt.Sprintf("%d staged events for org %s could not be decoded: %v", e.Count, e.OrgID, e.Err)
}

func (e *UndecodableError) Unwrap() error { return e.Err }
