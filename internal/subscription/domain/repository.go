package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// FindByIDForUpdate row-locks the subscription where the dialect allows it.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]Subscription, error)
	// ListDueToStart pages through not_started subscriptions with
	// start_date <= today and id greater than afterID.
	ListDueToStart(ctx context.Context, db *gorm.DB, today time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	// ListDueToEnd pages through active subscriptions with end_date < today
	// and id greater than afterID.
	ListDueToEnd(ctx context.Context, db *gorm.DB, today time.Time, afterID snowflake.ID, limit int) ([]Subscription, error)
	// FindOverlapping returns live subscriptions of the same customer and plan
	// whose window intersects [start, end].
	FindOverlapping(ctx context.Context, db *gorm.DB, orgID, customerID, planID snowflake.ID, start, end time.Time) ([]Subscription, error)
	FindRenewal(ctx context.Context, db *gorm.DB, predecessorID snowflake.ID) (*Subscription, error)
	// Transition moves id from one status to another. It reports false when the
	// subscription was no longer in status from.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (bool, error)
	CountByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) (int64, error)
}
