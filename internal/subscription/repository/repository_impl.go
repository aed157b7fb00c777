package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"github.com/smallbiznis/meterflow/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(sub).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return first(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	q := tx.WithContext(ctx).Where("id = ?", id)
	if db.SupportsRowLocks(tx) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return first(q)
}

func (r *repo) ListByCustomer(ctx context.Context, db *gorm.DB, orgID, customerID snowflake.ID) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ?", orgID, customerID).
		Order("start_date ASC").
		Find(&subs).Error
	return subs, err
}

func (r *repo) ListDueToStart(ctx context.Context, db *gorm.DB, today time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND start_date <= ?", subscriptiondomain.StatusNotStarted, today).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *repo) ListDueToEnd(ctx context.Context, db *gorm.DB, today time.Time, afterID snowflake.ID, limit int) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("status = ? AND end_date < ?", subscriptiondomain.StatusActive, today).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}

func (r *repo) FindOverlapping(
	ctx context.Context,
	db *gorm.DB,
	orgID, customerID, planID snowflake.ID,
	start, end time.Time,
) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("org_id = ? AND customer_id = ? AND billing_plan_id = ?", orgID, customerID, planID).
		Where("status IN ?", subscriptiondomain.LiveStatuses).
		Where("start_date <= ? AND end_date >= ?", end, start).
		Find(&subs).Error
	return subs, err
}

func (r *repo) FindRenewal(ctx context.Context, db *gorm.DB, predecessorID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return first(db.WithContext(ctx).Where("renewed_from_id = ?", predecessorID))
}

func (r *repo) Transition(
	ctx context.Context,
	db *gorm.DB,
	id snowflake.ID,
	from, to subscriptiondomain.Status,
	at time.Time,
) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	if to == subscriptiondomain.StatusEnded {
		updates["ended_at"] = at
	}

	result := db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) CountByPlan(ctx context.Context, db *gorm.DB, orgID, planID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("org_id = ? AND billing_plan_id = ?", orgID, planID).
		Count(&count).Error
	return count, err
}

func first(q *gorm.DB) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := q.Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
