package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *BillingPlan) error
	UpdateDetails(ctx context.Context, db *gorm.DB, plan *BillingPlan) error
	ReplacePricing(ctx context.Context, db *gorm.DB, plan *BillingPlan) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*BillingPlan, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]BillingPlan, error)
}

// ReferenceCounter reports how many subscriptions point at a plan.
type ReferenceCounter interface {
	CountByPlan(ctx context.Context, orgID, planID snowflake.ID) (int64, error)
}
