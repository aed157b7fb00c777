package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"gorm.io/gorm"
)

type planReferences struct {
	db   *gorm.DB
	repo subscriptiondomain.Repository
}

// NewPlanReferences lets the plan catalog see whether a plan is in use
// without depending on the subscription service.
func NewPlanReferences(db *gorm.DB, repo subscriptiondomain.Repository) plandomain.ReferenceCounter {
	return &planReferences{db: db, repo: repo}
}

func (p *planReferences) CountByPlan(ctx context.Context, orgID, planID snowflake.ID) (int64, error) {
	return p.repo.CountByPlan(ctx, p.db, orgID, planID)
}
