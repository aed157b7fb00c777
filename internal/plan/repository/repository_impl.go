package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.BillingPlan) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Components").Create(plan).Error; err != nil {
			return err
		}
		if len(plan.Components) == 0 {
			return nil
		}
		return tx.Create(&plan.Components).Error
	})
}

func (r *repo) UpdateDetails(ctx context.Context, db *gorm.DB, plan *plandomain.BillingPlan) error {
	return db.WithContext(ctx).
		Model(&plandomain.BillingPlan{}).
		Where("org_id = ? AND id = ?", plan.OrgID, plan.ID).
		Updates(map[string]any{
			"name":        plan.Name,
			"description": plan.Description,
			"updated_at":  plan.UpdatedAt,
		}).Error
}

func (r *repo) ReplacePricing(ctx context.Context, db *gorm.DB, plan *plandomain.BillingPlan) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&plandomain.BillingPlan{}).
			Where("org_id = ? AND id = ?", plan.OrgID, plan.ID).
			Updates(map[string]any{
				"flat_rate":      plan.FlatRate,
				"pay_in_advance": plan.PayInAdvance,
				"updated_at":     plan.UpdatedAt,
			}).Error
		if err != nil {
			return err
		}
		if err := tx.Where("plan_id = ?", plan.ID).Delete(&plandomain.PlanComponent{}).Error; err != nil {
			return err
		}
		if len(plan.Components) == 0 {
			return nil
		}
		return tx.Create(&plan.Components).Error
	})
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*plandomain.BillingPlan, error) {
	var plan plandomain.BillingPlan
	err := db.WithContext(ctx).
		Preload("Components", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&plan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]plandomain.BillingPlan, error) {
	var plans []plandomain.BillingPlan
	err := db.WithContext(ctx).
		Preload("Components", func(tx *gorm.DB) *gorm.DB { return tx.Order("position ASC") }).
		Where("org_id = ?", orgID).
		Order("created_at ASC, id ASC").
		Find(&plans).Error
	return plans, err
}
