package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterflow/internal/clock"
)

type Interval string

const (
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

func (i Interval) Valid() bool {
	switch i {
	case IntervalWeek, IntervalMonth, IntervalYear:
		return true
	default:
		return false
	}
}

// BillingPlan prices a subscription period. Pricing fields are frozen once a
// subscription references the plan.
type BillingPlan struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrgID        snowflake.ID    `json:"organization_id" gorm:"column:org_id;not null;index"`
	Name         string          `json:"name" gorm:"type:text;not null"`
	Code         string          `json:"code" gorm:"type:varchar(255);not null;default:'';index"`
	Description  string          `json:"description" gorm:"type:text;not null;default:''"`
	Currency     string          `json:"currency" gorm:"type:varchar(3);not null"`
	Interval     Interval        `json:"interval" gorm:"type:text;not null"`
	FlatRate     decimal.Decimal `json:"flat_rate" gorm:"type:numeric(38,12);not null"`
	PayInAdvance bool            `json:"pay_in_advance" gorm:"not null;default:false"`
	Components   []PlanComponent `json:"components" gorm:"foreignKey:PlanID"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"not null"`
}

func (BillingPlan) TableName() string { return "billing_plans" }

// PlanComponent prices one billable metric. Usage above FreeQuantity is
// charged per UnitsPerCostIncrement block; a zero increment means per unit.
type PlanComponent struct {
	ID                    snowflake.ID    `json:"id" gorm:"primaryKey"`
	PlanID                snowflake.ID    `json:"plan_id" gorm:"not null;index"`
	BillableMetricID      snowflake.ID    `json:"billable_metric_id" gorm:"not null"`
	FreeQuantity          decimal.Decimal `json:"free_quantity" gorm:"type:numeric(38,12);not null"`
	CostPerUnit           decimal.Decimal `json:"cost_per_unit" gorm:"type:numeric(38,12);not null"`
	UnitsPerCostIncrement decimal.Decimal `json:"units_per_cost_increment" gorm:"type:numeric(38,12);not null"`
	Position              int             `json:"position" gorm:"not null"`
}

func (PlanComponent) TableName() string { return "plan_components" }

// SubscriptionEndDate returns the inclusive last day of a period starting on
// start. A plan whose interval is not one of the known values is rejected.
func (p BillingPlan) SubscriptionEndDate(start time.Time) (time.Time, error) {
	start = clock.Date(start)
	switch p.Interval {
	case IntervalWeek:
		return clock.AddDays(start, 6), nil
	case IntervalMonth:
		return clock.AddDays(clock.AddMonthsClamped(start, 1), -1), nil
	case IntervalYear:
		return clock.AddDays(clock.AddMonthsClamped(start, 12), -1), nil
	default:
		return time.Time{}, ErrInvalidInterval.With(fmt.Errorf("plan %s has interval %q", p.ID, p.Interval))
	}
}
