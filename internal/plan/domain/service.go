package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*BillingPlan, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*BillingPlan, error)
	List(ctx context.Context, orgID snowflake.ID) ([]BillingPlan, error)
	Update(ctx context.Context, req UpdateRequest) (*BillingPlan, error)
}

type ComponentRequest struct {
	BillableMetricID      snowflake.ID    `json:"billable_metric_id"`
	FreeQuantity          decimal.Decimal `json:"free_quantity"`
	CostPerUnit           decimal.Decimal `json:"cost_per_unit"`
	UnitsPerCostIncrement decimal.Decimal `json:"units_per_cost_increment"`
}

type CreateRequest struct {
	OrganizationID snowflake.ID       `json:"organization_id"`
	Name           string             `json:"name"`
	// Code defaults to a slug of Name.
	Code           string             `json:"code"`
	Description    string             `json:"description"`
	Currency       string             `json:"currency"`
	Interval       Interval           `json:"interval"`
	FlatRate       decimal.Decimal    `json:"flat_rate"`
	PayInAdvance   bool               `json:"pay_in_advance"`
	Components     []ComponentRequest `json:"components"`
}

// UpdateRequest changes descriptive fields at any time. Pricing fields
// (FlatRate, PayInAdvance, Components) are rejected once the plan is in use.
type UpdateRequest struct {
	OrganizationID snowflake.ID        `json:"organization_id"`
	ID             snowflake.ID        `json:"id"`
	Name           *string             `json:"name,omitempty"`
	Description    *string             `json:"description,omitempty"`
	FlatRate       *decimal.Decimal    `json:"flat_rate,omitempty"`
	PayInAdvance   *bool               `json:"pay_in_advance,omitempty"`
	Components     *[]ComponentRequest `json:"components,omitempty"`
}

func (r UpdateRequest) ChangesPricing() bool {
	return r.FlatRate != nil || r.PayInAdvance != nil || r.Components != nil
}

var (
	ErrInvalidOrganization = billingerr.Validation("invalid_organization")
	ErrInvalidName         = billingerr.Validation("invalid_name")
	ErrInvalidCurrency     = billingerr.Validation("invalid_currency")
	ErrInvalidInterval     = billingerr.Validation("invalid_interval")
	ErrInvalidFlatRate     = billingerr.Validation("invalid_flat_rate")
	ErrInvalidComponent    = billingerr.Validation("invalid_component")
	ErrDuplicateComponent  = billingerr.Validation("duplicate_component_metric")
	ErrPlanInUse           = billingerr.Validation("plan_in_use")
	ErrNotFound            = billingerr.Validation("billing_plan_not_found")
)
