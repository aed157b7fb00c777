package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
	"gorm.io/gorm"
)

type CreateRequest struct {
	OrganizationID snowflake.ID `json:"organization_id"`
	CustomerID     snowflake.ID `json:"customer_id"`
	PlanID         snowflake.ID `json:"billing_plan_id"`
	StartDate      time.Time    `json:"start_date"`
	AutoRenew      bool         `json:"auto_renew"`
}

type Service interface {
	// Create signs a customer up to a plan. The end date follows from the
	// plan interval.
	Create(ctx context.Context, req CreateRequest) (*Subscription, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*Subscription, error)
	ListByCustomer(ctx context.Context, orgID, customerID snowflake.ID) ([]Subscription, error)
	// InsertChecked rejects sub when it overlaps a live subscription for the
	// same customer and plan, then inserts it with tx. Callers hold the
	// subscription lock for that customer and plan.
	InsertChecked(ctx context.Context, tx *gorm.DB, sub *Subscription) error
}

var (
	ErrInvalidOrganization = billingerr.Validation("invalid_organization")
	ErrInvalidCustomer     = billingerr.Validation("invalid_customer")
	ErrInvalidPlan         = billingerr.Validation("invalid_billing_plan")
	ErrInvalidStartDate    = billingerr.Validation("invalid_start_date")
	ErrNotFound            = billingerr.Validation("subscription_not_found")
	ErrAlreadyRenewed      = billingerr.Validation("subscription_already_renewed")

	ErrOverlapping = billingerr.New(billingerr.KindOverlappingSubscription, "overlapping_subscription")
)
