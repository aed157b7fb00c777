package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*BillableMetric, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*BillableMetric, error)
	// GetMany returns metrics keyed by id; missing ids are an error.
	GetMany(ctx context.Context, orgID snowflake.ID, ids []snowflake.ID) (map[snowflake.ID]BillableMetric, error)
	List(ctx context.Context, orgID snowflake.ID) ([]BillableMetric, error)
}

type CreateRequest struct {
	OrganizationID  snowflake.ID    `json:"organization_id"`
	EventName       string          `json:"event_name"`
	PropertyName    string          `json:"property_name"`
	AggregationType AggregationType `json:"aggregation_type"`
}

var (
	ErrInvalidOrganization = billingerr.Validation("invalid_organization")
	ErrInvalidEventName    = billingerr.Validation("invalid_event_name")
	ErrInvalidAggregation  = billingerr.Validation("invalid_aggregation_type")
	ErrMissingProperty     = billingerr.Validation("missing_property_name")
	ErrUnexpectedProperty  = billingerr.Validation("unexpected_property_name")
	ErrAlreadyExists       = billingerr.Validation("billable_metric_exists")
	ErrNotFound            = billingerr.Validation("billable_metric_not_found")
)
