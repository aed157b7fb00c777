package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

type RecordRequest struct {
	OrganizationID snowflake.ID   `json:"organization_id"`
	CustomerID     snowflake.ID   `json:"customer_id"`
	EventName      string         `json:"event_name"`
	Properties     map[string]any `json:"properties"`
	Timestamp      time.Time      `json:"timestamp"`
	IdempotencyID  string         `json:"idempotency_id"`
}

type Service interface {
	// Record stages one event for the next flush.
	Record(ctx context.Context, req RecordRequest) (*Event, error)
	ListEvents(ctx context.Context, q EventQuery) ([]Event, error)
}

var (
	ErrInvalidOrganization  = billingerr.Validation("invalid_organization")
	ErrInvalidCustomer      = billingerr.Validation("invalid_customer")
	ErrInvalidEventName     = billingerr.Validation("invalid_event_name")
	ErrInvalidIdempotencyID = billingerr.Validation("invalid_idempotency_id")
	ErrInvalidTimestamp     = billingerr.Validation("invalid_timestamp")
	ErrInvalidProperties    = billingerr.Validation("invalid_properties")
	ErrInvalidWindow        = billingerr.Validation("invalid_window")
	ErrInvalidAggregation   = billingerr.Validation("invalid_aggregation_type")

	// ErrNoData is returned by max aggregations over a window with no values.
	ErrNoData = billingerr.New(billingerr.KindNoData, "no_usage_data")
)
