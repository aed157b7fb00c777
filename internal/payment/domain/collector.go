package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterflow/internal/config"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

//go:generate mockgen -destination=../mock/collector_mock.go -package=mock github.com/smallbiznis/meterflow/internal/payment/domain Collector

// Status is the collection state reported by a payment processor.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Terminal statuses are never polled again. A failed collection may still
// succeed once the customer fixes their payment method.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusCanceled:
		return true
	default:
		return false
	}
}

type ChargeRequest struct {
	InvoiceID      snowflake.ID
	OrgID          snowflake.ID
	CustomerID     snowflake.ID
	SubscriptionID snowflake.ID
	Amount         decimal.Decimal
	Currency       string
	Description    string
}

// IdempotencyKey is sent to the processor so a retried charge for the same
// invoice never creates a second payment.
func (r ChargeRequest) IdempotencyKey() string {
	return "invoice:" + r.InvoiceID.String()
}

type ChargeResult struct {
	Reference string
	Status    Status
}

// Collector charges invoices through an external payment processor.
type Collector interface {
	Provider() string
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	GetStatus(ctx context.Context, reference string) (Status, error)
}

// Factory builds a Collector for one provider from process configuration.
type Factory interface {
	Provider() string
	NewCollector(cfg config.PaymentConfig) (Collector, error)
}

// Temporary is implemented by processor errors that are worth retrying.
type Temporary interface {
	Temporary() bool
}

// IsRetryable treats unclassified failures (network, timeouts) as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var t Temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

var (
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidConfig    = errors.New("payment_invalid_config")
	ErrInvalidRequest   = billingerr.Validation("invalid_charge_request")
	ErrInvalidReference = billingerr.Validation("invalid_collection_reference")

	ErrCollection = billingerr.New(billingerr.KindCollection, "collection_failed")
)
