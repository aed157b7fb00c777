package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	meterdomain "github.com/smallbiznis/meterflow/internal/meter/domain"
	subscriptiondomain "github.com/smallbiznis/meterflow/internal/subscription/domain"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

type Service interface {
	// GenerateInvoice rates the subscription's period, persists the invoice
	// and opens a collection. An existing invoice for the subscription is
	// returned unchanged. A failed collection leaves the invoice pending for
	// Reconcile and is not an error.
	GenerateInvoice(ctx context.Context, sub subscriptiondomain.Subscription) (*Invoice, error)
	Get(ctx context.Context, orgID, id snowflake.ID) (*Invoice, error)
	GetBySubscription(ctx context.Context, subscriptionID snowflake.ID) (*Invoice, error)
	// Reconcile polls the processor for every open invoice and retries
	// collection for invoices that never obtained a reference.
	Reconcile(ctx context.Context) (ReconcileReport, error)
}

// UsageAggregator computes the billable quantity of one metric over a
// subscription's window.
type UsageAggregator interface {
	Aggregate(ctx context.Context, sub subscriptiondomain.Subscription, metric meterdomain.BillableMetric) (decimal.Decimal, error)
}

var (
	ErrInvalidSubscription = billingerr.Validation("invalid_subscription")
	ErrNotFound            = billingerr.Validation("invoice_not_found")
)
