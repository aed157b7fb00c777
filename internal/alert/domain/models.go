package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

// Source names the engine component that raised a report.
type Source string

const (
	SourceEventBuffer  Source = "event_buffer"
	SourceStartPass    Source = "start_pass"
	SourceEndRenewPass Source = "end_renew_pass"
	SourceInvoice      Source = "invoice"
	SourceReconcile    Source = "reconcile"
)

// Report is a structured failure notice for operators.
type Report struct {
	Source         Source            `json:"source"`
	Kind           billingerr.Kind   `json:"kind"`
	OrgID          snowflake.ID      `json:"organization_id,omitempty"`
	SubscriptionID snowflake.ID      `json:"subscription_id,omitempty"`
	InvoiceID      snowflake.ID      `json:"invoice_id,omitempty"`
	Message        string            `json:"message"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// NewReport classifies err and stamps the report with the current time.
func NewReport(source Source, err error) Report {
	r := Report{
		Source:     source,
		Kind:       billingerr.KindOf(err),
		OccurredAt: time.Now().UTC(),
	}
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// Dispatcher accepts reports without blocking the caller.
type Dispatcher interface {
	Report(ctx context.Context, report Report)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, report Report)

func (f DispatcherFunc) Report(ctx context.Context, report Report) { f(ctx, report) }

// Provider delivers a report to one destination.
type Provider interface {
	Name() string
	Send(ctx context.Context, report Report) error
}
