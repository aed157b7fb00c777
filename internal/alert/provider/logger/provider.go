package logger

import (
	"context"

	alertdomain "github.com/smallbiznis/meterflow/internal/alert/domain"
	"go.uber.org/zap"
)

// Provider writes reports to the structured log. It is always registered so
// no report is lost when no external channel is configured.
type Provider struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Provider {
	return &Provider{log: log.Named("alert")}
}

func (p *Provider) Name() string { return "log" }

func (p *Provider) Send(_ context.Context, report alertdomain.Report) error {
	fields := []zap.Field{
		zap.String("source", string(report.Source)),
		zap.String("error_kind", string(report.Kind)),
		zap.String("message", report.Message),
		zap.Time("occurred_at", report.OccurredAt),
	}
	if report.OrgID != 0 {
		fields = append(fields, zap.String("org_id", report.OrgID.String()))
	}
	if report.SubscriptionID != 0 {
		fields = append(fields, zap.String("subscription_id", report.SubscriptionID.String()))
	}
	if report.InvoiceID != 0 {
		fields = append(fields, zap.String("invoice_id", report.InvoiceID.String()))
	}
	for k, v := range report.Attributes {
		fields = append(fields, zap.String("attr."+k, v))
	}
	p.log.Error("billing.alert", fields...)
	return nil
}
