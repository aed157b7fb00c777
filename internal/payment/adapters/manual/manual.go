// Package manual is a collector for deployments that settle invoices outside
// the engine. Charges stay pending until reconciled by an operator.
package manual

import (
	"context"
	"strings"

	"github.com/smallbiznis/meterflow/internal/config"
	paymentdomain "github.com/smallbiznis/meterflow/internal/payment/domain"
)

const (
	ProviderName    = "manual"
	referencePrefix = "manual_"
)

type Factory struct{}

func NewFactory() *Factory { return &Factory{} }

func (f *Factory) Provider() string { return ProviderName }

func (f *Factory) NewCollector(config.PaymentConfig) (paymentdomain.Collector, error) {
	return Collector{}, nil
}

type Collector struct{}

func (Collector) Provider() string { return ProviderName }

func (Collector) Charge(_ context.Context, req paymentdomain.ChargeRequest) (paymentdomain.ChargeResult, error) {
	if req.InvoiceID == 0 {
		return paymentdomain.ChargeResult{}, paymentdomain.ErrInvalidRequest
	}
	return paymentdomain.ChargeResult{
		Reference: referencePrefix + req.InvoiceID.String(),
		Status:    paymentdomain.StatusPending,
	}, nil
}

func (Collector) GetStatus(_ context.Context, reference string) (paymentdomain.Status, error) {
	if !strings.HasPrefix(reference, referencePrefix) {
		return "", paymentdomain.ErrInvalidReference
	}
	return paymentdomain.StatusPending, nil
}
