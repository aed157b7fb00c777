package domain

import (
	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	"github.com/smallbiznis/meterflow/pkg/billingerr"
)

// Calculator prices an aggregated quantity against one plan component.
type Calculator interface {
	ComputeCharge(component plandomain.PlanComponent, quantity decimal.Decimal, currency string) (decimal.Decimal, error)
	Rate(component plandomain.PlanComponent, quantity decimal.Decimal, currency string) (Charge, error)
}

var (
	ErrNegativeQuantity = billingerr.New(billingerr.KindInvalidQuantity, "negative_quantity")
	ErrInvalidComponent = billingerr.Validation("invalid_component_pricing")
)
