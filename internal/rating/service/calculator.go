package service

import (
	"fmt"

	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/meterflow/internal/plan/domain"
	ratingdomain "github.com/smallbiznis/meterflow/internal/rating/domain"
)

// Calculator is stateless and safe for concurrent use.
type Calculator struct{}

func New() ratingdomain.Calculator {
	return Calculator{}
}

func (c Calculator) ComputeCharge(component plandomain.PlanComponent, quantity decimal.Decimal, currency string) (decimal.Decimal, error) {
	charge, err := c.Rate(component, quantity, currency)
	if err != nil {
		return decimal.Zero, err
	}
	return charge.Amount, nil
}

// Rate applies the free allowance, then charges per unit or per started
// block of UnitsPerCostIncrement units.
func (Calculator) Rate(component plandomain.PlanComponent, quantity decimal.Decimal, currency string) (ratingdomain.Charge, error) {
	if quantity.IsNegative() {
		return ratingdomain.Charge{}, ratingdomain.ErrNegativeQuantity.With(fmt.Errorf("quantity %s", quantity))
	}
	if component.FreeQuantity.IsNegative() || component.CostPerUnit.IsNegative() || component.UnitsPerCostIncrement.IsNegative() {
		return ratingdomain.Charge{}, ratingdomain.ErrInvalidComponent
	}

	billable := quantity.Sub(component.FreeQuantity)
	if billable.IsNegative() {
		billable = decimal.Zero
	}

	charge := ratingdomain.Charge{
		Quantity: quantity,
		Billable: billable,
		Currency: currency,
	}

	increment := component.UnitsPerCostIncrement
	if increment.LessThanOrEqual(decimal.NewFromInt(1)) {
		charge.Charged = billable
		charge.Amount = ratingdomain.RoundAmount(billable.Mul(component.CostPerUnit), currency)
		return charge, nil
	}

	blocks, remainder := billable.QuoRem(increment, 0)
	if remainder.IsPositive() {
		blocks = blocks.Add(decimal.NewFromInt(1))
	}
	charge.Charged = blocks.Mul(increment)
	charge.Amount = ratingdomain.RoundAmount(blocks.Mul(component.CostPerUnit), currency)
	return charge, nil
}
