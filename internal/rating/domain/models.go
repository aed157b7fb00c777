// Package domain holds the pricing contract applied to aggregated usage.
package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Charge explains how an amount was derived from a quantity.
type Charge struct {
	Quantity decimal.Decimal `json:"quantity"`
	// Billable is the quantity above the free allowance.
	Billable decimal.Decimal `json:"billable"`
	// Charged is Billable rounded up to a whole number of cost increments.
	Charged  decimal.Decimal `json:"charged"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// minorUnitExceptions lists ISO 4217 currencies whose minor unit is not
// two decimal places.
var minorUnitExceptions = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "UYI": 0, "VND": 0, "VUV": 0,
	"XAF": 0, "XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
	"CLF": 4, "UYW": 4,
}

// MinorUnits returns the number of decimal places amounts in currency keep.
func MinorUnits(currency string) int32 {
	if places, ok := minorUnitExceptions[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return places
	}
	return 2
}

// RoundAmount rounds half away from zero to the currency's minor unit.
func RoundAmount(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(MinorUnits(currency))
}

// ToMinorUnits converts a rounded amount to an integer count of minor units,
// the form payment processors expect.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return RoundAmount(amount, currency).Shift(MinorUnits(currency)).IntPart()
}
