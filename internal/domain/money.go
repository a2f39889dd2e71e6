package domain

import (
	"github.com/shopspring/decimal"
)

// Amounts are rupees held as decimals; fees are rounded to paise.
const PaisePlaces = 2

var hundred = decimal.NewFromInt(100)

// Rupees builds a decimal amount from a whole-rupee integer.
func Rupees(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount)
}

// RoundPaise rounds half away from zero to two decimal places.
func RoundPaise(d decimal.Decimal) decimal.Decimal {
	return d.Round(PaisePlaces)
}

// Percent returns pct% of amount, e.g. Percent(x, 2.5).
func Percent(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// Clamp bounds d to [lo, hi].
func Clamp(d, lo, hi decimal.Decimal) decimal.Decimal {
	if d.LessThan(lo) {
		return lo
	}
	if d.GreaterThan(hi) {
		return hi
	}
	return d
}

// WithinDealBounds reports whether amount is an acceptable deal value.
func WithinDealBounds(amount decimal.Decimal) bool {
	return !amount.LessThan(Rupees(MinDealAmount)) && !amount.GreaterThan(Rupees(MaxDealAmount))
}
