package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to cents, half away from zero. Apply it only where a value
// is persisted or shown, never between intermediate multiplications.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Percent returns amount * pct / 100 unrounded.
func Percent(amount decimal.Decimal, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Div(hundred)
}

// ValidPercentage reports whether pct lies in [0, 100] and has at most two
// decimal places, the precision percentages are stored with.
func ValidPercentage(pct decimal.Decimal) bool {
	return !pct.IsNegative() && pct.LessThanOrEqual(hundred) && pct.Equal(pct.Round(2))
}
