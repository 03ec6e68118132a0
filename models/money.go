package models

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fractional digits kept for currency amounts.
const MoneyPlaces = 2

// Money rounds an amount to currency precision.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MustMoney parses a decimal string and panics on malformed input. Intended for constants and tests.
func MustMoney(s string) decimal.Decimal {
	return Money(decimal.RequireFromString(s))
}

// NonNegative clamps negative amounts to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
