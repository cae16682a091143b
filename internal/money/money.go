// Package money provides shared decimal arithmetic helpers for ledger and
// payment USD amounts. All monetary values are stored with 4 decimal places,
// rounded half-up, matching the original bot's decimal.Decimal usage.
package money

import "github.com/shopspring/decimal"

// Scale is the number of decimal places USD amounts are quantized to.
const Scale = 4

// Round quantizes d to Scale decimal places using half-up rounding, matching
// Python's decimal.Decimal.quantize(Decimal("0.0001"), rounding=ROUND_HALF_UP).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Scale)
}

// Zero is the canonical zero USD amount.
func Zero() decimal.Decimal {
	return decimal.NewFromInt(0)
}

// FromFloat builds a rounded decimal from a float64, the way config values
// and external APIs hand us rates.
func FromFloat(f float64) decimal.Decimal {
	return Round(decimal.NewFromFloat(f))
}
