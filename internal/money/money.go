// Package money does cent arithmetic through shopspring/decimal so percentage
// math rounds half-up instead of truncating.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Percent returns pct% of cents, rounded half-up to the cent.
func Percent(cents int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(cents).Mul(pct).Div(hundred).Round(0).IntPart()
}

// Format renders cents as a decimal amount with the currency code, e.g. "129.90 USD".
func Format(cents int64, currency string) string {
	return fmt.Sprintf("%s %s", ToDecimal(cents).StringFixed(2), currency)
}

// ToDecimal converts cents to a major-unit decimal.
func ToDecimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// String is the major-unit representation payment APIs expect ("129.90").
func String(cents int64) string {
	return ToDecimal(cents).StringFixed(2)
}

// ParseCents parses a major-unit string such as "129.9" into cents.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}
