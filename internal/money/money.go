// Package money converts between integer cents and the decimal strings used on the wire.
package money

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/shopspring/decimal"
)

const centsExponent = -2

// Format renders cents as a decimal string with two fraction digits.
func Format(amount commission.AmountCents) string {
	return decimal.New(amount.Int64(), centsExponent).StringFixed(2)
}

// FormatSigned renders a signed delta as a decimal string with two fraction digits.
func FormatSigned(amount commission.SignedAmountCents) string {
	return decimal.New(amount.Int64(), centsExponent).StringFixed(2)
}

// Parse reads a decimal string such as "125.50" into cents. More than two
// fraction digits and negative values are rejected.
func Parse(raw string) (commission.AmountCents, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty value", commission.ErrInvalidAmountCents)
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a decimal", commission.ErrInvalidAmountCents, raw)
	}
	shifted := value.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %q has more than two fraction digits", commission.ErrInvalidAmountCents, raw)
	}
	return commission.NewAmountCents(shifted.IntPart())
}
