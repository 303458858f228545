// Package discount computes sale-level discount amounts.
package discount

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

var hundred = decimal.NewFromInt(100)

// ParseType normalizes a discount type. "amount" is accepted as fixed.
func ParseType(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case domain.DiscountPercentage, "percent":
		return domain.DiscountPercentage, nil
	case domain.DiscountFixed, "amount":
		return domain.DiscountFixed, nil
	}
	return "", fmt.Errorf("%w: unknown discount type %q", store.ErrInvalidDiscount, raw)
}

// Validate checks a discount definition against the subtotal it applies to.
// Percentages must lie in [0, 100]; fixed amounts in [0, subtotal].
func Validate(subtotal decimal.Decimal, discountType string, value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", store.ErrInvalidDiscount)
	}
	switch discountType {
	case domain.DiscountPercentage:
		if value.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage must be between 0 and 100", store.ErrInvalidDiscount)
		}
	case domain.DiscountFixed:
		if value.GreaterThan(subtotal) {
			return fmt.Errorf("%w: amount %s exceeds subtotal %s", store.ErrInvalidDiscount, value.StringFixed(2), subtotal.StringFixed(2))
		}
	default:
		return fmt.Errorf("%w: unknown discount type %q", store.ErrInvalidDiscount, discountType)
	}
	return nil
}

// Amount returns the discount for subtotal. Percentages are taken of the
// subtotal, fixed amounts are capped at it, and anything unknown or
// negative yields zero.
func Amount(subtotal decimal.Decimal, discountType string, value decimal.Decimal) decimal.Decimal {
	if !value.IsPositive() || !subtotal.IsPositive() {
		return decimal.Zero
	}
	switch discountType {
	case domain.DiscountPercentage:
		if value.GreaterThan(hundred) {
			value = hundred
		}
		return subtotal.Mul(value).Div(hundred)
	case domain.DiscountFixed:
		return decimal.Min(value, subtotal)
	}
	return decimal.Zero
}
