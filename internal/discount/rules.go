package discount

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

// RuleAmount evaluates rule against the items of a sale at now and returns
// the discount it grants, rounded to cents. A rule that is inactive, outside
// its window, below its thresholds or matching no line fails with
// ErrInvalidDiscount.
func RuleAmount(rule domain.DiscountRule, items []domain.SaleItem, now time.Time) (decimal.Decimal, error) {
	if !rule.IsActive {
		return decimal.Zero, fmt.Errorf("%w: rule %q is inactive", store.ErrInvalidDiscount, rule.Name)
	}
	if rule.StartsAt != nil && now.Before(*rule.StartsAt) {
		return decimal.Zero, fmt.Errorf("%w: rule %q starts at %s", store.ErrInvalidDiscount, rule.Name, rule.StartsAt.Format(time.RFC3339))
	}
	if rule.EndsAt != nil && !now.Before(*rule.EndsAt) {
		return decimal.Zero, fmt.Errorf("%w: rule %q ended at %s", store.ErrInvalidDiscount, rule.Name, rule.EndsAt.Format(time.RFC3339))
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(lineGross(item))
	}
	if subtotal.LessThan(rule.MinSubtotal) {
		return decimal.Zero, fmt.Errorf("%w: rule %q needs a subtotal of at least %s", store.ErrInvalidDiscount, rule.Name, rule.MinSubtotal.StringFixed(2))
	}

	base := eligibleBase(rule, items)
	if !base.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: rule %q does not apply to this sale", store.ErrInvalidDiscount, rule.Name)
	}
	return Amount(base, rule.ValueType, rule.Value).Round(2), nil
}

// Best picks the rule granting the largest discount; ties go to the lower id.
// ok is false when no rule applies.
func Best(rules []domain.DiscountRule, items []domain.SaleItem, now time.Time) (best domain.DiscountRule, amount decimal.Decimal, ok bool) {
	for _, rule := range rules {
		got, err := RuleAmount(rule, items, now)
		if err != nil || !got.IsPositive() {
			continue
		}
		if !ok || got.GreaterThan(amount) || (got.Equal(amount) && rule.ID < best.ID) {
			best, amount, ok = rule, got, true
		}
	}
	return best, amount, ok
}

// eligibleBase is the amount a rule discounts: the gross subtotal for a
// global rule, like any sale-level discount, and the matching lines net of
// their own discounts otherwise.
func eligibleBase(rule domain.DiscountRule, items []domain.SaleItem) decimal.Decimal {
	base := decimal.Zero
	switch rule.Scope {
	case domain.DiscountScopeGlobal:
		for _, item := range items {
			base = base.Add(lineGross(item))
		}
	case domain.DiscountScopeProduct:
		for _, item := range items {
			if rule.ProductID != nil && item.ProductID == *rule.ProductID {
				base = base.Add(lineNet(item))
			}
		}
	case domain.DiscountScopeWholesale:
		quantities := make(map[int64]int, len(items))
		for _, item := range items {
			quantities[item.ProductID] += item.Quantity
		}
		for _, item := range items {
			if rule.ProductID != nil && item.ProductID != *rule.ProductID {
				continue
			}
			if quantities[item.ProductID] >= rule.MinQuantity {
				base = base.Add(lineNet(item))
			}
		}
	}
	return base
}

func lineGross(item domain.SaleItem) decimal.Decimal {
	return item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
}

func lineNet(item domain.SaleItem) decimal.Decimal {
	return lineGross(item).Sub(item.ItemDiscountAmount.Round(2))
}
