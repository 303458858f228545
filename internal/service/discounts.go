package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"possale/backend/internal/discount"
	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

func (s *Service) CreateDiscountRule(ctx context.Context, req domain.DiscountRuleRequest) (domain.DiscountRule, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DiscountRule{}, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	rule := domain.DiscountRule{
		Name:        strings.TrimSpace(req.Name),
		Scope:       strings.ToLower(strings.TrimSpace(req.Scope)),
		ProductID:   req.ProductID,
		MinQuantity: req.MinQuantity,
		MinSubtotal: req.MinSubtotal.Round(2),
		ValueType:   req.ValueType,
		Value:       req.Value.Round(2),
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		IsActive:    active,
	}
	if err := s.checkDiscountRule(ctx, &rule); err != nil {
		return domain.DiscountRule{}, err
	}

	created, err := s.repo.CreateDiscountRule(ctx, rule)
	if err != nil {
		return domain.DiscountRule{}, err
	}

	s.logAudit(ctx, "create_discount_rule", "discount_rule", created.ID,
		fmt.Sprintf("scope=%s,type=%s,value=%s", created.Scope, created.ValueType, created.Value.StringFixed(2)))
	return *created, nil
}

func (s *Service) ListDiscountRules(ctx context.Context, filter domain.DiscountRuleFilter) (domain.DiscountRuleList, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	rules, total, err := s.repo.ListDiscountRules(ctx, filter)
	if err != nil {
		return domain.DiscountRuleList{}, err
	}
	return domain.DiscountRuleList{Rules: rules, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *Service) GetDiscountRule(ctx context.Context, id int64) (domain.DiscountRule, error) {
	rule, err := s.repo.GetDiscountRule(ctx, id)
	if err != nil {
		return domain.DiscountRule{}, err
	}
	return *rule, nil
}

func (s *Service) UpdateDiscountRule(ctx context.Context, id int64, patch domain.DiscountRulePatch) (domain.DiscountRule, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DiscountRule{}, err
	}
	current, err := s.repo.GetDiscountRule(ctx, id)
	if err != nil {
		return domain.DiscountRule{}, err
	}

	next := *current
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Scope != nil {
		next.Scope = strings.ToLower(strings.TrimSpace(*patch.Scope))
		if next.Scope == domain.DiscountScopeGlobal {
			next.ProductID = nil
		}
	}
	if patch.ProductID != nil {
		next.ProductID = patch.ProductID
	}
	if patch.MinQuantity != nil {
		next.MinQuantity = *patch.MinQuantity
	}
	if patch.MinSubtotal != nil {
		next.MinSubtotal = patch.MinSubtotal.Round(2)
	}
	if patch.ValueType != nil {
		next.ValueType = *patch.ValueType
	}
	if patch.Value != nil {
		next.Value = patch.Value.Round(2)
	}
	if patch.StartsAt != nil {
		next.StartsAt = patch.StartsAt
	}
	if patch.EndsAt != nil {
		next.EndsAt = patch.EndsAt
	}
	if patch.IsActive != nil {
		next.IsActive = *patch.IsActive
	}
	if err := s.checkDiscountRule(ctx, &next); err != nil {
		return domain.DiscountRule{}, err
	}

	updated, err := s.repo.UpdateDiscountRule(ctx, next)
	if err != nil {
		return domain.DiscountRule{}, err
	}

	s.logAudit(ctx, "update_discount_rule", "discount_rule", id,
		fmt.Sprintf("value=%s->%s,active=%t", current.Value.StringFixed(2), updated.Value.StringFixed(2), updated.IsActive))
	return *updated, nil
}

func (s *Service) DeleteDiscountRule(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteDiscountRule(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "delete_discount_rule", "discount_rule", id, "")
	return nil
}

// ApplyDiscountRule turns a catalog rule into the sale-level discount of a
// pending sale. A global percentage rule stays a percentage and follows later
// item changes; every other rule is fixed at the amount it grants now.
func (s *Service) ApplyDiscountRule(ctx context.Context, saleID int64, req domain.ApplyDiscountRuleRequest) (domain.Sale, error) {
	var candidates []domain.DiscountRule
	if req.DiscountRuleID > 0 {
		rule, err := s.repo.GetDiscountRule(ctx, req.DiscountRuleID)
		if err != nil {
			return domain.Sale{}, err
		}
		candidates = []domain.DiscountRule{*rule}
	} else {
		rules, _, err := s.repo.ListDiscountRules(ctx, domain.DiscountRuleFilter{ActiveOnly: true})
		if err != nil {
			return domain.Sale{}, err
		}
		candidates = rules
	}

	var (
		updated domain.Sale
		applied domain.DiscountRule
	)
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}

		now := s.now()
		var granted decimal.Decimal
		if req.DiscountRuleID > 0 {
			applied = candidates[0]
			if granted, err = discount.RuleAmount(applied, sale.Items, now); err != nil {
				return err
			}
		} else {
			var ok bool
			if applied, granted, ok = discount.Best(candidates, sale.Items, now); !ok {
				return fmt.Errorf("%w: no discount rule applies to sale %d", store.ErrInvalidDiscount, saleID)
			}
		}

		discountType, value := domain.DiscountFixed, decimal.Min(granted, discountRoom(sale))
		if applied.Scope == domain.DiscountScopeGlobal && applied.ValueType == domain.DiscountPercentage {
			discountType, value = domain.DiscountPercentage, applied.Value
		}
		if err := checkSaleDiscount(sale, discountType, value); err != nil {
			return err
		}
		sale.DiscountType = discountType
		sale.DiscountValue = value
		if err := recomputeTotals(sale, s.taxRate); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "apply_discount_rule", "sale", saleID,
		fmt.Sprintf("rule=%d,name=%s,total_discount=%s", applied.ID, applied.Name, updated.TotalDiscountAmount.StringFixed(2)))
	return updated, nil
}

// checkDiscountRule normalizes and validates a rule before it is stored.
func (s *Service) checkDiscountRule(ctx context.Context, rule *domain.DiscountRule) error {
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	valueType, err := discount.ParseType(rule.ValueType)
	if err != nil {
		return err
	}
	rule.ValueType = valueType
	if !rule.Value.IsPositive() {
		return fmt.Errorf("%w: value must be greater than zero", store.ErrInvalidDiscount)
	}
	if valueType == domain.DiscountPercentage && rule.Value.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: percentage must be between 0 and 100", store.ErrInvalidDiscount)
	}
	if rule.MinSubtotal.IsNegative() || rule.MinQuantity < 0 {
		return fmt.Errorf("%w: min_subtotal and min_quantity must not be negative", store.ErrValidation)
	}
	if rule.StartsAt != nil && rule.EndsAt != nil && !rule.StartsAt.Before(*rule.EndsAt) {
		return fmt.Errorf("%w: starts_at must be before ends_at", store.ErrValidation)
	}

	switch rule.Scope {
	case domain.DiscountScopeGlobal:
		if rule.ProductID != nil {
			return fmt.Errorf("%w: a global rule cannot target a product", store.ErrValidation)
		}
	case domain.DiscountScopeProduct:
		if rule.ProductID == nil {
			return fmt.Errorf("%w: product_id is required for a product rule", store.ErrValidation)
		}
	case domain.DiscountScopeWholesale:
		if rule.MinQuantity < 1 {
			return fmt.Errorf("%w: min_quantity is required for a wholesale rule", store.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", store.ErrValidation, rule.Scope)
	}

	if rule.ProductID != nil {
		if _, err := s.repo.GetProduct(ctx, *rule.ProductID); err != nil {
			return err
		}
	}
	return nil
}
