package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scopes of a catalog discount rule.
const (
	DiscountScopeGlobal    = "global"
	DiscountScopeProduct   = "product"
	DiscountScopeWholesale = "wholesale"
)

// DiscountRule is a named, reusable discount an operator can apply to a
// pending sale. Global rules discount the whole sale, product rules the lines
// of one product, and wholesale rules the products bought in at least
// MinQuantity units.
type DiscountRule struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Scope       string          `json:"scope" db:"scope"`
	ProductID   *int64          `json:"product_id,omitempty" db:"product_id"`
	MinQuantity int             `json:"min_quantity" db:"min_quantity"`
	MinSubtotal decimal.Decimal `json:"min_subtotal" db:"min_subtotal"`
	ValueType   string          `json:"value_type" db:"value_type"`
	Value       decimal.Decimal `json:"value" db:"value"`
	StartsAt    *time.Time      `json:"starts_at,omitempty" db:"starts_at"`
	EndsAt      *time.Time      `json:"ends_at,omitempty" db:"ends_at"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

type DiscountRuleRequest struct {
	Name        string          `json:"name" validate:"required,max=120"`
	Scope       string          `json:"scope" validate:"required,oneof=global product wholesale"`
	ProductID   *int64          `json:"product_id,omitempty" validate:"omitempty,gt=0"`
	MinQuantity int             `json:"min_quantity" validate:"gte=0,lte=1000000"`
	MinSubtotal decimal.Decimal `json:"min_subtotal"`
	ValueType   string          `json:"value_type" validate:"required"`
	Value       decimal.Decimal `json:"value"`
	StartsAt    *time.Time      `json:"starts_at,omitempty"`
	EndsAt      *time.Time      `json:"ends_at,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

// DiscountRulePatch lists every rule field an update may touch.
type DiscountRulePatch struct {
	Name        *string          `json:"name,omitempty" validate:"omitempty,max=120"`
	Scope       *string          `json:"scope,omitempty" validate:"omitempty,oneof=global product wholesale"`
	ProductID   *int64           `json:"product_id,omitempty" validate:"omitempty,gt=0"`
	MinQuantity *int             `json:"min_quantity,omitempty" validate:"omitempty,gte=0,lte=1000000"`
	MinSubtotal *decimal.Decimal `json:"min_subtotal,omitempty"`
	ValueType   *string          `json:"value_type,omitempty"`
	Value       *decimal.Decimal `json:"value,omitempty"`
	StartsAt    *time.Time       `json:"starts_at,omitempty"`
	EndsAt      *time.Time       `json:"ends_at,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
}

type DiscountRuleFilter struct {
	Search     string
	ActiveOnly bool
	Page       int
	Limit      int
}

type DiscountRuleList struct {
	Rules []DiscountRule `json:"discounts"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// ApplyDiscountRuleRequest names the rule to apply. Without an id the rule
// giving the largest discount to the sale is chosen.
type ApplyDiscountRuleRequest struct {
	DiscountRuleID int64 `json:"discount_rule_id,omitempty" validate:"omitempty,gt=0"`
}
