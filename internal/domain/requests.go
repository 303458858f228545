package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type SaleLineRequest struct {
	ProductID          int64            `json:"product_id" validate:"required,gt=0"`
	Quantity           int              `json:"quantity" validate:"required,gt=0"`
	ItemDiscountAmount *decimal.Decimal `json:"item_discount_amount,omitempty"`
}

type CreateSaleRequest struct {
	CustomerID     *int64            `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	UserID         int64             `json:"user_id,omitempty"`
	PaymentMethod  string            `json:"payment_method" validate:"required"`
	Items          []SaleLineRequest `json:"items" validate:"required,min=1,dive"`
	DiscountAmount *decimal.Decimal  `json:"discount_amount,omitempty"`
	AmountPaid     *decimal.Decimal  `json:"amount_paid,omitempty"`
	Notes          string            `json:"notes,omitempty" validate:"max=500"`
}

type AddItemRequest struct {
	ProductID          int64            `json:"product_id" validate:"required,gt=0"`
	Quantity           int              `json:"quantity" validate:"required,gt=0"`
	ItemDiscountAmount *decimal.Decimal `json:"item_discount_amount,omitempty"`
}

// SaleItemPatch lists every field of a line item that may change while the sale is pending.
type SaleItemPatch struct {
	Quantity           *int             `json:"quantity,omitempty" validate:"omitempty,gt=0"`
	UnitPrice          *decimal.Decimal `json:"unit_price,omitempty"`
	ItemDiscountAmount *decimal.Decimal `json:"item_discount_amount,omitempty"`
}

// SalePatch lists the header fields that may change while the sale is pending.
type SalePatch struct {
	CustomerID    *int64           `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	PaymentMethod *string          `json:"payment_method,omitempty"`
	AmountPaid    *decimal.Decimal `json:"amount_paid,omitempty"`
	Notes         *string          `json:"notes,omitempty" validate:"omitempty,max=500"`
}

type ApplyDiscountRequest struct {
	DiscountType  string          `json:"discountType" validate:"required"`
	DiscountValue decimal.Decimal `json:"discountValue"`
}

// CompleteSaleRequest finalizes a pending sale. Items, when present, replace the current item set.
type CompleteSaleRequest struct {
	SaleID         int64             `json:"sale_id,omitempty"`
	Items          []SaleLineRequest `json:"items,omitempty" validate:"omitempty,dive"`
	DiscountAmount *decimal.Decimal  `json:"discount_amount,omitempty"`
	AmountPaid     *decimal.Decimal  `json:"amount_paid,omitempty"`
}

type SaleTransitionRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type SaleItemResult struct {
	Item SaleItem `json:"item"`
	Sale Sale     `json:"sale"`
}

type SaleFilter struct {
	Status     string
	Search     string
	CustomerID *int64
	From       *time.Time
	To         *time.Time
	SortBy     string
	Order      string
	Page       int
	Limit      int
}

type SaleList struct {
	Sales []Sale `json:"sales"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type CreatePaymentRequest struct {
	SaleID    int64           `json:"sale_id" validate:"required,gt=0"`
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"required,oneof=cash card mobile_pay other"`
	Reference string          `json:"reference,omitempty" validate:"max=120"`
}

type PaymentSummary struct {
	SaleID     int64           `json:"sale_id"`
	FinalTotal decimal.Decimal `json:"final_total"`
	TotalPaid  decimal.Decimal `json:"total_paid"`
	Balance    decimal.Decimal `json:"balance"`
	Payments   []Payment       `json:"payments"`
}

type ProductCreateRequest struct {
	SKU       string          `json:"sku" validate:"required,max=64"`
	Name      string          `json:"name" validate:"required,max=200"`
	Price     decimal.Decimal `json:"price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	Stock     int             `json:"stock" validate:"gte=0,lte=1000000000"`
	IsActive  *bool           `json:"is_active,omitempty"`
}

// ProductPatch lists every product field an update may touch. Stock is not one of them.
type ProductPatch struct {
	SKU       *string          `json:"sku,omitempty" validate:"omitempty,max=64"`
	Name      *string          `json:"name,omitempty" validate:"omitempty,max=200"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	CostPrice *decimal.Decimal `json:"cost_price,omitempty"`
	IsActive  *bool            `json:"is_active,omitempty"`
}

type ProductFilter struct {
	Search     string
	ActiveOnly bool
	Page       int
	Limit      int
}

type ProductList struct {
	Products []Product `json:"products"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}

type StockAdjustmentRequest struct {
	ProductID      int64  `json:"product_id" validate:"required,gt=0"`
	AdjustmentType string `json:"adjustment_type" validate:"required"`
	Quantity       int    `json:"quantity" validate:"required,gt=0,lte=1000000"`
	Reason         string `json:"reason,omitempty" validate:"max=500"`
}
