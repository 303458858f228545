package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
	SaleStatusRefunded  = "refunded"
)

// Tender types recorded on the sale header.
const (
	SalePaymentCash          = "Cash"
	SalePaymentCard          = "Card"
	SalePaymentCredit        = "Credit"
	SalePaymentMobilePayment = "Mobile Payment"
	SalePaymentOther         = "Other"
)

// Methods accepted for payments attached to a completed sale.
const (
	PaymentMethodCash      = "cash"
	PaymentMethodCard      = "card"
	PaymentMethodMobilePay = "mobile_pay"
	PaymentMethodOther     = "other"
)

const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Product struct {
	ID        int64           `json:"id" db:"id"`
	SKU       string          `json:"sku" db:"sku"`
	Name      string          `json:"name" db:"name"`
	Price     decimal.Decimal `json:"price" db:"price"`
	CostPrice decimal.Decimal `json:"cost_price" db:"cost_price"`
	Stock     int             `json:"stock" db:"stock"`
	IsActive  bool            `json:"is_active" db:"is_active"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

type Sale struct {
	ID                  int64           `json:"id" db:"id"`
	InvoiceNumber       string          `json:"invoice_number" db:"invoice_number"`
	CustomerID          *int64          `json:"customer_id,omitempty" db:"customer_id"`
	UserID              int64           `json:"user_id" db:"user_id"`
	Status              string          `json:"status" db:"status"`
	Subtotal            decimal.Decimal `json:"subtotal" db:"subtotal"`
	TotalDiscountAmount decimal.Decimal `json:"total_discount_amount" db:"total_discount_amount"`
	TaxAmount           decimal.Decimal `json:"tax_amount" db:"tax_amount"`
	FinalTotal          decimal.Decimal `json:"final_total" db:"final_total"`
	DiscountType        string          `json:"discount_type,omitempty" db:"discount_type"`
	DiscountValue       decimal.Decimal `json:"discount_value" db:"discount_value"`
	PaymentMethod       string          `json:"payment_method" db:"payment_method"`
	AmountPaid          decimal.Decimal `json:"amount_paid" db:"amount_paid"`
	ChangeGiven         decimal.Decimal `json:"change_given" db:"change_given"`
	Notes               string          `json:"notes,omitempty" db:"notes"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt         *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	Items               []SaleItem      `json:"items" db:"-"`
}

// ItemByID returns the index of the line item or -1.
func (s *Sale) ItemByID(itemID int64) int {
	for i := range s.Items {
		if s.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

type SaleItem struct {
	ID                 int64           `json:"id" db:"id"`
	SaleID             int64           `json:"sale_id" db:"sale_id"`
	ProductID          int64           `json:"product_id" db:"product_id"`
	ProductName        string          `json:"product_name" db:"product_name"`
	Quantity           int             `json:"quantity" db:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price" db:"unit_price"`
	CostPrice          decimal.Decimal `json:"-" db:"cost_price"`
	ItemDiscountAmount decimal.Decimal `json:"item_discount_amount" db:"item_discount_amount"`
	ItemTotal          decimal.Decimal `json:"item_total" db:"item_total"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

type Payment struct {
	ID        int64           `json:"id" db:"id"`
	SaleID    int64           `json:"sale_id" db:"sale_id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	Method    string          `json:"method" db:"method"`
	Reference string          `json:"reference,omitempty" db:"reference"`
	UserID    int64           `json:"user_id" db:"user_id"`
	PaidAt    time.Time       `json:"paid_at" db:"paid_at"`
}

type StockAdjustment struct {
	ID             int64     `json:"id" db:"id"`
	ProductID      int64     `json:"product_id" db:"product_id"`
	AdjustmentType string    `json:"adjustment_type" db:"adjustment_type"`
	QuantityChange int       `json:"quantity_change" db:"quantity_change"`
	QuantityBefore int       `json:"quantity_before" db:"quantity_before"`
	QuantityAfter  int       `json:"quantity_after" db:"quantity_after"`
	Reason         string    `json:"reason,omitempty" db:"reason"`
	UserID         int64     `json:"user_id" db:"user_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type UserAccount struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	Active       bool      `db:"is_active"`
	CreatedAt    time.Time `db:"created_at"`
}

type AuditLog struct {
	ID            int64     `json:"id" db:"id"`
	ActorID       int64     `json:"actor_id" db:"actor_id"`
	ActorUsername string    `json:"actor_username" db:"actor_username"`
	Action        string    `json:"action" db:"action"`
	EntityType    string    `json:"entity_type" db:"entity_type"`
	EntityID      string    `json:"entity_id" db:"entity_id"`
	Detail        string    `json:"detail" db:"detail"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// Actor is the authenticated operator carried on the request context.
type Actor struct {
	UserID   int64
	Username string
	Role     string
}

func IsSalePaymentMethod(method string) bool {
	switch method {
	case SalePaymentCash, SalePaymentCard, SalePaymentCredit, SalePaymentMobilePayment, SalePaymentOther:
		return true
	}
	return false
}

func IsPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodMobilePay, PaymentMethodOther:
		return true
	}
	return false
}
