package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthenticated   = errors.New("operator identity required")
	ErrForbidden         = errors.New("admin role required")
	ErrValidation        = errors.New("invalid input")
	ErrProductNotFound   = errors.New("product not found")
	ErrSaleNotFound      = errors.New("sale not found")
	ErrItemNotFound      = errors.New("sale item not found")
	ErrDiscountNotFound  = errors.New("discount rule not found")
	ErrProductInactive   = errors.New("product is inactive")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrUnderPayment      = errors.New("amount paid is less than final total")
	ErrInvalidDiscount   = errors.New("invalid discount")
	ErrInvalidState      = errors.New("invalid sale state")
	ErrAlreadyCancelled  = errors.New("sale already cancelled")
	ErrConflict          = errors.New("conflict")
)

// Repository is the injected persistence handle. Multi-step mutations go
// through WithinTx; everything else is a single read or write.
type Repository interface {
	// WithinTx runs fn in one atomic unit. A non-nil error from fn rolls
	// every change back and is returned unchanged.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ListStockAdjustments(ctx context.Context, productID int64, limit int) ([]domain.StockAdjustment, error)

	CreateDiscountRule(ctx context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error)
	GetDiscountRule(ctx context.Context, id int64) (*domain.DiscountRule, error)
	ListDiscountRules(ctx context.Context, filter domain.DiscountRuleFilter) ([]domain.DiscountRule, int, error)
	UpdateDiscountRule(ctx context.Context, rule domain.DiscountRule) (*domain.DiscountRule, error)
	DeleteDiscountRule(ctx context.Context, id int64) error

	GetSale(ctx context.Context, id int64) (*domain.Sale, error)
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error)
	ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error)
}

// Tx is the set of operations available inside one transaction. Reads that
// precede a write lock the rows they return.
type Tx interface {
	// LockProducts loads and locks the given products in ascending id order.
	// Missing ids are absent from the result.
	LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error)
	// AddStock applies delta to a product's stock and returns the new level.
	AddStock(ctx context.Context, productID int64, delta int) (int, error)
	NextInvoiceSequence(ctx context.Context, day time.Time) (int, error)

	InsertSale(ctx context.Context, sale *domain.Sale) error
	// LockSale loads and locks a sale header together with its items.
	LockSale(ctx context.Context, id int64) (*domain.Sale, error)
	UpdateSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, id int64) error
	InsertSaleItem(ctx context.Context, item *domain.SaleItem) error
	UpdateSaleItem(ctx context.Context, item domain.SaleItem) error
	DeleteSaleItem(ctx context.Context, saleID int64, itemID int64) error

	SumPayments(ctx context.Context, saleID int64) (decimal.Decimal, error)
	InsertPayment(ctx context.Context, payment *domain.Payment) error
	InsertStockAdjustment(ctx context.Context, adjustment *domain.StockAdjustment) error
}
