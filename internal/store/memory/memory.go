package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

// Store keeps everything in process. Transactions run one at a time against a
// copy of the state that replaces the live state only on success.
type Store struct {
	mu    sync.RWMutex
	state *state

	usersByUsername map[string]domain.UserAccount
	auditLogs       []domain.AuditLog
	nextUserID      int64
	nextAuditID     int64
}

var _ store.Repository = (*Store)(nil)

type state struct {
	products    map[int64]domain.Product
	sales       map[int64]domain.Sale
	items       map[int64][]domain.SaleItem
	payments    map[int64][]domain.Payment
	adjustments []domain.StockAdjustment
	rules       map[int64]domain.DiscountRule
	invoiceSeq  map[string]int

	nextProductID    int64
	nextSaleID       int64
	nextItemID       int64
	nextPaymentID    int64
	nextAdjustmentID int64
	nextRuleID       int64
}

func newState() *state {
	return &state{
		products:   make(map[int64]domain.Product),
		sales:      make(map[int64]domain.Sale),
		items:      make(map[int64][]domain.SaleItem),
		payments:   make(map[int64][]domain.Payment),
		rules:      make(map[int64]domain.DiscountRule),
		invoiceSeq: make(map[string]int),
	}
}

func (s *state) clone() *state {
	c := &state{
		products:         make(map[int64]domain.Product, len(s.products)),
		sales:            make(map[int64]domain.Sale, len(s.sales)),
		items:            make(map[int64][]domain.SaleItem, len(s.items)),
		payments:         make(map[int64][]domain.Payment, len(s.payments)),
		adjustments:      slices.Clone(s.adjustments),
		rules:            make(map[int64]domain.DiscountRule, len(s.rules)),
		invoiceSeq:       make(map[string]int, len(s.invoiceSeq)),
		nextProductID:    s.nextProductID,
		nextSaleID:       s.nextSaleID,
		nextItemID:       s.nextItemID,
		nextPaymentID:    s.nextPaymentID,
		nextAdjustmentID: s.nextAdjustmentID,
		nextRuleID:       s.nextRuleID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	for k, v := range s.items {
		c.items[k] = slices.Clone(v)
	}
	for k, v := range s.payments {
		c.payments[k] = slices.Clone(v)
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.invoiceSeq {
		c.invoiceSeq[k] = v
	}
	return c
}

func New() *Store {
	return &Store{
		state:           newState(),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with demo users and products for local runs.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD and fall
// back to dev defaults with a warning.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		_, _ = s.CreateUser(context.Background(), domain.UserAccount{
			Username:     u.username,
			PasswordHash: string(hash),
			Role:         u.role,
			Active:       true,
		})
	}

	for _, p := range []domain.Product{
		{SKU: "SKU-COFFEE-01", Name: "Ground Coffee 250g", Price: decimal.RequireFromString("8.50"), CostPrice: decimal.RequireFromString("5.10"), Stock: 120, IsActive: true},
		{SKU: "SKU-MILK-01", Name: "UHT Milk 1L", Price: decimal.RequireFromString("1.89"), CostPrice: decimal.RequireFromString("1.20"), Stock: 200, IsActive: true},
		{SKU: "SKU-BREAD-01", Name: "White Bread", Price: decimal.RequireFromString("2.40"), CostPrice: decimal.RequireFromString("1.35"), Stock: 60, IsActive: true},
		{SKU: "SKU-SUGAR-01", Name: "Sugar 1kg", Price: decimal.RequireFromString("1.74"), CostPrice: decimal.RequireFromString("1.40"), Stock: 80, IsActive: true},
		{SKU: "SKU-SOAP-01", Name: "Bath Soap", Price: decimal.RequireFromString("0.99"), CostPrice: decimal.RequireFromString("0.55"), Stock: 150, IsActive: true},
	} {
		_, _ = s.CreateProduct(context.Background(), p)
	}
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.state.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrProductNotFound, id)
	}
	return &p, nil
}

func (s *Store) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]domain.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		if filter.ActiveOnly && !p.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(p.Name), search) && !strings.Contains(strings.ToLower(p.SKU), search) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.state.products {
		if strings.EqualFold(existing.SKU, product.SKU) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
	}
	now := time.Now().UTC()
	s.state.nextProductID++
	product.ID = s.state.nextProductID
	product.CreatedAt = now
	product.UpdatedAt = now
	s.state.products[product.ID] = product
	return &product, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.products[product.ID]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrProductNotFound, product.ID)
	}
	for id, existing := range s.state.products {
		if id != product.ID && strings.EqualFold(existing.SKU, product.SKU) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
	}
	current.SKU = product.SKU
	current.Name = product.Name
	current.Price = product.Price
	current.CostPrice = product.CostPrice
	current.IsActive = product.IsActive
	current.UpdatedAt = time.Now().UTC()
	s.state.products[product.ID] = current
	return &current, nil
}

func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.products[id]; !ok {
		return fmt.Errorf("%w: id %d", store.ErrProductNotFound, id)
	}
	for _, items := range s.state.items {
		for _, item := range items {
			if item.ProductID == id {
				return fmt.Errorf("%w: product %d is referenced by sale items", store.ErrConflict, id)
			}
		}
	}
	for _, adj := range s.state.adjustments {
		if adj.ProductID == id {
			return fmt.Errorf("%w: product %d has stock adjustment history", store.ErrConflict, id)
		}
	}
	for _, rule := range s.state.rules {
		if rule.ProductID != nil && *rule.ProductID == id {
			return fmt.Errorf("%w: product %d is targeted by discount rule %d", store.ErrConflict, id, rule.ID)
		}
	}
	delete(s.state.products, id)
	return nil
}

func (s *Store) ListStockAdjustments(_ context.Context, productID int64, limit int) ([]domain.StockAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockAdjustment, 0, 16)
	for i := len(s.state.adjustments) - 1; i >= 0; i-- {
		adj := s.state.adjustments[i]
		if adj.ProductID != productID {
			continue
		}
		result = append(result, adj)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetSale(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state.loadSale(id)
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	matched := make([]domain.Sale, 0, len(s.state.sales))
	for _, sale := range s.state.sales {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		if filter.CustomerID != nil && (sale.CustomerID == nil || *sale.CustomerID != *filter.CustomerID) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(sale.InvoiceNumber), search) {
			continue
		}
		if filter.From != nil && sale.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !sale.CreatedAt.Before(*filter.To) {
			continue
		}
		sale.Items = slices.Clone(s.state.items[sale.ID])
		if sale.Items == nil {
			sale.Items = []domain.SaleItem{}
		}
		matched = append(matched, sale)
	}

	desc := !strings.EqualFold(filter.Order, "asc")
	sort.SliceStable(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		var less bool
		switch filter.SortBy {
		case "final_total":
			if a.FinalTotal.Equal(b.FinalTotal) {
				less = a.ID < b.ID
			} else {
				less = a.FinalTotal.LessThan(b.FinalTotal)
			}
		case "invoice_number":
			less = a.InvoiceNumber < b.InvoiceNumber
		default:
			if a.CreatedAt.Equal(b.CreatedAt) {
				less = a.ID < b.ID
			} else {
				less = a.CreatedAt.Before(b.CreatedAt)
			}
		}
		if desc {
			return !less
		}
		return less
	})
	return paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

func (s *Store) ListPayments(_ context.Context, saleID int64) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.state.payments[saleID]), nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	entry.ID = s.nextAuditID
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

// AuditLogs returns a copy of every audit entry written so far.
func (s *Store) AuditLogs() []domain.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.auditLogs)
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(strings.TrimSpace(user.Username))
	if key == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.usersByUsername[key]; exists {
		return nil, fmt.Errorf("%w: username %s already exists", store.ErrConflict, key)
	}
	s.nextUserID++
	user.ID = s.nextUserID
	user.Username = key
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[key] = user
	return &user, nil
}

func (st *state) loadSale(id int64) (*domain.Sale, error) {
	sale, ok := st.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", store.ErrSaleNotFound, id)
	}
	sale.Items = slices.Clone(st.items[id])
	if sale.Items == nil {
		sale.Items = []domain.SaleItem{}
	}
	return &sale, nil
}

func paginate[T any](rows []T, page int, limit int) []T {
	if limit < 1 {
		return rows
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start >= len(rows) {
		return []T{}
	}
	end := start + limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}
