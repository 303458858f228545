package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

//go:embed schema.sql
var schema string

const (
	productColumns = `id, sku, name, price, cost_price, stock, is_active, created_at, updated_at`
	saleColumns    = `id, invoice_number, customer_id, user_id, status, subtotal, total_discount_amount,
		tax_amount, final_total, discount_type, discount_value, payment_method, amount_paid,
		change_given, notes, created_at, updated_at, completed_at, cancelled_at`
	saleItemColumns = `id, sale_id, product_id, product_name, quantity, unit_price, cost_price,
		item_discount_amount, item_total, created_at`
)

type Store struct {
	db *sqlx.DB
}

var (
	_ store.Repository = (*Store)(nil)
	_ store.Tx         = (*pgTx)(nil)
)

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		if isLockFailure(err) {
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		if isLockFailure(err) {
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		return err
	}
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", store.ErrProductNotFound, id)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, int, error) {
	conditions := []string{"TRUE"}
	params := map[string]any{}
	if filter.ActiveOnly {
		conditions = append(conditions, "is_active = TRUE")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		conditions = append(conditions, "(name ILIKE :search OR sku ILIKE :search)")
		params["search"] = "%" + search + "%"
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.namedGet(ctx, &total, `SELECT count(*) FROM products`+where, params); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY id` + pageClause(filter.Page, filter.Limit)
	products := make([]domain.Product, 0, 32)
	if err := s.namedSelect(ctx, &products, query, params); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var created domain.Product
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO products (sku, name, price, cost_price, stock, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING `+productColumns,
		product.SKU, product.Name, product.Price, product.CostPrice, product.Stock, product.IsActive,
	).StructScan(&created)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	var updated domain.Product
	err := s.db.QueryRowxContext(ctx, `
		UPDATE products
		SET sku = $2, name = $3, price = $4, cost_price = $5, is_active = $6, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		product.ID, product.SKU, product.Name, product.Price, product.CostPrice, product.IsActive,
	).StructScan(&updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", store.ErrProductNotFound, product.ID)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: sku %s already exists", store.ErrConflict, product.SKU)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: product %d is still referenced by sales, stock adjustments or discount rules", store.ErrConflict, id)
		}
		return err
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", store.ErrProductNotFound, id))
}

func (s *Store) ListStockAdjustments(ctx context.Context, productID int64, limit int) ([]domain.StockAdjustment, error) {
	adjustments := make([]domain.StockAdjustment, 0, 16)
	err := s.db.SelectContext(ctx, &adjustments, `
		SELECT id, product_id, adjustment_type, quantity_change, quantity_before, quantity_after, reason, user_id, created_at
		FROM stock_adjustments
		WHERE product_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, productID, limit)
	return adjustments, err
}

func (s *Store) GetSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return loadSale(ctx, s.db, id, false)
}

var saleSortColumns = map[string]string{
	"created_at":     "created_at",
	"final_total":    "final_total",
	"invoice_number": "invoice_number",
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, int, error) {
	conditions := []string{"TRUE"}
	params := map[string]any{}
	if filter.Status != "" {
		conditions = append(conditions, "status = :status")
		params["status"] = filter.Status
	}
	if filter.CustomerID != nil {
		conditions = append(conditions, "customer_id = :customer_id")
		params["customer_id"] = *filter.CustomerID
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		conditions = append(conditions, "invoice_number ILIKE :search")
		params["search"] = "%" + search + "%"
	}
	if filter.From != nil {
		conditions = append(conditions, "created_at >= :from")
		params["from"] = *filter.From
	}
	if filter.To != nil {
		conditions = append(conditions, "created_at < :to")
		params["to"] = *filter.To
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := s.namedGet(ctx, &total, `SELECT count(*) FROM sales`+where, params); err != nil {
		return nil, 0, err
	}

	column, ok := saleSortColumns[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "DESC"
	if strings.EqualFold(filter.Order, "asc") {
		direction = "ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM sales%s ORDER BY %s %s, id %s%s`,
		saleColumns, where, column, direction, direction, pageClause(filter.Page, filter.Limit))

	sales := make([]domain.Sale, 0, 32)
	if err := s.namedSelect(ctx, &sales, query, params); err != nil {
		return nil, 0, err
	}
	if err := s.attachItems(ctx, sales); err != nil {
		return nil, 0, err
	}
	return sales, total, nil
}

func (s *Store) attachItems(ctx context.Context, sales []domain.Sale) error {
	if len(sales) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(sales))
	for _, sale := range sales {
		ids = append(ids, sale.ID)
	}
	query, args, err := sqlx.In(`SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id IN (?) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	var items []domain.SaleItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return err
	}

	bySale := make(map[int64][]domain.SaleItem, len(sales))
	for _, item := range items {
		bySale[item.SaleID] = append(bySale[item.SaleID], item)
	}
	for i := range sales {
		sales[i].Items = bySale[sales[i].ID]
		if sales[i].Items == nil {
			sales[i].Items = []domain.SaleItem{}
		}
	}
	return nil
}

func (s *Store) ListPayments(ctx context.Context, saleID int64) ([]domain.Payment, error) {
	payments := make([]domain.Payment, 0, 4)
	err := s.db.SelectContext(ctx, &payments, `
		SELECT id, sale_id, amount, method, reference, user_id, paid_at
		FROM payments
		WHERE sale_id = $1
		ORDER BY id
	`, saleID)
	return payments, err
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (actor_id, actor_username, action, entity_type, entity_id, detail, created_at)
		VALUES (:actor_id, :actor_username, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return err
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.GetContext(ctx, &user, `
		SELECT id, username, password_hash, role, is_active, created_at
		FROM users
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) (*domain.UserAccount, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" {
		return nil, store.ErrValidation
	}

	var created domain.UserAccount
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO users (username, password_hash, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING id, username, password_hash, role, is_active, created_at
	`, user.Username, user.PasswordHash, user.Role, user.Active).StructScan(&created)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: username %s already exists", store.ErrConflict, user.Username)
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) namedGet(ctx context.Context, dest any, query string, params map[string]any) error {
	bound, args, err := s.db.BindNamed(query, params)
	if err != nil {
		return err
	}
	return s.db.GetContext(ctx, dest, bound, args...)
}

func (s *Store) namedSelect(ctx context.Context, dest any, query string, params map[string]any) error {
	bound, args, err := s.db.BindNamed(query, params)
	if err != nil {
		return err
	}
	return s.db.SelectContext(ctx, dest, bound, args...)
}

// loadSale reads a sale header and its items. With lock set the header row
// is locked for the rest of the transaction.
func loadSale(ctx context.Context, q sqlx.QueryerContext, id int64, lock bool) (*domain.Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	var sale domain.Sale
	if err := sqlx.GetContext(ctx, q, &sale, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: id %d", store.ErrSaleNotFound, id)
		}
		return nil, err
	}

	sale.Items = make([]domain.SaleItem, 0, 8)
	if err := sqlx.SelectContext(ctx, q, &sale.Items,
		`SELECT `+saleItemColumns+` FROM sale_items WHERE sale_id = $1 ORDER BY id`, id); err != nil {
		return nil, err
	}
	return &sale, nil
}

func pageClause(page int, limit int) string {
	if limit < 1 {
		return ""
	}
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, (page-1)*limit)
}

func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, "23503")
}

func isCheckViolation(err error) bool {
	return hasCode(err, "23514")
}

// isLockFailure reports a deadlock or serialization failure; the
// transaction was rolled back and may be retried by the client.
func isLockFailure(err error) bool {
	return hasCode(err, "40P01") || hasCode(err, "40001")
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
