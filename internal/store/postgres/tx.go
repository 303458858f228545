package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+productColumns+` FROM products WHERE id IN (?) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}

	var products []domain.Product
	if err := t.tx.SelectContext(ctx, &products, t.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, p := range products {
		result[p.ID] = p
	}
	return result, nil
}

func (t *pgTx) AddStock(ctx context.Context, productID int64, delta int) (int, error) {
	var stock int
	err := t.tx.GetContext(ctx, &stock, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock
	`, productID, delta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%w: id %d", store.ErrProductNotFound, productID)
		}
		if isCheckViolation(err) {
			return 0, fmt.Errorf("%w: product %d cannot go below zero", store.ErrInsufficientStock, productID)
		}
		return 0, err
	}
	return stock, nil
}

func (t *pgTx) NextInvoiceSequence(ctx context.Context, day time.Time) (int, error) {
	var seq int
	err := t.tx.GetContext(ctx, &seq, `
		INSERT INTO invoice_sequences (day, last_value)
		VALUES ($1, 1)
		ON CONFLICT (day)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1
		RETURNING last_value
	`, day.UTC().Format("2006-01-02"))
	return seq, err
}

func (t *pgTx) InsertSale(ctx context.Context, sale *domain.Sale) error {
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	err := t.namedReturning(ctx, `
		INSERT INTO sales (
			invoice_number, customer_id, user_id, status, subtotal, total_discount_amount,
			tax_amount, final_total, discount_type, discount_value, payment_method,
			amount_paid, change_given, notes, created_at, updated_at, completed_at, cancelled_at
		) VALUES (
			:invoice_number, :customer_id, :user_id, :status, :subtotal, :total_discount_amount,
			:tax_amount, :final_total, :discount_type, :discount_value, :payment_method,
			:amount_paid, :change_given, :notes, :created_at, now(), :completed_at, :cancelled_at
		)
		RETURNING id, updated_at
	`, sale, &sale.ID, &sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: invoice number %s already exists", store.ErrConflict, sale.InvoiceNumber)
		}
		return err
	}

	for i := range sale.Items {
		sale.Items[i].SaleID = sale.ID
		if err := t.InsertSaleItem(ctx, &sale.Items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockSale(ctx context.Context, id int64) (*domain.Sale, error) {
	return loadSale(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateSale(ctx context.Context, sale domain.Sale) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE sales SET
			customer_id = :customer_id,
			status = :status,
			subtotal = :subtotal,
			total_discount_amount = :total_discount_amount,
			tax_amount = :tax_amount,
			final_total = :final_total,
			discount_type = :discount_type,
			discount_value = :discount_value,
			payment_method = :payment_method,
			amount_paid = :amount_paid,
			change_given = :change_given,
			notes = :notes,
			completed_at = :completed_at,
			cancelled_at = :cancelled_at,
			updated_at = now()
		WHERE id = :id
	`, sale)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", store.ErrSaleNotFound, sale.ID))
}

func (t *pgTx) DeleteSale(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", store.ErrSaleNotFound, id))
}

func (t *pgTx) InsertSaleItem(ctx context.Context, item *domain.SaleItem) error {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	err := t.namedReturning(ctx, `
		INSERT INTO sale_items (
			sale_id, product_id, product_name, quantity, unit_price, cost_price,
			item_discount_amount, item_total, created_at
		) VALUES (
			:sale_id, :product_id, :product_name, :quantity, :unit_price, :cost_price,
			:item_discount_amount, :item_total, :created_at
		)
		RETURNING id
	`, item, &item.ID)
	if err != nil && isForeignKeyViolation(err) {
		return fmt.Errorf("%w: sale %d or product %d", store.ErrNotFound, item.SaleID, item.ProductID)
	}
	return err
}

func (t *pgTx) UpdateSaleItem(ctx context.Context, item domain.SaleItem) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE sale_items SET
			quantity = :quantity,
			unit_price = :unit_price,
			item_discount_amount = :item_discount_amount,
			item_total = :item_total
		WHERE id = :id AND sale_id = :sale_id
	`, item)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", store.ErrItemNotFound, item.ID))
}

func (t *pgTx) DeleteSaleItem(ctx context.Context, saleID int64, itemID int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM sale_items WHERE id = $1 AND sale_id = $2`, itemID, saleID)
	if err != nil {
		return err
	}
	return requireAffected(res, fmt.Errorf("%w: id %d", store.ErrItemNotFound, itemID))
}

func (t *pgTx) SumPayments(ctx context.Context, saleID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := t.tx.GetContext(ctx, &total, `SELECT COALESCE(SUM(amount), 0) FROM payments WHERE sale_id = $1`, saleID)
	return total, err
}

func (t *pgTx) InsertPayment(ctx context.Context, payment *domain.Payment) error {
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	return t.namedReturning(ctx, `
		INSERT INTO payments (sale_id, amount, method, reference, user_id, paid_at)
		VALUES (:sale_id, :amount, :method, :reference, :user_id, :paid_at)
		RETURNING id
	`, payment, &payment.ID)
}

func (t *pgTx) InsertStockAdjustment(ctx context.Context, adjustment *domain.StockAdjustment) error {
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	return t.namedReturning(ctx, `
		INSERT INTO stock_adjustments (
			product_id, adjustment_type, quantity_change, quantity_before, quantity_after,
			reason, user_id, created_at
		) VALUES (
			:product_id, :adjustment_type, :quantity_change, :quantity_before, :quantity_after,
			:reason, :user_id, :created_at
		)
		RETURNING id
	`, adjustment, &adjustment.ID)
}

// namedReturning runs a named INSERT ... RETURNING and scans the single
// returned row into dest.
func (t *pgTx) namedReturning(ctx context.Context, query string, arg any, dest ...any) error {
	rows, err := sqlx.NamedQueryContext(ctx, t.tx, query, arg)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return err
		}
		return sql.ErrNoRows
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}
	return rows.Close()
}
