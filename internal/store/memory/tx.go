package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

// memTx works on a private copy of the state. The store mutex is held for the
// whole transaction, so locking is implicit.
type memTx struct {
	st *state
}

func (t *memTx) LockProducts(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.st.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (t *memTx) AddStock(_ context.Context, productID int64, delta int) (int, error) {
	p, ok := t.st.products[productID]
	if !ok {
		return 0, fmt.Errorf("%w: id %d", store.ErrProductNotFound, productID)
	}
	if p.Stock+delta < 0 {
		return 0, fmt.Errorf("%w for %q (ID: %d). Available: %d, Requested: %d",
			store.ErrInsufficientStock, p.Name, p.ID, p.Stock, -delta)
	}
	p.Stock += delta
	p.UpdatedAt = time.Now().UTC()
	t.st.products[productID] = p
	return p.Stock, nil
}

func (t *memTx) NextInvoiceSequence(_ context.Context, day time.Time) (int, error) {
	key := day.UTC().Format("2006-01-02")
	t.st.invoiceSeq[key]++
	return t.st.invoiceSeq[key], nil
}

func (t *memTx) InsertSale(_ context.Context, sale *domain.Sale) error {
	for _, existing := range t.st.sales {
		if existing.InvoiceNumber == sale.InvoiceNumber {
			return fmt.Errorf("%w: invoice number %s already exists", store.ErrConflict, sale.InvoiceNumber)
		}
	}
	now := time.Now().UTC()
	t.st.nextSaleID++
	sale.ID = t.st.nextSaleID
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now

	items := make([]domain.SaleItem, 0, len(sale.Items))
	for i := range sale.Items {
		t.st.nextItemID++
		sale.Items[i].ID = t.st.nextItemID
		sale.Items[i].SaleID = sale.ID
		if sale.Items[i].CreatedAt.IsZero() {
			sale.Items[i].CreatedAt = now
		}
		items = append(items, sale.Items[i])
	}

	header := *sale
	header.Items = nil
	t.st.sales[sale.ID] = header
	t.st.items[sale.ID] = items
	return nil
}

func (t *memTx) LockSale(_ context.Context, id int64) (*domain.Sale, error) {
	return t.st.loadSale(id)
}

func (t *memTx) UpdateSale(_ context.Context, sale domain.Sale) error {
	if _, ok := t.st.sales[sale.ID]; !ok {
		return fmt.Errorf("%w: id %d", store.ErrSaleNotFound, sale.ID)
	}
	sale.Items = nil
	sale.UpdatedAt = time.Now().UTC()
	t.st.sales[sale.ID] = sale
	return nil
}

func (t *memTx) DeleteSale(_ context.Context, id int64) error {
	if _, ok := t.st.sales[id]; !ok {
		return fmt.Errorf("%w: id %d", store.ErrSaleNotFound, id)
	}
	delete(t.st.sales, id)
	delete(t.st.items, id)
	delete(t.st.payments, id)
	return nil
}

func (t *memTx) InsertSaleItem(_ context.Context, item *domain.SaleItem) error {
	if _, ok := t.st.sales[item.SaleID]; !ok {
		return fmt.Errorf("%w: id %d", store.ErrSaleNotFound, item.SaleID)
	}
	t.st.nextItemID++
	item.ID = t.st.nextItemID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	t.st.items[item.SaleID] = append(t.st.items[item.SaleID], *item)
	return nil
}

func (t *memTx) UpdateSaleItem(_ context.Context, item domain.SaleItem) error {
	items := t.st.items[item.SaleID]
	for i := range items {
		if items[i].ID == item.ID {
			items[i] = item
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", store.ErrItemNotFound, item.ID)
}

func (t *memTx) DeleteSaleItem(_ context.Context, saleID int64, itemID int64) error {
	items := t.st.items[saleID]
	for i := range items {
		if items[i].ID == itemID {
			t.st.items[saleID] = append(items[:i:i], items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", store.ErrItemNotFound, itemID)
}

func (t *memTx) SumPayments(_ context.Context, saleID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range t.st.payments[saleID] {
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (t *memTx) InsertPayment(_ context.Context, payment *domain.Payment) error {
	if _, ok := t.st.sales[payment.SaleID]; !ok {
		return fmt.Errorf("%w: id %d", store.ErrSaleNotFound, payment.SaleID)
	}
	t.st.nextPaymentID++
	payment.ID = t.st.nextPaymentID
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	t.st.payments[payment.SaleID] = append(t.st.payments[payment.SaleID], *payment)
	return nil
}

func (t *memTx) InsertStockAdjustment(_ context.Context, adjustment *domain.StockAdjustment) error {
	if _, ok := t.st.products[adjustment.ProductID]; !ok {
		return fmt.Errorf("%w: id %d", store.ErrProductNotFound, adjustment.ProductID)
	}
	t.st.nextAdjustmentID++
	adjustment.ID = t.st.nextAdjustmentID
	if adjustment.CreatedAt.IsZero() {
		adjustment.CreatedAt = time.Now().UTC()
	}
	t.st.adjustments = append(t.st.adjustments, *adjustment)
	return nil
}
