package service

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"possale/backend/internal/cache"
	"possale/backend/internal/domain"
	"possale/backend/internal/store"
	"possale/backend/internal/store/memory"
)

var testDay = time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := New(repo, Options{TaxRate: decimal.RequireFromString("0.07")})
	svc.now = func() time.Time { return testDay }
	return svc, repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: 2, Username: "cashier", Role: domain.RoleCashier})
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{UserID: 1, Username: "admin", Role: domain.RoleAdmin})
}

func seedProduct(t *testing.T, repo *memory.Store, sku string, price string, stock int, active bool) domain.Product {
	t.Helper()
	p, err := repo.CreateProduct(context.Background(), domain.Product{
		SKU:       sku,
		Name:      "Product " + sku,
		Price:     decimal.RequireFromString(price),
		CostPrice: decimal.RequireFromString(price).Div(decimal.NewFromInt(2)),
		Stock:     stock,
		IsActive:  active,
	})
	require.NoError(t, err)
	return *p
}

func stockOf(t *testing.T, repo *memory.Store, id int64) int {
	t.Helper()
	p, err := repo.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func amount(raw string) *decimal.Decimal {
	d := decimal.RequireFromString(raw)
	return &d
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, decimal.RequireFromString(want).Equal(got), "%s: want %s, got %s", field, want, got.String())
}

func assertTotalsConsistent(t *testing.T, sale domain.Sale) {
	t.Helper()
	want := sale.Subtotal.Sub(sale.TotalDiscountAmount).Add(sale.TaxAmount)
	assert.Truef(t, want.Equal(sale.FinalTotal), "final_total %s != subtotal - discount + tax (%s)", sale.FinalTotal, want)
}

func cashSale(productID int64, qty int) domain.CreateSaleRequest {
	return domain.CreateSaleRequest{
		PaymentMethod: domain.SalePaymentCash,
		Items:         []domain.SaleLineRequest{{ProductID: productID, Quantity: qty}},
	}
}

func TestSaleRoundTripRestoresStockOnCancel(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-A", "500", 10, true)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 2))
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, sale.Status)
	assertMoney(t, "1000", sale.Subtotal, "subtotal")
	assertMoney(t, "70", sale.TaxAmount, "tax")
	assertMoney(t, "1070", sale.FinalTotal, "final_total")
	assertMoney(t, "1070", sale.AmountPaid, "amount_paid")
	assert.Equal(t, "POS-20260105-0001", sale.InvoiceNumber)
	require.Len(t, sale.Items, 1)
	assertMoney(t, "1000", sale.Items[0].ItemTotal, "item_total")
	assert.Equal(t, 8, stockOf(t, repo, p.ID))

	completed, err := svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, 8, stockOf(t, repo, p.ID))

	cancelled, err := svc.CancelSale(ctx, sale.ID, domain.SaleTransitionRequest{Reason: "customer changed mind"})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, 10, stockOf(t, repo, p.ID))

	_, err = svc.CancelSale(ctx, sale.ID, domain.SaleTransitionRequest{})
	require.ErrorIs(t, err, store.ErrAlreadyCancelled)
	assert.Equal(t, 10, stockOf(t, repo, p.ID))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-HOT", "3.00", 10, true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.CreateSale(ctx, cashSale(p.ID, 6))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 4, stockOf(t, repo, p.ID))
}

func TestCreateSaleRejectsBadLinesWithoutTouchingStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	active := seedProduct(t, repo, "SKU-ON", "4.00", 5, true)
	inactive := seedProduct(t, repo, "SKU-OFF", "4.00", 5, false)

	tests := []struct {
		name  string
		lines []domain.SaleLineRequest
		want  error
	}{
		{"zero quantity", []domain.SaleLineRequest{{ProductID: active.ID, Quantity: 0}}, store.ErrValidation},
		{"no lines", nil, store.ErrValidation},
		{"missing product", []domain.SaleLineRequest{{ProductID: 999, Quantity: 1}}, store.ErrProductNotFound},
		{"inactive product", []domain.SaleLineRequest{{ProductID: inactive.ID, Quantity: 1}}, store.ErrProductInactive},
		{"summed lines exceed stock", []domain.SaleLineRequest{
			{ProductID: active.ID, Quantity: 3},
			{ProductID: active.ID, Quantity: 3},
		}, store.ErrInsufficientStock},
		{"item discount above line", []domain.SaleLineRequest{
			{ProductID: active.ID, Quantity: 1, ItemDiscountAmount: amount("4.01")},
		}, store.ErrInvalidDiscount},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
				PaymentMethod: domain.SalePaymentCash,
				Items:         tc.lines,
			})
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, 5, stockOf(t, repo, active.ID))
			assert.Equal(t, 5, stockOf(t, repo, inactive.ID))
		})
	}
}

func TestCreateSaleInsufficientStockMessage(t *testing.T) {
	svc, repo := newTestService(t)
	p := seedProduct(t, repo, "SKU-LOW", "1.00", 2, true)

	_, err := svc.CreateSale(cashierCtx(), cashSale(p.ID, 3))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "Available: 2, Requested: 3")
}

func TestCreateSaleTenderRules(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-T", "500", 10, true)

	req := cashSale(p.ID, 2)
	req.AmountPaid = amount("100")
	_, err := svc.CreateSale(ctx, req)
	require.ErrorIs(t, err, store.ErrUnderPayment)
	assert.Equal(t, 10, stockOf(t, repo, p.ID))

	req.PaymentMethod = domain.SalePaymentCredit
	req.AmountPaid = amount("0")
	sale, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	assertMoney(t, "0", sale.AmountPaid, "amount_paid")
	assertMoney(t, "0", sale.ChangeGiven, "change_given")

	req.PaymentMethod = domain.SalePaymentCash
	req.AmountPaid = amount("1100")
	sale, err = svc.CreateSale(ctx, req)
	require.NoError(t, err)
	assertMoney(t, "30", sale.ChangeGiven, "change_given")

	req.PaymentMethod = "Barter"
	_, err = svc.CreateSale(ctx, req)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestCreateSaleDiscountBounds(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-D", "500", 10, true)

	req := cashSale(p.ID, 2)
	req.DiscountAmount = amount("1000")
	sale, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)
	assertMoney(t, "0", sale.TaxAmount, "tax")
	assertMoney(t, "0", sale.FinalTotal, "final_total")
	assertMoney(t, "1000", sale.TotalDiscountAmount, "total_discount_amount")

	req.DiscountAmount = amount("1000.01")
	_, err = svc.CreateSale(ctx, req)
	require.ErrorIs(t, err, store.ErrInvalidDiscount)

	req.DiscountAmount = amount("-1")
	_, err = svc.CreateSale(ctx, req)
	require.ErrorIs(t, err, store.ErrInvalidDiscount)
	assert.Equal(t, 8, stockOf(t, repo, p.ID))
}

func TestCreateSaleRequiresOperator(t *testing.T) {
	svc, repo := newTestService(t)
	p := seedProduct(t, repo, "SKU-U", "1.00", 1, true)

	_, err := svc.CreateSale(context.Background(), cashSale(p.ID, 1))
	require.ErrorIs(t, err, store.ErrUnauthenticated)

	req := cashSale(p.ID, 1)
	req.UserID = 7
	sale, err := svc.CreateSale(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int64(7), sale.UserID)
}

func TestInvoiceNumbersIncreasePerDay(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-INV", "1.00", 10, true)

	first, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)
	second, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)
	svc.now = func() time.Time { return testDay.Add(24 * time.Hour) }
	third, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)

	assert.Equal(t, "POS-20260105-0001", first.InvoiceNumber)
	assert.Equal(t, "POS-20260105-0002", second.InvoiceNumber)
	assert.Equal(t, "POS-20260106-0001", third.InvoiceNumber)
}

func TestItemMutationsRecomputeTotalsAndStock(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	a := seedProduct(t, repo, "SKU-A", "10.00", 10, true)
	b := seedProduct(t, repo, "SKU-B", "2.50", 10, true)

	sale, err := svc.CreateSale(ctx, cashSale(a.ID, 1))
	require.NoError(t, err)

	added, err := svc.AddItem(ctx, sale.ID, domain.AddItemRequest{ProductID: b.ID, Quantity: 2})
	require.NoError(t, err)
	assertMoney(t, "15", added.Sale.Subtotal, "subtotal")
	assertMoney(t, "1.05", added.Sale.TaxAmount, "tax")
	assertMoney(t, "16.05", added.Sale.FinalTotal, "final_total")
	assertMoney(t, "2.50", added.Item.UnitPrice, "unit_price")
	assert.NotZero(t, added.Item.ID)
	assert.Equal(t, 8, stockOf(t, repo, b.ID))
	assertTotalsConsistent(t, added.Sale)

	updated, err := svc.UpdateItem(ctx, sale.ID, added.Item.ID, domain.SaleItemPatch{Quantity: intPtr(4)})
	require.NoError(t, err)
	assertMoney(t, "20", updated.Sale.Subtotal, "subtotal")
	assert.Equal(t, 6, stockOf(t, repo, b.ID))

	updated, err = svc.UpdateItem(ctx, sale.ID, added.Item.ID, domain.SaleItemPatch{Quantity: intPtr(1)})
	require.NoError(t, err)
	assertMoney(t, "12.50", updated.Sale.Subtotal, "subtotal")
	assert.Equal(t, 9, stockOf(t, repo, b.ID))

	_, err = svc.UpdateItem(ctx, sale.ID, added.Item.ID, domain.SaleItemPatch{Quantity: intPtr(50)})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 9, stockOf(t, repo, b.ID))

	_, err = svc.UpdateItem(ctx, sale.ID, 9999, domain.SaleItemPatch{Quantity: intPtr(1)})
	require.ErrorIs(t, err, store.ErrItemNotFound)

	remaining, err := svc.RemoveItem(ctx, sale.ID, added.Item.ID)
	require.NoError(t, err)
	require.Len(t, remaining.Items, 1)
	assertMoney(t, "10", remaining.Subtotal, "subtotal")
	assertMoney(t, "10.70", remaining.FinalTotal, "final_total")
	assert.Equal(t, 10, stockOf(t, repo, b.ID))

	stored, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Items, 1)
	assertTotalsConsistent(t, stored)
}

func TestAddItemRejectsInactiveProduct(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	a := seedProduct(t, repo, "SKU-A", "1.00", 5, true)
	off := seedProduct(t, repo, "SKU-OFF", "1.00", 5, false)

	sale, err := svc.CreateSale(ctx, cashSale(a.ID, 1))
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, sale.ID, domain.AddItemRequest{ProductID: off.ID, Quantity: 1})
	require.ErrorIs(t, err, store.ErrProductInactive)
	_, err = svc.AddItem(ctx, sale.ID, domain.AddItemRequest{ProductID: a.ID, Quantity: 0})
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.AddItem(ctx, 404, domain.AddItemRequest{ProductID: a.ID, Quantity: 1})
	require.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestApplyDiscount(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-P", "10.00", 10, true)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)

	discounted, err := svc.ApplyDiscount(ctx, sale.ID, domain.ApplyDiscountRequest{
		DiscountType:  "percentage",
		DiscountValue: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assertMoney(t, "1", discounted.TotalDiscountAmount, "total_discount_amount")
	assertMoney(t, "0.63", discounted.TaxAmount, "tax")
	assertMoney(t, "9.63", discounted.FinalTotal, "final_total")

	// Percentage discounts follow later item changes.
	added, err := svc.AddItem(ctx, sale.ID, domain.AddItemRequest{ProductID: p.ID, Quantity: 1})
	require.NoError(t, err)
	assertMoney(t, "2", added.Sale.TotalDiscountAmount, "total_discount_amount")

	for _, tc := range []domain.ApplyDiscountRequest{
		{DiscountType: "percentage", DiscountValue: decimal.NewFromInt(150)},
		{DiscountType: "fixed", DiscountValue: decimal.NewFromInt(21)},
		{DiscountType: "fixed", DiscountValue: decimal.NewFromInt(-1)},
		{DiscountType: "bogus", DiscountValue: decimal.NewFromInt(1)},
	} {
		_, err := svc.ApplyDiscount(ctx, sale.ID, tc)
		assert.ErrorIs(t, err, store.ErrInvalidDiscount, "type=%s value=%s", tc.DiscountType, tc.DiscountValue)
	}

	fixed, err := svc.ApplyDiscount(ctx, sale.ID, domain.ApplyDiscountRequest{
		DiscountType:  "fixed",
		DiscountValue: decimal.NewFromInt(20),
	})
	require.NoError(t, err)
	assertMoney(t, "0", fixed.FinalTotal, "final_total")
	assertTotalsConsistent(t, fixed)
}

func TestRemovingItemsCapsSaleDiscount(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	a := seedProduct(t, repo, "SKU-A", "10.00", 10, true)
	b := seedProduct(t, repo, "SKU-B", "10.00", 10, true)

	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		PaymentMethod: domain.SalePaymentCredit,
		Items: []domain.SaleLineRequest{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 1},
		},
		DiscountAmount: amount("15"),
	})
	require.NoError(t, err)

	updated, err := svc.RemoveItem(ctx, sale.ID, sale.Items[1].ID)
	require.NoError(t, err)
	assertMoney(t, "10", updated.TotalDiscountAmount, "total_discount_amount")
	assertMoney(t, "0", updated.FinalTotal, "final_total")
}

func TestCompleteSaleRules(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	a := seedProduct(t, repo, "SKU-A", "10.00", 10, true)
	b := seedProduct(t, repo, "SKU-B", "5.00", 10, true)

	sale, err := svc.CreateSale(ctx, cashSale(a.ID, 2))
	require.NoError(t, err)

	completed, err := svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{
		Items: []domain.SaleLineRequest{
			{ProductID: a.ID, Quantity: 1},
			{ProductID: b.ID, Quantity: 1},
		},
		AmountPaid: amount("20"),
	})
	require.NoError(t, err)
	assert.Equal(t, 9, stockOf(t, repo, a.ID))
	assert.Equal(t, 9, stockOf(t, repo, b.ID))
	assertMoney(t, "15", completed.Subtotal, "subtotal")
	assertMoney(t, "16.05", completed.FinalTotal, "final_total")
	assertMoney(t, "3.95", completed.ChangeGiven, "change_given")
	require.Len(t, completed.Items, 2)

	_, err = svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{})
	require.ErrorIs(t, err, store.ErrInvalidState)
	_, err = svc.AddItem(ctx, sale.ID, domain.AddItemRequest{ProductID: a.ID, Quantity: 1})
	require.ErrorIs(t, err, store.ErrInvalidState)
	_, err = svc.ApplyDiscount(ctx, sale.ID, domain.ApplyDiscountRequest{DiscountType: "fixed", DiscountValue: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, store.ErrInvalidState)

	grown, err := svc.CreateSale(ctx, cashSale(a.ID, 1))
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, grown.ID, domain.AddItemRequest{ProductID: b.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = svc.CompleteSale(ctx, grown.ID, domain.CompleteSaleRequest{})
	require.ErrorIs(t, err, store.ErrUnderPayment)

	empty, err := svc.CreateSale(ctx, cashSale(b.ID, 1))
	require.NoError(t, err)
	_, err = svc.RemoveItem(ctx, empty.ID, empty.Items[0].ID)
	require.NoError(t, err)
	_, err = svc.CompleteSale(ctx, empty.ID, domain.CompleteSaleRequest{})
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestRefundAndDelete(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-R", "2.00", 10, true)

	pending, err := svc.CreateSale(ctx, cashSale(p.ID, 3))
	require.NoError(t, err)
	_, err = svc.RefundSale(ctx, pending.ID, domain.SaleTransitionRequest{})
	require.ErrorIs(t, err, store.ErrInvalidState)

	require.NoError(t, svc.DeleteSale(ctx, pending.ID))
	assert.Equal(t, 10, stockOf(t, repo, p.ID))
	_, err = svc.GetSale(ctx, pending.ID)
	require.ErrorIs(t, err, store.ErrSaleNotFound)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 4))
	require.NoError(t, err)
	_, err = svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{})
	require.NoError(t, err)
	require.ErrorIs(t, svc.DeleteSale(ctx, sale.ID), store.ErrInvalidState)

	refunded, err := svc.RefundSale(ctx, sale.ID, domain.SaleTransitionRequest{Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusRefunded, refunded.Status)
	assert.Equal(t, 10, stockOf(t, repo, p.ID))

	_, err = svc.CancelSale(ctx, sale.ID, domain.SaleTransitionRequest{})
	require.ErrorIs(t, err, store.ErrInvalidState)
	assert.Equal(t, 10, stockOf(t, repo, p.ID))
}

func TestCancelPendingSaleReleasesReservation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-C", "2.00", 5, true)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 5))
	require.NoError(t, err)
	assert.Equal(t, 0, stockOf(t, repo, p.ID))

	_, err = svc.CancelSale(ctx, sale.ID, domain.SaleTransitionRequest{})
	require.NoError(t, err)
	assert.Equal(t, 5, stockOf(t, repo, p.ID))

	_, err = svc.CancelSale(ctx, 404, domain.SaleTransitionRequest{})
	require.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestPayments(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-PAY", "10.00", 10, true)

	req := cashSale(p.ID, 1)
	req.PaymentMethod = domain.SalePaymentCredit
	req.AmountPaid = amount("0")
	sale, err := svc.CreateSale(ctx, req)
	require.NoError(t, err)

	_, err = svc.AddPayment(ctx, domain.CreatePaymentRequest{SaleID: sale.ID, Amount: decimal.NewFromInt(5), Method: domain.PaymentMethodCash})
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{})
	require.NoError(t, err)

	first, err := svc.AddPayment(ctx, domain.CreatePaymentRequest{SaleID: sale.ID, Amount: decimal.NewFromInt(5), Method: domain.PaymentMethodCash})
	require.NoError(t, err)
	assert.Equal(t, int64(2), first.UserID)

	_, err = svc.AddPayment(ctx, domain.CreatePaymentRequest{SaleID: sale.ID, Amount: decimal.NewFromInt(6), Method: domain.PaymentMethodCard})
	require.ErrorIs(t, err, store.ErrValidation)

	_, err = svc.AddPayment(ctx, domain.CreatePaymentRequest{SaleID: sale.ID, Amount: decimal.RequireFromString("5.70"), Method: domain.PaymentMethodMobilePay})
	require.NoError(t, err)

	_, err = svc.AddPayment(ctx, domain.CreatePaymentRequest{SaleID: sale.ID, Amount: decimal.NewFromInt(1), Method: "cheque"})
	require.ErrorIs(t, err, store.ErrValidation)

	summary, err := svc.PaymentSummary(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, summary.Payments, 2)
	assertMoney(t, "10.70", summary.TotalPaid, "total_paid")
	assertMoney(t, "0", summary.Balance, "balance")

	_, err = svc.PaymentSummary(ctx, 404)
	require.ErrorIs(t, err, store.ErrSaleNotFound)
}

func TestStockAdjustments(t *testing.T) {
	svc, repo := newTestService(t)
	p := seedProduct(t, repo, "SKU-ADJ", "1.00", 10, true)

	_, err := svc.AdjustStock(cashierCtx(), domain.StockAdjustmentRequest{ProductID: p.ID, AdjustmentType: domain.AdjustmentAddition, Quantity: 1})
	require.ErrorIs(t, err, store.ErrForbidden)

	ctx := adminCtx()
	adj, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: p.ID, AdjustmentType: domain.AdjustmentAddition, Quantity: 5, Reason: "delivery"})
	require.NoError(t, err)
	assert.Equal(t, 10, adj.QuantityBefore)
	assert.Equal(t, 15, adj.QuantityAfter)
	assert.Equal(t, 5, adj.QuantityChange)

	_, err = svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: p.ID, AdjustmentType: domain.AdjustmentDamage, Quantity: 16})
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	assert.Equal(t, 15, stockOf(t, repo, p.ID))

	_, err = svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: p.ID, AdjustmentType: "Shrinkage", Quantity: 1})
	require.ErrorIs(t, err, store.ErrValidation)

	adj, err = svc.AdjustStock(ctx, domain.StockAdjustmentRequest{ProductID: p.ID, AdjustmentType: domain.AdjustmentRemoval, Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, -3, adj.QuantityChange)
	assert.Equal(t, 12, stockOf(t, repo, p.ID))

	history, err := svc.ListStockAdjustments(ctx, p.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.AdjustmentRemoval, history[0].AdjustmentType)
}

func TestProductAdministration(t *testing.T) {
	svc, repo := newTestService(t)

	_, err := svc.CreateProduct(cashierCtx(), domain.ProductCreateRequest{SKU: "x", Name: "x", Price: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, store.ErrForbidden)

	ctx := adminCtx()
	created, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU:       " sku-new ",
		Name:      "Oat Milk",
		Price:     decimal.RequireFromString("3.499"),
		CostPrice: decimal.RequireFromString("2"),
		Stock:     4,
	})
	require.NoError(t, err)
	assert.Equal(t, "SKU-NEW", created.SKU)
	assert.True(t, created.IsActive)
	assertMoney(t, "3.5", created.Price, "price")

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{SKU: "SKU-NEW", Name: "Dup", Price: decimal.NewFromInt(1)})
	require.ErrorIs(t, err, store.ErrConflict)

	off := false
	updated, err := svc.UpdateProduct(ctx, created.ID, domain.ProductPatch{IsActive: &off})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	_, err = svc.CreateSale(ctx, cashSale(created.ID, 1))
	require.ErrorIs(t, err, store.ErrProductInactive)

	sold := seedProduct(t, repo, "SKU-SOLD", "1.00", 3, true)
	_, err = svc.CreateSale(ctx, cashSale(sold.ID, 1))
	require.NoError(t, err)
	require.ErrorIs(t, svc.DeleteProduct(ctx, sold.ID), store.ErrConflict)
	require.NoError(t, svc.DeleteProduct(ctx, created.ID))

	list, err := svc.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestListSalesFiltersAndPaginates(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-L", "1.00", 50, true)

	for i := 1; i <= 3; i++ {
		_, err := svc.CreateSale(ctx, cashSale(p.ID, i))
		require.NoError(t, err)
	}
	_, err := svc.CompleteSale(ctx, 1, domain.CompleteSaleRequest{})
	require.NoError(t, err)

	all, err := svc.ListSales(ctx, domain.SaleFilter{SortBy: "final_total", Order: "asc", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	require.Len(t, all.Sales, 2)
	assert.True(t, all.Sales[0].FinalTotal.LessThan(all.Sales[1].FinalTotal))

	completed, err := svc.ListSales(ctx, domain.SaleFilter{Status: domain.SaleStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, 1, completed.Total)
	assert.Equal(t, defaultSaleLimit, completed.Limit)

	_, err = svc.ListSales(ctx, domain.SaleFilter{Status: "archived"})
	require.ErrorIs(t, err, store.ErrValidation)
	_, err = svc.ListSales(ctx, domain.SaleFilter{SortBy: "password"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestMutationsWriteAuditLog(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-AUD", "1.00", 5, true)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)
	_, err = svc.CancelSale(ctx, sale.ID, domain.SaleTransitionRequest{Reason: "test"})
	require.NoError(t, err)

	logs := repo.AuditLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, "create_sale", logs[0].Action)
	assert.Equal(t, "cancel_sale", logs[1].Action)
	assert.Equal(t, "test", logs[1].Detail)
	assert.Equal(t, "cashier", logs[1].ActorUsername)
}

type recordingCache struct {
	cache.NoopSaleCache
	mu      sync.Mutex
	deleted []int64
}

func (c *recordingCache) Delete(_ context.Context, saleID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, saleID)
	return nil
}

type busyLocker struct{}

func (busyLocker) Lock(_ context.Context, _ int64) (func(), error) {
	return func() {}, cache.ErrLocked
}

func TestMutationsInvalidateCacheAndRespectLock(t *testing.T) {
	repo := memory.New()
	rc := &recordingCache{}
	svc := New(repo, Options{TaxRate: decimal.RequireFromString("0.07"), Cache: rc})
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-CACHE", "1.00", 5, true)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)
	_, err = svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{})
	require.NoError(t, err)
	assert.Equal(t, []int64{sale.ID}, rc.deleted)

	locked := New(repo, Options{TaxRate: decimal.RequireFromString("0.07"), Locker: busyLocker{}})
	_, err = locked.CancelSale(ctx, sale.ID, domain.SaleTransitionRequest{})
	require.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 4, stockOf(t, repo, p.ID))
}

func TestLineRoundingKeepsItemTotalsConsistent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-RND", "10.00", 20, true)

	line := domain.SaleLineRequest{ProductID: p.ID, Quantity: 1, ItemDiscountAmount: amount("0.005")}
	sale, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		PaymentMethod: domain.SalePaymentCash,
		Items:         []domain.SaleLineRequest{line, line, line},
	})
	require.NoError(t, err)
	require.Len(t, sale.Items, 3)

	itemTotals := decimal.Zero
	itemDiscounts := decimal.Zero
	for _, item := range sale.Items {
		assertMoney(t, "0.01", item.ItemDiscountAmount, "item_discount_amount")
		assertMoney(t, "9.99", item.ItemTotal, "item_total")
		itemTotals = itemTotals.Add(item.ItemTotal)
		itemDiscounts = itemDiscounts.Add(item.ItemDiscountAmount)
	}
	assertMoney(t, "30", sale.Subtotal, "subtotal")
	assertMoney(t, "0.03", sale.TotalDiscountAmount, "total_discount_amount")
	assertMoney(t, sale.Subtotal.Sub(itemDiscounts).String(), itemTotals, "sum of item totals")
	assertTotalsConsistent(t, sale)

	added, err := svc.AddItem(ctx, sale.ID, domain.AddItemRequest{ProductID: p.ID, Quantity: 1, ItemDiscountAmount: amount("0.004")})
	require.NoError(t, err)
	assertMoney(t, "0", added.Item.ItemDiscountAmount, "item_discount_amount")
	assertMoney(t, "10", added.Item.ItemTotal, "item_total")

	stored, err := repo.GetSale(context.Background(), sale.ID)
	require.NoError(t, err)
	itemTotals = decimal.Zero
	for _, item := range stored.Items {
		itemTotals = itemTotals.Add(item.ItemTotal)
	}
	assertMoney(t, "39.97", itemTotals, "sum of stored item totals")
	assertMoney(t, "40", stored.Subtotal, "stored subtotal")
	assertMoney(t, "0.03", stored.TotalDiscountAmount, "stored total_discount_amount")
	assertTotalsConsistent(t, *stored)
}

func TestSaleDiscountBoundsUseRoundedValue(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-EDGE", "10.00", 10, true)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)

	updated, err := svc.ApplyDiscount(ctx, sale.ID, domain.ApplyDiscountRequest{
		DiscountType: domain.DiscountFixed, DiscountValue: decimal.RequireFromString("10.004"),
	})
	require.NoError(t, err)
	assertMoney(t, "10", updated.DiscountValue, "discount_value")
	assertMoney(t, "10", updated.TotalDiscountAmount, "total_discount_amount")
	assertMoney(t, "0", updated.FinalTotal, "final_total")

	updated, err = svc.ApplyDiscount(ctx, sale.ID, domain.ApplyDiscountRequest{
		DiscountType: domain.DiscountPercentage, DiscountValue: decimal.RequireFromString("100.004"),
	})
	require.NoError(t, err)
	assertMoney(t, "100", updated.DiscountValue, "discount_value")

	_, err = svc.ApplyDiscount(ctx, sale.ID, domain.ApplyDiscountRequest{
		DiscountType: domain.DiscountFixed, DiscountValue: decimal.RequireFromString("10.005"),
	})
	require.ErrorIs(t, err, store.ErrInvalidDiscount)

	completed, err := svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{DiscountAmount: amount("10.004")})
	require.NoError(t, err)
	assert.Equal(t, domain.DiscountFixed, completed.DiscountType)
	assertMoney(t, "10", completed.DiscountValue, "discount_value")
	assertMoney(t, "0", completed.FinalTotal, "final_total")

	created, err := svc.CreateSale(ctx, domain.CreateSaleRequest{
		PaymentMethod:  domain.SalePaymentCash,
		Items:          []domain.SaleLineRequest{{ProductID: p.ID, Quantity: 1}},
		DiscountAmount: amount("10.004"),
	})
	require.NoError(t, err)
	assertMoney(t, "10", created.DiscountValue, "discount_value")
	assertTotalsConsistent(t, created)
}

type lockOrderRepo struct {
	*memory.Store
	mu    sync.Mutex
	locks [][]int64
}

func (r *lockOrderRepo) WithinTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return r.Store.WithinTx(ctx, func(tx store.Tx) error {
		return fn(lockOrderTx{Tx: tx, repo: r})
	})
}

// take returns the LockProducts calls recorded so far and forgets them.
func (r *lockOrderRepo) take() [][]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	locks := r.locks
	r.locks = nil
	return locks
}

type lockOrderTx struct {
	store.Tx
	repo *lockOrderRepo
}

func (t lockOrderTx) LockProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	t.repo.mu.Lock()
	t.repo.locks = append(t.repo.locks, slices.Clone(ids))
	t.repo.mu.Unlock()
	return t.Tx.LockProducts(ctx, ids)
}

func TestStockReleasesLockProductsInAscendingOrder(t *testing.T) {
	repo := &lockOrderRepo{Store: memory.New()}
	svc := New(repo, Options{TaxRate: decimal.RequireFromString("0.07")})
	svc.now = func() time.Time { return testDay }
	ctx := cashierCtx()
	low := seedProduct(t, repo.Store, "SKU-LOW", "1.00", 10, true)
	high := seedProduct(t, repo.Store, "SKU-HIGH", "1.00", 10, true)
	third := seedProduct(t, repo.Store, "SKU-THIRD", "1.00", 10, true)

	crossed := domain.CreateSaleRequest{
		PaymentMethod: domain.SalePaymentCash,
		Items:         []domain.SaleLineRequest{{ProductID: high.ID, Quantity: 1}, {ProductID: low.ID, Quantity: 1}},
	}
	for _, transition := range []func(id int64) error{
		func(id int64) error {
			_, err := svc.CancelSale(ctx, id, domain.SaleTransitionRequest{})
			return err
		},
		func(id int64) error { return svc.DeleteSale(ctx, id) },
	} {
		sale, err := svc.CreateSale(ctx, crossed)
		require.NoError(t, err)
		repo.take()

		require.NoError(t, transition(sale.ID))
		locks := repo.take()
		require.NotEmpty(t, locks)
		assert.Equal(t, []int64{low.ID, high.ID}, locks[0])
		assert.Equal(t, 10, stockOf(t, repo.Store, low.ID))
		assert.Equal(t, 10, stockOf(t, repo.Store, high.ID))
	}

	sale, err := svc.CreateSale(ctx, cashSale(high.ID, 1))
	require.NoError(t, err)
	repo.take()
	_, err = svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: third.ID, Quantity: 1}, {ProductID: low.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	locks := repo.take()
	require.NotEmpty(t, locks)
	assert.Equal(t, []int64{low.ID, high.ID, third.ID}, locks[0])
	assert.Equal(t, 9, stockOf(t, repo.Store, low.ID))
	assert.Equal(t, 10, stockOf(t, repo.Store, high.ID))
	assert.Equal(t, 9, stockOf(t, repo.Store, third.ID))
}

// versionedCache mirrors the redis cache contract in process. beforeSet, when
// set, runs once just before the next Set.
type versionedCache struct {
	mu        sync.Mutex
	sales     map[int64]domain.Sale
	versions  map[int64]int64
	beforeSet func()
}

func newVersionedCache() *versionedCache {
	return &versionedCache{sales: map[int64]domain.Sale{}, versions: map[int64]int64{}}
}

func (c *versionedCache) Get(_ context.Context, saleID int64) (*domain.Sale, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sale, ok := c.sales[saleID]
	if !ok {
		return nil, false, nil
	}
	return &sale, true, nil
}

func (c *versionedCache) Version(_ context.Context, saleID int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[saleID], nil
}

func (c *versionedCache) Set(_ context.Context, sale *domain.Sale, version int64, _ time.Duration) error {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versions[sale.ID] != version {
		return nil
	}
	c.sales[sale.ID] = *sale
	return nil
}

func (c *versionedCache) Delete(_ context.Context, saleID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[saleID]++
	delete(c.sales, saleID)
	return nil
}

func TestGetSaleNeverCachesCopyLoadedBeforeMutation(t *testing.T) {
	repo := memory.New()
	vc := newVersionedCache()
	svc := New(repo, Options{TaxRate: decimal.RequireFromString("0.07"), Cache: vc})
	ctx := cashierCtx()
	p := seedProduct(t, repo, "SKU-RACE", "2.00", 5, true)

	sale, err := svc.CreateSale(ctx, cashSale(p.ID, 1))
	require.NoError(t, err)

	// The completion commits after GetSale loaded the pending row but before
	// it writes the cache.
	vc.beforeSet = func() {
		_, err := svc.CompleteSale(ctx, sale.ID, domain.CompleteSaleRequest{})
		require.NoError(t, err)
	}
	first, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPending, first.Status)

	_, cached, err := vc.Get(ctx, sale.ID)
	require.NoError(t, err)
	assert.False(t, cached)

	second, err := svc.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, second.Status)

	hit, cached, err := vc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.True(t, cached)
	assert.Equal(t, domain.SaleStatusCompleted, hit.Status)
}

func TestStockAdjustmentLimitsAndHistoryRetention(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()
	p := seedProduct(t, repo, "SKU-HIST", "1.00", 10, true)

	_, err := svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		ProductID: p.ID, AdjustmentType: domain.AdjustmentAddition, Quantity: domain.MaxAdjustmentQuantity + 1,
	})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, 10, stockOf(t, repo, p.ID))

	_, err = svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		ProductID: p.ID, AdjustmentType: domain.AdjustmentAddition, Quantity: domain.MaxAdjustmentQuantity,
	})
	require.NoError(t, err)
	assert.Equal(t, 10+domain.MaxAdjustmentQuantity, stockOf(t, repo, p.ID))

	_, err = svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU: "SKU-HUGE", Name: "Huge", Price: decimal.NewFromInt(1), Stock: domain.MaxStockLevel + 1,
	})
	require.ErrorIs(t, err, store.ErrValidation)

	full := seedProduct(t, repo, "SKU-FULL", "1.00", domain.MaxStockLevel, true)
	_, err = svc.AdjustStock(ctx, domain.StockAdjustmentRequest{
		ProductID: full.ID, AdjustmentType: domain.AdjustmentAddition, Quantity: 1,
	})
	require.ErrorIs(t, err, store.ErrValidation)
	assert.Equal(t, domain.MaxStockLevel, stockOf(t, repo, full.ID))

	require.ErrorIs(t, svc.DeleteProduct(ctx, p.ID), store.ErrConflict)
	history, err := svc.ListStockAdjustments(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	off := false
	_, err = svc.UpdateProduct(ctx, p.ID, domain.ProductPatch{IsActive: &off})
	require.NoError(t, err)
}

func intPtr(v int) *int {
	return &v
}
