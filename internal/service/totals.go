package service

import (
	"fmt"

	"github.com/shopspring/decimal"

	"possale/backend/internal/discount"
	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

// recomputeTotals rebuilds every monetary field of sale from its items, its
// sale-level discount definition and taxRate. Persisted amounts are rounded
// to cents; line amounts are rounded before they are summed, so the item
// totals add up to subtotal minus item discounts, and final_total is derived
// from the rounded parts so that
// final_total == subtotal - total_discount_amount + tax_amount holds exactly.
func recomputeTotals(sale *domain.Sale, taxRate decimal.Decimal) error {
	subtotal := decimal.Zero
	itemDiscounts := decimal.Zero
	for i := range sale.Items {
		item := &sale.Items[i]
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		item.ItemDiscountAmount = item.ItemDiscountAmount.Round(2)
		if item.ItemDiscountAmount.IsNegative() || item.ItemDiscountAmount.GreaterThan(line) {
			return fmt.Errorf("%w: item discount %s must be between 0 and line subtotal %s",
				store.ErrInvalidDiscount, item.ItemDiscountAmount.StringFixed(2), line.StringFixed(2))
		}
		item.ItemTotal = line.Sub(item.ItemDiscountAmount)
		subtotal = subtotal.Add(line)
		itemDiscounts = itemDiscounts.Add(item.ItemDiscountAmount)
	}

	saleDiscount := discount.Amount(subtotal, sale.DiscountType, sale.DiscountValue)
	if room := subtotal.Sub(itemDiscounts); saleDiscount.GreaterThan(room) {
		saleDiscount = room
	}
	totalDiscount := itemDiscounts.Add(saleDiscount)

	tax := decimal.Zero
	if taxable := subtotal.Sub(totalDiscount); taxable.IsPositive() {
		tax = taxable.Mul(taxRate)
	}

	sale.Subtotal = subtotal.Round(2)
	sale.TotalDiscountAmount = totalDiscount.Round(2)
	sale.TaxAmount = tax.Round(2)
	sale.FinalTotal = sale.Subtotal.Sub(sale.TotalDiscountAmount).Add(sale.TaxAmount)
	settleChange(sale)
	return nil
}

// checkSaleDiscount applies the single bounds policy: the sale-level discount
// must be valid for its type and, together with item discounts, must not
// exceed the subtotal.
func checkSaleDiscount(sale *domain.Sale, discountType string, value decimal.Decimal) error {
	subtotal := decimal.Zero
	itemDiscounts := decimal.Zero
	for _, item := range sale.Items {
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2))
		itemDiscounts = itemDiscounts.Add(item.ItemDiscountAmount.Round(2))
	}
	if err := discount.Validate(subtotal, discountType, value); err != nil {
		return err
	}
	if itemDiscounts.Add(discount.Amount(subtotal, discountType, value)).GreaterThan(subtotal) {
		return fmt.Errorf("%w: combined discounts exceed subtotal %s", store.ErrInvalidDiscount, subtotal.StringFixed(2))
	}
	return nil
}

// discountRoom is what item discounts leave of the subtotal for a sale-level
// discount.
func discountRoom(sale *domain.Sale) decimal.Decimal {
	room := decimal.Zero
	for _, item := range sale.Items {
		line := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))).Round(2)
		room = room.Add(line.Sub(item.ItemDiscountAmount.Round(2)))
	}
	return room
}

func settleChange(sale *domain.Sale) {
	change := sale.AmountPaid.Sub(sale.FinalTotal)
	if change.IsNegative() {
		change = decimal.Zero
	}
	sale.ChangeGiven = change.Round(2)
}

func checkTender(sale *domain.Sale) error {
	if sale.PaymentMethod == domain.SalePaymentCredit {
		return nil
	}
	if sale.AmountPaid.LessThan(sale.FinalTotal) {
		return fmt.Errorf("%w: paid %s, due %s", store.ErrUnderPayment,
			sale.AmountPaid.StringFixed(2), sale.FinalTotal.StringFixed(2))
	}
	return nil
}
