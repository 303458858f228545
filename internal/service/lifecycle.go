package service

import (
	"context"
	"fmt"
	"strings"

	"possale/backend/internal/discount"
	"possale/backend/internal/domain"
	"possale/backend/internal/ledger"
	"possale/backend/internal/store"
)

func (s *Service) AddItem(ctx context.Context, saleID int64, req domain.AddItemRequest) (domain.SaleItemResult, error) {
	if req.ProductID < 1 {
		return domain.SaleItemResult{}, fmt.Errorf("%w: product_id is required", store.ErrValidation)
	}
	if req.Quantity <= 0 {
		return domain.SaleItemResult{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
	}
	if req.ItemDiscountAmount != nil && req.ItemDiscountAmount.IsNegative() {
		return domain.SaleItemResult{}, fmt.Errorf("%w: item_discount_amount must not be negative", store.ErrInvalidDiscount)
	}

	var result domain.SaleItemResult
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}
		price, err := ledger.SellablePrice(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if err := ledger.Reserve(ctx, tx, req.ProductID, req.Quantity); err != nil {
			return err
		}

		item := domain.SaleItem{
			SaleID:      sale.ID,
			ProductID:   req.ProductID,
			ProductName: price.ProductName,
			Quantity:    req.Quantity,
			UnitPrice:   price.Unit,
			CostPrice:   price.Cost,
			CreatedAt:   s.now(),
		}
		if req.ItemDiscountAmount != nil {
			item.ItemDiscountAmount = req.ItemDiscountAmount.Round(2)
		}
		sale.Items = append(sale.Items, item)
		if err := recomputeTotals(sale, s.taxRate); err != nil {
			return err
		}
		item = sale.Items[len(sale.Items)-1]
		if err := tx.InsertSaleItem(ctx, &item); err != nil {
			return err
		}
		sale.Items[len(sale.Items)-1] = item
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		result = domain.SaleItemResult{Item: item, Sale: *sale}
		return nil
	})
	if err != nil {
		return domain.SaleItemResult{}, err
	}

	s.logAudit(ctx, "add_sale_item", "sale", saleID,
		fmt.Sprintf("item=%d,product=%d,qty=%d", result.Item.ID, result.Item.ProductID, result.Item.Quantity))
	return result, nil
}

// UpdateItem applies patch to one line of a pending sale. Quantity changes
// reserve or release only the difference.
func (s *Service) UpdateItem(ctx context.Context, saleID int64, itemID int64, patch domain.SaleItemPatch) (domain.SaleItemResult, error) {
	if patch.Quantity != nil && *patch.Quantity <= 0 {
		return domain.SaleItemResult{}, fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
	}
	if patch.UnitPrice != nil && patch.UnitPrice.IsNegative() {
		return domain.SaleItemResult{}, fmt.Errorf("%w: unit_price must not be negative", store.ErrValidation)
	}
	if patch.ItemDiscountAmount != nil && patch.ItemDiscountAmount.IsNegative() {
		return domain.SaleItemResult{}, fmt.Errorf("%w: item_discount_amount must not be negative", store.ErrInvalidDiscount)
	}

	var result domain.SaleItemResult
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}
		idx := sale.ItemByID(itemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %d on sale %d", store.ErrItemNotFound, itemID, saleID)
		}
		item := &sale.Items[idx]

		if patch.Quantity != nil {
			switch delta := *patch.Quantity - item.Quantity; {
			case delta > 0:
				if err := ledger.Reserve(ctx, tx, item.ProductID, delta); err != nil {
					return err
				}
			case delta < 0:
				if err := ledger.Release(ctx, tx, item.ProductID, -delta); err != nil {
					return err
				}
			}
			item.Quantity = *patch.Quantity
		}
		if patch.UnitPrice != nil {
			item.UnitPrice = patch.UnitPrice.Round(2)
		}
		if patch.ItemDiscountAmount != nil {
			item.ItemDiscountAmount = patch.ItemDiscountAmount.Round(2)
		}

		if err := recomputeTotals(sale, s.taxRate); err != nil {
			return err
		}
		if err := tx.UpdateSaleItem(ctx, sale.Items[idx]); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		result = domain.SaleItemResult{Item: sale.Items[idx], Sale: *sale}
		return nil
	})
	if err != nil {
		return domain.SaleItemResult{}, err
	}

	s.logAudit(ctx, "update_sale_item", "sale", saleID,
		fmt.Sprintf("item=%d,qty=%d,unit_price=%s", itemID, result.Item.Quantity, result.Item.UnitPrice.StringFixed(2)))
	return result, nil
}

func (s *Service) RemoveItem(ctx context.Context, saleID int64, itemID int64) (domain.Sale, error) {
	var updated domain.Sale
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}
		idx := sale.ItemByID(itemID)
		if idx < 0 {
			return fmt.Errorf("%w: item %d on sale %d", store.ErrItemNotFound, itemID, saleID)
		}
		item := sale.Items[idx]
		if err := ledger.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
		if err := tx.DeleteSaleItem(ctx, saleID, itemID); err != nil {
			return err
		}
		sale.Items = append(sale.Items[:idx:idx], sale.Items[idx+1:]...)
		if err := recomputeTotals(sale, s.taxRate); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "remove_sale_item", "sale", saleID, fmt.Sprintf("item=%d", itemID))
	return updated, nil
}

// ApplyDiscount replaces the sale-level discount of a pending sale.
func (s *Service) ApplyDiscount(ctx context.Context, saleID int64, req domain.ApplyDiscountRequest) (domain.Sale, error) {
	discountType, err := discount.ParseType(req.DiscountType)
	if err != nil {
		return domain.Sale{}, err
	}
	value := req.DiscountValue.Round(2)

	var updated domain.Sale
	err = s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if err := checkSaleDiscount(sale, discountType, value); err != nil {
			return err
		}
		sale.DiscountType = discountType
		sale.DiscountValue = value
		if err := recomputeTotals(sale, s.taxRate); err != nil {
			return err
		}
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "apply_discount", "sale", saleID,
		fmt.Sprintf("type=%s,value=%s,total_discount=%s", discountType, value.StringFixed(2), updated.TotalDiscountAmount.StringFixed(2)))
	return updated, nil
}

// PatchSale updates header fields of a pending sale.
func (s *Service) PatchSale(ctx context.Context, saleID int64, patch domain.SalePatch) (domain.Sale, error) {
	if patch.PaymentMethod != nil && !domain.IsSalePaymentMethod(strings.TrimSpace(*patch.PaymentMethod)) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, *patch.PaymentMethod)
	}
	if patch.AmountPaid != nil && patch.AmountPaid.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: amount_paid must not be negative", store.ErrValidation)
	}

	var updated domain.Sale
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if patch.CustomerID != nil {
			sale.CustomerID = patch.CustomerID
		}
		if patch.PaymentMethod != nil {
			sale.PaymentMethod = strings.TrimSpace(*patch.PaymentMethod)
		}
		if patch.AmountPaid != nil {
			sale.AmountPaid = patch.AmountPaid.Round(2)
		}
		if patch.Notes != nil {
			sale.Notes = strings.TrimSpace(*patch.Notes)
		}
		settleChange(sale)
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		updated = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "patch_sale", "sale", saleID, "")
	return updated, nil
}

// CompleteSale locks in the item set of a pending sale and marks it completed.
// When req.Items is non-empty it replaces the current items: their
// reservations are released and the new lines are reserved.
func (s *Service) CompleteSale(ctx context.Context, saleID int64, req domain.CompleteSaleRequest) (domain.Sale, error) {
	var lines []domain.SaleLineRequest
	if len(req.Items) > 0 {
		var err error
		if lines, err = validateLines(req.Items); err != nil {
			return domain.Sale{}, err
		}
	}
	if req.DiscountAmount != nil && req.DiscountAmount.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: discount_amount must not be negative", store.ErrInvalidDiscount)
	}
	if req.AmountPaid != nil && req.AmountPaid.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: amount_paid must not be negative", store.ErrValidation)
	}

	var completed domain.Sale
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}

		if lines != nil {
			ids := saleProductIDs(sale)
			for _, line := range lines {
				ids = append(ids, line.ProductID)
			}
			if _, err := ledger.Lock(ctx, tx, ids); err != nil {
				return err
			}
			for _, item := range sale.Items {
				if err := ledger.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
					return err
				}
				if err := tx.DeleteSaleItem(ctx, sale.ID, item.ID); err != nil {
					return err
				}
			}
			items, requested, err := s.buildItems(ctx, tx, lines)
			if err != nil {
				return err
			}
			for _, r := range requested {
				if err := ledger.Reserve(ctx, tx, r.productID, r.quantity); err != nil {
					return err
				}
			}
			for i := range items {
				items[i].SaleID = sale.ID
				items[i].CreatedAt = s.now()
				if err := tx.InsertSaleItem(ctx, &items[i]); err != nil {
					return err
				}
			}
			sale.Items = items
		}
		if len(sale.Items) == 0 {
			return fmt.Errorf("%w: cannot complete a sale without items", store.ErrInvalidState)
		}

		if req.DiscountAmount != nil {
			value := req.DiscountAmount.Round(2)
			if err := checkSaleDiscount(sale, domain.DiscountFixed, value); err != nil {
				return err
			}
			sale.DiscountType = domain.DiscountFixed
			sale.DiscountValue = value
		}
		if err := recomputeTotals(sale, s.taxRate); err != nil {
			return err
		}
		if req.AmountPaid != nil {
			sale.AmountPaid = req.AmountPaid.Round(2)
		}
		if err := checkTender(sale); err != nil {
			return err
		}
		settleChange(sale)

		if lines != nil {
			for _, item := range sale.Items {
				if err := tx.UpdateSaleItem(ctx, item); err != nil {
					return err
				}
			}
		}

		now := s.now()
		sale.Status = domain.SaleStatusCompleted
		sale.CompletedAt = &now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		completed = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "complete_sale", "sale", saleID,
		fmt.Sprintf("total=%s,items=%d", completed.FinalTotal.StringFixed(2), len(completed.Items)))
	return completed, nil
}

// CancelSale moves a pending or completed sale to cancelled and returns every
// reserved unit to stock in the same transaction.
func (s *Service) CancelSale(ctx context.Context, saleID int64, req domain.SaleTransitionRequest) (domain.Sale, error) {
	var cancelled domain.Sale
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		switch sale.Status {
		case domain.SaleStatusCancelled:
			return fmt.Errorf("%w: sale %d", store.ErrAlreadyCancelled, saleID)
		case domain.SaleStatusRefunded:
			return fmt.Errorf("%w: refunded sale %d cannot be cancelled", store.ErrInvalidState, saleID)
		}
		if err := releaseAll(ctx, tx, sale); err != nil {
			return err
		}
		now := s.now()
		sale.Status = domain.SaleStatusCancelled
		sale.CancelledAt = &now
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		cancelled = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "cancel_sale", "sale", saleID, defaultReason(req.Reason))
	return cancelled, nil
}

// RefundSale reverses a completed sale: goods go back to stock and the sale
// becomes refunded.
func (s *Service) RefundSale(ctx context.Context, saleID int64, req domain.SaleTransitionRequest) (domain.Sale, error) {
	var refunded domain.Sale
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := tx.LockSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != domain.SaleStatusCompleted {
			return fmt.Errorf("%w: only completed sales can be refunded, sale %d is %s", store.ErrInvalidState, saleID, sale.Status)
		}
		if err := releaseAll(ctx, tx, sale); err != nil {
			return err
		}
		sale.Status = domain.SaleStatusRefunded
		if err := tx.UpdateSale(ctx, *sale); err != nil {
			return err
		}
		refunded = *sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logAudit(ctx, "refund_sale", "sale", saleID, defaultReason(req.Reason))
	return refunded, nil
}

// DeleteSale hard-deletes a pending sale after releasing its reservations.
// Any other status must go through CancelSale.
func (s *Service) DeleteSale(ctx context.Context, saleID int64) error {
	err := s.mutateSale(ctx, saleID, func(tx store.Tx) error {
		sale, err := lockPending(ctx, tx, saleID)
		if err != nil {
			return err
		}
		if err := releaseAll(ctx, tx, sale); err != nil {
			return err
		}
		return tx.DeleteSale(ctx, saleID)
	})
	if err != nil {
		return err
	}

	s.logAudit(ctx, "delete_sale", "sale", saleID, "")
	return nil
}

func lockPending(ctx context.Context, tx store.Tx, saleID int64) (*domain.Sale, error) {
	sale, err := tx.LockSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleStatusPending {
		return nil, fmt.Errorf("%w: sale %d is %s, expected pending", store.ErrInvalidState, saleID, sale.Status)
	}
	return sale, nil
}

// releaseAll returns every item of sale to stock. The product rows are
// locked up front in ascending id order, the same order every other
// multi-product mutation uses.
func releaseAll(ctx context.Context, tx store.Tx, sale *domain.Sale) error {
	if _, err := ledger.Lock(ctx, tx, saleProductIDs(sale)); err != nil {
		return err
	}
	for _, item := range sale.Items {
		if err := ledger.Release(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func saleProductIDs(sale *domain.Sale) []int64 {
	ids := make([]int64, 0, len(sale.Items))
	for _, item := range sale.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

func defaultReason(reason string) string {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "unspecified"
	}
	return reason
}
