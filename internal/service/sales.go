package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"possale/backend/internal/domain"
	"possale/backend/internal/ledger"
	"possale/backend/internal/store"
	"possale/backend/internal/xid"
)

const (
	defaultSaleLimit = 20
	maxSaleLimit     = 100
)

// CreateSale validates the requested lines against locked product rows,
// computes totals, reserves stock and persists the sale in one transaction.
func (s *Service) CreateSale(ctx context.Context, req domain.CreateSaleRequest) (domain.Sale, error) {
	userID := req.UserID
	if actor, ok := ActorFromContext(ctx); ok && actor.UserID > 0 {
		userID = actor.UserID
	}
	if userID < 1 {
		return domain.Sale{}, store.ErrUnauthenticated
	}

	method := strings.TrimSpace(req.PaymentMethod)
	if !domain.IsSalePaymentMethod(method) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	lines, err := validateLines(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	discountAmount := decimal.Zero
	if req.DiscountAmount != nil {
		discountAmount = req.DiscountAmount.Round(2)
	}
	if discountAmount.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: discount_amount must not be negative", store.ErrInvalidDiscount)
	}
	if req.AmountPaid != nil && req.AmountPaid.IsNegative() {
		return domain.Sale{}, fmt.Errorf("%w: amount_paid must not be negative", store.ErrValidation)
	}

	var created domain.Sale
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		now := s.now()
		sale := domain.Sale{
			CustomerID:    req.CustomerID,
			UserID:        userID,
			Status:        domain.SaleStatusPending,
			PaymentMethod: method,
			Notes:         strings.TrimSpace(req.Notes),
			CreatedAt:     now,
		}

		items, requested, err := s.buildItems(ctx, tx, lines)
		if err != nil {
			return err
		}
		sale.Items = items

		if discountAmount.IsPositive() {
			if err := checkSaleDiscount(&sale, domain.DiscountFixed, discountAmount); err != nil {
				return err
			}
			sale.DiscountType = domain.DiscountFixed
			sale.DiscountValue = discountAmount
		}
		if err := recomputeTotals(&sale, s.taxRate); err != nil {
			return err
		}

		sale.AmountPaid = sale.FinalTotal
		if req.AmountPaid != nil {
			sale.AmountPaid = req.AmountPaid.Round(2)
		}
		if err := checkTender(&sale); err != nil {
			return err
		}
		settleChange(&sale)

		for _, r := range requested {
			if err := ledger.Reserve(ctx, tx, r.productID, r.quantity); err != nil {
				return err
			}
		}

		seq, err := tx.NextInvoiceSequence(ctx, now)
		if err != nil {
			return err
		}
		sale.InvoiceNumber = xid.InvoiceNumber(s.invoicePrefix, now, seq)

		if err := tx.InsertSale(ctx, &sale); err != nil {
			return err
		}
		created = sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.logger.Info("sale created",
		zap.Int64("sale_id", created.ID),
		zap.String("invoice", created.InvoiceNumber),
		zap.String("final_total", created.FinalTotal.StringFixed(2)))
	s.logAudit(ctx, "create_sale", "sale", created.ID,
		fmt.Sprintf("invoice=%s,total=%s,payment=%s,items=%d",
			created.InvoiceNumber, created.FinalTotal.StringFixed(2), created.PaymentMethod, len(created.Items)))

	return created, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	if cached, ok, err := s.cache.Get(ctx, id); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.Warn("read cached sale", zap.Int64("sale_id", id), zap.Error(err))
	}

	// The version is read before the load so a mutation committing in
	// between invalidates this copy instead of being overwritten by it.
	version, verr := s.cache.Version(ctx, id)
	if verr != nil {
		s.logger.Warn("read sale cache version", zap.Int64("sale_id", id), zap.Error(verr))
	}

	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	if verr == nil {
		if err := s.cache.Set(ctx, sale, version, s.cacheTTL); err != nil {
			s.logger.Warn("cache sale", zap.Int64("sale_id", id), zap.Error(err))
		}
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) (domain.SaleList, error) {
	switch filter.Status {
	case "", domain.SaleStatusPending, domain.SaleStatusCompleted, domain.SaleStatusCancelled, domain.SaleStatusRefunded:
	default:
		return domain.SaleList{}, fmt.Errorf("%w: unknown status %q", store.ErrValidation, filter.Status)
	}
	switch filter.SortBy {
	case "":
		filter.SortBy = "created_at"
	case "created_at", "final_total", "invoice_number":
	default:
		return domain.SaleList{}, fmt.Errorf("%w: cannot sort by %q", store.ErrValidation, filter.SortBy)
	}
	if !strings.EqualFold(filter.Order, "asc") {
		filter.Order = "desc"
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultSaleLimit
	}
	if filter.Limit > maxSaleLimit {
		filter.Limit = maxSaleLimit
	}

	sales, total, err := s.repo.ListSales(ctx, filter)
	if err != nil {
		return domain.SaleList{}, err
	}
	return domain.SaleList{Sales: sales, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

type reservation struct {
	productID int64
	quantity  int
}

// buildItems locks the products behind lines and turns each line into a
// priced SaleItem. Checks run in order: every product must exist, then be
// active, then have enough stock for the summed quantity.
func (s *Service) buildItems(ctx context.Context, tx store.Tx, lines []domain.SaleLineRequest) ([]domain.SaleItem, []reservation, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := ledger.Lock(ctx, tx, ids)
	if err != nil {
		return nil, nil, err
	}

	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			return nil, nil, fmt.Errorf("%w: id %d", store.ErrProductNotFound, line.ProductID)
		}
	}
	for _, line := range lines {
		if p := products[line.ProductID]; !p.IsActive {
			return nil, nil, fmt.Errorf("%w: %q (ID: %d)", store.ErrProductInactive, p.Name, p.ID)
		}
	}

	requested := make([]reservation, 0, len(lines))
	index := make(map[int64]int, len(lines))
	for _, line := range lines {
		if i, ok := index[line.ProductID]; ok {
			requested[i].quantity += line.Quantity
			continue
		}
		index[line.ProductID] = len(requested)
		requested = append(requested, reservation{productID: line.ProductID, quantity: line.Quantity})
	}
	for _, r := range requested {
		if p := products[r.productID]; r.quantity > p.Stock {
			return nil, nil, ledger.Shortage(p, r.quantity)
		}
	}

	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		p := products[line.ProductID]
		item := domain.SaleItem{
			ProductID:   p.ID,
			ProductName: p.Name,
			Quantity:    line.Quantity,
			UnitPrice:   p.Price,
			CostPrice:   p.CostPrice,
		}
		if line.ItemDiscountAmount != nil {
			item.ItemDiscountAmount = line.ItemDiscountAmount.Round(2)
		}
		items = append(items, item)
	}
	return items, requested, nil
}

func validateLines(lines []domain.SaleLineRequest) ([]domain.SaleLineRequest, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", store.ErrValidation)
	}
	for i, line := range lines {
		if line.ProductID < 1 {
			return nil, fmt.Errorf("%w: items[%d].product_id is required", store.ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be greater than zero", store.ErrValidation, i)
		}
		if line.ItemDiscountAmount != nil && line.ItemDiscountAmount.IsNegative() {
			return nil, fmt.Errorf("%w: items[%d].item_discount_amount must not be negative", store.ErrInvalidDiscount, i)
		}
	}
	return lines, nil
}
