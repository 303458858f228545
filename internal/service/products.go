package service

import (
	"context"
	"fmt"
	"strings"

	"possale/backend/internal/domain"
	"possale/backend/internal/ledger"
	"possale/backend/internal/store"
)

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) (domain.ProductList, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	products, total, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return domain.ProductList{}, err
	}
	return domain.ProductList{Products: products, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	name := strings.TrimSpace(req.Name)
	if sku == "" || name == "" {
		return domain.Product{}, fmt.Errorf("%w: sku and name are required", store.ErrValidation)
	}
	if req.Price.IsNegative() || req.CostPrice.IsNegative() || req.Stock < 0 {
		return domain.Product{}, fmt.Errorf("%w: price, cost_price and stock must not be negative", store.ErrValidation)
	}
	if req.Stock > domain.MaxStockLevel {
		return domain.Product{}, fmt.Errorf("%w: stock must not exceed %d", store.ErrValidation, domain.MaxStockLevel)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:       sku,
		Name:      name,
		Price:     req.Price.Round(2),
		CostPrice: req.CostPrice.Round(2),
		Stock:     req.Stock,
		IsActive:  active,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "create_product", "product", created.ID, fmt.Sprintf("sku=%s,stock=%d", created.SKU, created.Stock))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id int64, patch domain.ProductPatch) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	current, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	next := *current
	if patch.SKU != nil {
		next.SKU = strings.ToUpper(strings.TrimSpace(*patch.SKU))
	}
	if patch.Name != nil {
		next.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Price != nil {
		next.Price = patch.Price.Round(2)
	}
	if patch.CostPrice != nil {
		next.CostPrice = patch.CostPrice.Round(2)
	}
	if patch.IsActive != nil {
		next.IsActive = *patch.IsActive
	}
	if next.SKU == "" || next.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: sku and name must not be empty", store.ErrValidation)
	}
	if next.Price.IsNegative() || next.CostPrice.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price and cost_price must not be negative", store.ErrValidation)
	}

	updated, err := s.repo.UpdateProduct(ctx, next)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "update_product", "product", id,
		fmt.Sprintf("price=%s->%s,active=%t", current.Price.StringFixed(2), updated.Price.StringFixed(2), updated.IsActive))
	return *updated, nil
}

// DeleteProduct fails with ErrConflict while any sale item or stock
// adjustment references the product. Deactivate it instead.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "delete_product", "product", id, "")
	return nil
}

// AdjustStock records a manual stock movement under a row lock.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustmentRequest) (domain.StockAdjustment, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.StockAdjustment{}, err
	}
	if req.Quantity <= 0 || req.Quantity > domain.MaxAdjustmentQuantity {
		return domain.StockAdjustment{}, fmt.Errorf("%w: quantity must be between 1 and %d", store.ErrValidation, domain.MaxAdjustmentQuantity)
	}
	delta, ok := domain.AdjustmentDelta(req.AdjustmentType, req.Quantity)
	if !ok {
		return domain.StockAdjustment{}, fmt.Errorf("%w: unknown adjustment type %q", store.ErrValidation, req.AdjustmentType)
	}

	var adjustment domain.StockAdjustment
	err = s.repo.WithinTx(ctx, func(tx store.Tx) error {
		before, after, err := ledger.Adjust(ctx, tx, req.ProductID, delta)
		if err != nil {
			return err
		}
		adjustment = domain.StockAdjustment{
			ProductID:      req.ProductID,
			AdjustmentType: req.AdjustmentType,
			QuantityChange: delta,
			QuantityBefore: before,
			QuantityAfter:  after,
			Reason:         strings.TrimSpace(req.Reason),
			UserID:         actor.UserID,
			CreatedAt:      s.now(),
		}
		return tx.InsertStockAdjustment(ctx, &adjustment)
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.logAudit(ctx, "adjust_stock", "product", req.ProductID,
		fmt.Sprintf("type=%s,change=%d,before=%d,after=%d", adjustment.AdjustmentType, delta, adjustment.QuantityBefore, adjustment.QuantityAfter))
	return adjustment, nil
}

func (s *Service) ListStockAdjustments(ctx context.Context, productID int64, limit int) ([]domain.StockAdjustment, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListStockAdjustments(ctx, productID, limit)
}
