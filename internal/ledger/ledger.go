// Package ledger guards product stock. Every function runs inside the
// caller's transaction and locks the product row before reading it.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"possale/backend/internal/domain"
	"possale/backend/internal/store"
)

// Price is the sellable snapshot of a product taken at the start of a mutation.
type Price struct {
	ProductName string
	Unit        decimal.Decimal
	Cost        decimal.Decimal
}

// Lock loads and locks every product in ids in a single pass.
func Lock(ctx context.Context, tx store.Tx, ids []int64) (map[int64]domain.Product, error) {
	unique := make([]int64, 0, len(ids))
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	if len(unique) == 0 {
		return map[int64]domain.Product{}, nil
	}
	return tx.LockProducts(ctx, unique)
}

func SellablePrice(ctx context.Context, tx store.Tx, productID int64) (Price, error) {
	product, err := lockOne(ctx, tx, productID)
	if err != nil {
		return Price{}, err
	}
	if !product.IsActive {
		return Price{}, inactive(product)
	}
	return Price{ProductName: product.Name, Unit: product.Price, Cost: product.CostPrice}, nil
}

// Reserve takes quantity units of an active product out of stock.
func Reserve(ctx context.Context, tx store.Tx, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
	}
	product, err := lockOne(ctx, tx, productID)
	if err != nil {
		return err
	}
	if !product.IsActive {
		return inactive(product)
	}
	if quantity > product.Stock {
		return Shortage(product, quantity)
	}
	_, err = tx.AddStock(ctx, productID, -quantity)
	return err
}

// Release puts quantity units back. Inactive products still take returns.
func Release(ctx context.Context, tx store.Tx, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be greater than zero", store.ErrValidation)
	}
	if _, err := lockOne(ctx, tx, productID); err != nil {
		return err
	}
	_, err := tx.AddStock(ctx, productID, quantity)
	return err
}

// Adjust applies a signed change and reports the levels around it. A change
// that would take stock below zero fails with ErrInsufficientStock; one that
// would pass domain.MaxStockLevel fails with ErrValidation.
func Adjust(ctx context.Context, tx store.Tx, productID int64, delta int) (before int, after int, err error) {
	product, err := lockOne(ctx, tx, productID)
	if err != nil {
		return 0, 0, err
	}
	if product.Stock+delta < 0 {
		return 0, 0, Shortage(product, -delta)
	}
	if product.Stock+delta > domain.MaxStockLevel {
		return 0, 0, fmt.Errorf("%w: stock of %q (ID: %d) would exceed %d",
			store.ErrValidation, product.Name, product.ID, domain.MaxStockLevel)
	}
	after, err = tx.AddStock(ctx, productID, delta)
	if err != nil {
		return 0, 0, err
	}
	return product.Stock, after, nil
}

// Shortage builds the InsufficientStock error for a product.
func Shortage(product domain.Product, requested int) error {
	return fmt.Errorf("%w for %q (ID: %d). Available: %d, Requested: %d",
		store.ErrInsufficientStock, product.Name, product.ID, product.Stock, requested)
}

func lockOne(ctx context.Context, tx store.Tx, productID int64) (domain.Product, error) {
	products, err := tx.LockProducts(ctx, []int64{productID})
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: id %d", store.ErrProductNotFound, productID)
	}
	return product, nil
}

func inactive(product domain.Product) error {
	return fmt.Errorf("%w: %q (ID: %d)", store.ErrProductInactive, product.Name, product.ID)
}
