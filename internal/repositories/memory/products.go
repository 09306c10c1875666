package memory

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// ProductRepository stores catalog products.
type ProductRepository struct {
	store *Store
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	product, ok := r.store.data.products[productID]
	if !ok {
		return domain.Product{}, notFound("products.get")
	}
	return cloneProduct(product), nil
}

func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.store.data.products[id]; ok {
			out[id] = cloneProduct(product)
		}
	}
	return out, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	product.ID = strings.TrimSpace(product.ID)
	if product.ID == "" {
		return domain.Product{}, errors.New("products.upsert: id is required")
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	r.store.data.products[product.ID] = cloneProduct(product)
	return cloneProduct(product), nil
}

func (r *ProductRepository) DecrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	const op = "products.decrement_stock"
	lines = domain.AggregateStockLines(lines)

	unlock := r.store.lock(ctx)
	defer unlock()

	products := r.store.data.products
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if stockErr := repositories.CheckStock(op, line.ProductID, ok, product.IsActive, product.Stock, line.Quantity); stockErr != nil {
			return stockErr
		}
	}
	for _, line := range lines {
		product := products[line.ProductID]
		product.Stock -= line.Quantity
		product.UpdatedAt = now
		products[line.ProductID] = product
	}
	return nil
}

func (r *ProductRepository) IncrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	const op = "products.increment_stock"
	lines = domain.AggregateStockLines(lines)

	unlock := r.store.lock(ctx)
	defer unlock()

	products := r.store.data.products
	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			return repositories.NewStockError(op, repositories.StockErrorNotFound, line.ProductID, line.Quantity, 0)
		}
	}
	for _, line := range lines {
		product := products[line.ProductID]
		product.Stock += line.Quantity
		product.UpdatedAt = now
		products[line.ProductID] = product
	}
	return nil
}

func cloneProduct(p domain.Product) domain.Product {
	if p.DiscountPrice != nil {
		price := *p.DiscountPrice
		p.DiscountPrice = &price
	}
	return p
}
