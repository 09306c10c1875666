package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const productsCollection = "products"

// ProductRepository stores catalog products and their stock counters.
type ProductRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		base:     pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	docs, err := r.base.GetAll(ctx, productIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.Product, len(docs))
	for id, doc := range docs {
		out[id] = doc.Data.toDomain(id)
	}
	return out, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := r.base.Set(ctx, product.ID, newProductDocument(product)); err != nil {
		return domain.Product{}, err
	}
	return product, nil
}

// DecrementStock reads every product of the batch before writing any of them. Firestore retries the
// transaction when another writer touched one of the documents in between.
func (r *ProductRepository) DecrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	const op = "products.decrement_stock"
	lines = domain.AggregateStockLines(lines)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		docs, err := r.base.GetAll(ctx, lineIDs(lines))
		if err != nil {
			return err
		}
		for _, line := range lines {
			doc, ok := docs[line.ProductID]
			if stockErr := repositories.CheckStock(op, line.ProductID, ok, doc.Data.IsActive, doc.Data.Stock, line.Quantity); stockErr != nil {
				return stockErr
			}
		}
		for _, line := range lines {
			if err := r.base.Update(ctx, line.ProductID, []firestore.Update{
				{Path: "stock", Value: firestore.Increment(-line.Quantity)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ProductRepository) IncrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	const op = "products.increment_stock"
	lines = domain.AggregateStockLines(lines)

	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		docs, err := r.base.GetAll(ctx, lineIDs(lines))
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, ok := docs[line.ProductID]; !ok {
				return repositories.NewStockError(op, repositories.StockErrorNotFound, line.ProductID, line.Quantity, 0)
			}
		}
		for _, line := range lines {
			if err := r.base.Update(ctx, line.ProductID, []firestore.Update{
				{Path: "stock", Value: firestore.Increment(line.Quantity)},
				{Path: "updatedAt", Value: now},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func lineIDs(lines []domain.StockLine) []string {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	return ids
}

type productDocument struct {
	Name          string    `firestore:"name"`
	Price         int64     `firestore:"price"`
	DiscountPrice *int64    `firestore:"discountPrice"`
	Stock         int       `firestore:"stock"`
	IsActive      bool      `firestore:"isActive"`
	IsOnSale      bool      `firestore:"isOnSale"`
	NoVoucherTag  bool      `firestore:"noVoucherTag"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:          p.Name,
		Price:         p.Price,
		DiscountPrice: cloneInt64(p.DiscountPrice),
		Stock:         p.Stock,
		IsActive:      p.IsActive,
		IsOnSale:      p.IsOnSale,
		NoVoucherTag:  p.NoVoucherTag,
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:            id,
		Name:          d.Name,
		Price:         d.Price,
		DiscountPrice: cloneInt64(d.DiscountPrice),
		Stock:         d.Stock,
		IsActive:      d.IsActive,
		IsOnSale:      d.IsOnSale,
		NoVoucherTag:  d.NoVoucherTag,
		UpdatedAt:     d.UpdatedAt,
	}
}

func cloneInt64(value *int64) *int64 {
	if value == nil {
		return nil
	}
	cloned := *value
	return &cloned
}
