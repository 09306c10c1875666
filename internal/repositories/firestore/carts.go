package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const cartItemsCollectionPattern = "users/%s/cartItems"

// CartRepository stores cart items under users/{uid}/cartItems.
type CartRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{provider: provider}, nil
}

func (r *CartRepository) items(userID string) (*pfirestore.Collection[cartItemDocument], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	return pfirestore.NewCollection[cartItemDocument](r.provider, fmt.Sprintf(cartItemsCollectionPattern, uid)), nil
}

func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	base, err := r.items(userID)
	if err != nil {
		return nil, err
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	items := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID, userID))
	}
	return items, nil
}

func (r *CartRepository) GetItem(ctx context.Context, userID, itemID string) (domain.CartItem, error) {
	base, err := r.items(userID)
	if err != nil {
		return domain.CartItem{}, err
	}
	doc, err := base.Get(ctx, itemID)
	if err != nil {
		return domain.CartItem{}, err
	}
	return doc.Data.toDomain(doc.ID, userID), nil
}

func (r *CartRepository) FindByProduct(ctx context.Context, userID, productID string) (domain.CartItem, bool, error) {
	base, err := r.items(userID)
	if err != nil {
		return domain.CartItem{}, false, err
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID).Limit(1)
	})
	if err != nil {
		return domain.CartItem{}, false, err
	}
	if len(docs) == 0 {
		return domain.CartItem{}, false, nil
	}
	return docs[0].Data.toDomain(docs[0].ID, userID), true, nil
}

func (r *CartRepository) SaveItem(ctx context.Context, item domain.CartItem) error {
	base, err := r.items(item.UserID)
	if err != nil {
		return err
	}
	return base.Set(ctx, item.ID, newCartItemDocument(item))
}

func (r *CartRepository) DeleteItem(ctx context.Context, userID, itemID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		base, err := r.items(userID)
		if err != nil {
			return err
		}
		if _, err := base.Get(ctx, itemID); err != nil {
			return err
		}
		return base.Delete(ctx, itemID)
	})
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		base, err := r.items(userID)
		if err != nil {
			return err
		}
		docs, err := base.Query(ctx, nil)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := base.Delete(ctx, doc.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

type cartItemDocument struct {
	ProductID         string    `firestore:"productId"`
	Quantity          int       `firestore:"quantity"`
	UnitPriceSnapshot int64     `firestore:"unitPriceSnapshot"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func newCartItemDocument(item domain.CartItem) cartItemDocument {
	return cartItemDocument{
		ProductID:         item.ProductID,
		Quantity:          item.Quantity,
		UnitPriceSnapshot: item.UnitPriceSnapshot,
		CreatedAt:         item.CreatedAt.UTC(),
		UpdatedAt:         item.UpdatedAt.UTC(),
	}
}

func (d cartItemDocument) toDomain(id, userID string) domain.CartItem {
	return domain.CartItem{
		ID:                id,
		UserID:            userID,
		ProductID:         d.ProductID,
		Quantity:          d.Quantity,
		UnitPriceSnapshot: d.UnitPriceSnapshot,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}
