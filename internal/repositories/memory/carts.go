package memory

import (
	"context"
	"sort"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// CartRepository stores cart items.
type CartRepository struct {
	store *Store
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	items := make([]domain.CartItem, 0)
	for _, item := range r.store.data.cartItems {
		if item.UserID == userID {
			items = append(items, item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (r *CartRepository) GetItem(ctx context.Context, userID, itemID string) (domain.CartItem, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	item, ok := r.store.data.cartItems[itemID]
	if !ok || item.UserID != userID {
		return domain.CartItem{}, notFound("cart.get_item")
	}
	return item, nil
}

func (r *CartRepository) FindByProduct(ctx context.Context, userID, productID string) (domain.CartItem, bool, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	for _, item := range r.store.data.cartItems {
		if item.UserID == userID && item.ProductID == productID {
			return item, true, nil
		}
	}
	return domain.CartItem{}, false, nil
}

func (r *CartRepository) SaveItem(ctx context.Context, item domain.CartItem) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	r.store.data.cartItems[item.ID] = item
	return nil
}

func (r *CartRepository) DeleteItem(ctx context.Context, userID, itemID string) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	item, ok := r.store.data.cartItems[itemID]
	if !ok || item.UserID != userID {
		return notFound("cart.delete_item")
	}
	delete(r.store.data.cartItems, itemID)
	return nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	for id, item := range r.store.data.cartItems {
		if item.UserID == userID {
			delete(r.store.data.cartItems, id)
		}
	}
	return nil
}
