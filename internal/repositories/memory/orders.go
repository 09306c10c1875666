package memory

import (
	"context"
	"errors"
	"sort"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

// OrderRepository stores orders with their items embedded.
type OrderRepository struct {
	store *Store
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, exists := r.store.data.orders[order.ID]; exists {
		return conflict("orders.insert", errors.New("order already exists"))
	}
	r.store.data.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	order, ok := r.store.data.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.get")
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, ok := r.store.data.orders[order.ID]; !ok {
		return notFound("orders.update")
	}
	for i := range order.Items {
		order.Items[i].Status = order.Status
	}
	r.store.data.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) ListByUser(ctx context.Context, query repositories.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(query.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(query.PageSize)

	unlock := r.store.lock(ctx)
	defer unlock()

	matches := make([]domain.Order, 0)
	for _, order := range r.store.data.orders {
		if order.UserID == query.UserID && cursor.Before(order.CreatedAt, order.ID) {
			matches = append(matches, order)
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	page := domain.CursorPage[domain.Order]{}
	if len(matches) > size {
		last := matches[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		matches = matches[:size]
	}
	page.Items = make([]domain.Order, 0, len(matches))
	for _, order := range matches {
		page.Items = append(page.Items, cloneOrder(order))
	}
	return page, nil
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	if o.VoucherID != nil {
		id := *o.VoucherID
		o.VoucherID = &id
	}
	if o.CancelledAt != nil {
		at := *o.CancelledAt
		o.CancelledAt = &at
	}
	if o.DeliveredAt != nil {
		at := *o.DeliveredAt
		o.DeliveredAt = &at
	}
	return o
}
