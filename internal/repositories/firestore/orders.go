package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository stores orders as single documents with the items embedded.
type OrderRepository struct {
	base *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		base: pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	return r.base.Create(ctx, order.ID, newOrderDocument(order))
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	for i := range order.Items {
		order.Items[i].Status = order.Status
	}
	return r.base.Update(ctx, order.ID, orderUpdates(newOrderDocument(order)))
}

// orderUpdates lists every field an order may change after it is placed.
func orderUpdates(doc orderDocument) []firestore.Update {
	return []firestore.Update{
		{Path: "status", Value: doc.Status},
		{Path: "notes", Value: doc.Notes},
		{Path: "items", Value: doc.Items},
		{Path: "cancelReason", Value: doc.CancelReason},
		{Path: "cancelledAt", Value: doc.CancelledAt},
		{Path: "cancelledBy", Value: doc.CancelledBy},
		{Path: "deliveredAt", Value: doc.DeliveredAt},
		{Path: "updatedAt", Value: doc.UpdatedAt},
	}
}

// ListByUser pages newest first using (createdAt, document ID) as the keyset.
func (r *OrderRepository) ListByUser(ctx context.Context, query repositories.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	cursor, err := pagination.DecodeToken(query.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(query.PageSize)

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("userId", "==", query.UserID).
			OrderBy("createdAt", firestore.Desc).
			OrderBy(firestore.DocumentID, firestore.Desc)
		if !cursor.IsZero() {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	if len(docs) > size {
		last := docs[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.Data.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
		docs = docs[:size]
	}
	page.Items = make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

type orderDocument struct {
	UserID         string              `firestore:"userId"`
	AddressID      string              `firestore:"addressId"`
	Status         string              `firestore:"status"`
	Subtotal       int64               `firestore:"subtotal"`
	DiscountAmount int64               `firestore:"discountAmount"`
	TotalAmount    int64               `firestore:"totalAmount"`
	VoucherID      *string             `firestore:"voucherId"`
	Notes          string              `firestore:"notes,omitempty"`
	Items          []orderItemDocument `firestore:"items"`
	CancelReason   string              `firestore:"cancelReason"`
	CancelledAt    *time.Time          `firestore:"cancelledAt"`
	CancelledBy    string              `firestore:"cancelledBy"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ID          string `firestore:"id"`
	ProductID   string `firestore:"productId"`
	ProductName string `firestore:"productName"`
	Quantity    int    `firestore:"quantity"`
	UnitPrice   int64  `firestore:"unitPrice"`
	Status      string `firestore:"status"`
}

func newOrderDocument(o domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, orderItemDocument{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Status:      string(item.Status),
		})
	}
	return orderDocument{
		UserID:         o.UserID,
		AddressID:      o.AddressID,
		Status:         string(o.Status),
		Subtotal:       o.Subtotal,
		DiscountAmount: o.DiscountAmount,
		TotalAmount:    o.TotalAmount,
		VoucherID:      o.VoucherID,
		Notes:          o.Notes,
		Items:          items,
		CancelReason:   o.CancelReason,
		CancelledAt:    utcPtr(o.CancelledAt),
		CancelledBy:    o.CancelledBy,
		DeliveredAt:    utcPtr(o.DeliveredAt),
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	status := domain.OrderStatus(d.Status)
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ID:          item.ID,
			OrderID:     id,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Status:      domain.OrderStatus(item.Status),
		})
	}
	return domain.Order{
		ID:             id,
		UserID:         d.UserID,
		AddressID:      d.AddressID,
		Status:         status,
		Subtotal:       d.Subtotal,
		DiscountAmount: d.DiscountAmount,
		TotalAmount:    d.TotalAmount,
		VoucherID:      d.VoucherID,
		Notes:          d.Notes,
		Items:          items,
		CancelReason:   d.CancelReason,
		CancelledAt:    d.CancelledAt,
		CancelledBy:    d.CancelledBy,
		DeliveredAt:    d.DeliveredAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
