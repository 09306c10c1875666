package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderStatus is the closed set of lifecycle states an order can be in.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusSuccess    OrderStatus = "Success"
	OrderStatusCancelled  OrderStatus = "Cancelled"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusSuccess,
	OrderStatusCancelled,
}

// orderTransitions lists the lifecycle edges. Terminal states have no entry.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {OrderStatusSuccess, OrderStatusCancelled},
}

// OrderStatuses returns every valid status in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus resolves a status name case-insensitively.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	trimmed := strings.TrimSpace(raw)
	for _, status := range orderStatuses {
		if strings.EqualFold(trimmed, string(status)) {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown order status %q", raw)
}

// Valid reports whether the status is one of the closed values.
func (s OrderStatus) Valid() bool {
	for _, status := range orderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no lifecycle edge leaves the status.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusSuccess || s == OrderStatusCancelled
}

// CanTransition reports whether the lifecycle table has an edge from s to next.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, candidate := range orderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// UserCancellable reports whether the owner may still cancel an order in this status.
func (s OrderStatus) UserCancellable() bool {
	return s == OrderStatusPending || s == OrderStatusProcessing
}

// Order is a placed order with its frozen line items.
type Order struct {
	ID             string
	UserID         string
	AddressID      string
	Status         OrderStatus
	Subtotal       int64
	DiscountAmount int64
	TotalAmount    int64
	VoucherID      *string
	Notes          string
	Items          []OrderItem
	CancelReason   string
	CancelledAt    *time.Time
	CancelledBy    string
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// StockLines returns the quantities held by the order, one line per item.
func (o Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

// OrderItem is a product line frozen at order time. Status mirrors the order status.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   int64
	Status      OrderStatus
}

// LineTotal returns unit price multiplied by quantity.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}
