package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/platform/textutil"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	eventOrderCreated       = "order.created"
	eventOrderStatusChanged = "order.status_changed"
	eventOrderCancelled     = "order.cancelled"
	eventOrderPublishFailed = "order.event_publish_failed"
	eventStockRestoreSkip   = "stock.restore_skipped"

	maxOrderNotesLength   = 1000
	maxCancelReasonLength = 500

	orderMetricsScope = "github.com/hanko-field/commerce/internal/services"
)

// OrderServiceDeps bundles the collaborators required to construct an order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Addresses   repositories.AddressRepository
	Vouchers    repositories.VoucherRepository
	Usage       repositories.VoucherUsageRepository
	Inventory   InventoryService
	Engine      VoucherService
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	addresses repositories.AddressRepository
	vouchers  repositories.VoucherRepository
	usage     repositories.VoucherUsageRepository
	inventory InventoryService
	engine    VoucherService
	uow       repositories.UnitOfWork
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)

	created   metric.Int64Counter
	cancelled metric.Int64Counter
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires the order orchestrator.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Products == nil:
		return nil, errors.New("order service: product repository is required")
	case deps.Addresses == nil:
		return nil, errors.New("order service: address repository is required")
	case deps.Vouchers == nil || deps.Usage == nil:
		return nil, errors.New("order service: voucher repositories are required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory service is required")
	case deps.Engine == nil:
		return nil, errors.New("order service: voucher service is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("order service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(orderMetricsScope)
	}
	created, err := meter.Int64Counter("commerce.orders.created",
		metric.WithDescription("Orders placed"))
	if err != nil {
		return nil, fmt.Errorf("order service: register created counter: %w", err)
	}
	cancelled, err := meter.Int64Counter("commerce.orders.cancelled",
		metric.WithDescription("Orders cancelled, by actor"))
	if err != nil {
		return nil, fmt.Errorf("order service: register cancelled counter: %w", err)
	}

	return &orderService{
		orders:    deps.Orders,
		products:  deps.Products,
		addresses: deps.Addresses,
		vouchers:  deps.Vouchers,
		usage:     deps.Usage,
		inventory: deps.Inventory,
		engine:    deps.Engine,
		uow:       deps.UnitOfWork,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		created:   created,
		cancelled: cancelled,
	}, nil
}

// CreateOrder places an order in one unit of work: address ownership, product checks, voucher
// evaluation, stock reservation, order insert and voucher usage. The cart is not touched.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	voucherID := strings.TrimSpace(cmd.VoucherID)
	if userID == "" || addressID == "" {
		return Order{}, fmt.Errorf("%w: user id and address id are required", ErrInvalidArgument)
	}
	requested, err := normaliseOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	notes := textutil.SanitizePlainText(cmd.Notes, maxOrderNotesLength)

	var created Order
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		if _, err := s.addresses.Get(ctx, userID, addressID); err != nil {
			return mapNotFound(err, ErrAddressNotOwned)
		}

		stockLines := make([]StockLine, 0, len(requested))
		for _, item := range requested {
			stockLines = append(stockLines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		aggregated := domain.AggregateStockLines(stockLines)
		ids := make([]string, 0, len(aggregated))
		for _, line := range aggregated {
			ids = append(ids, line.ProductID)
		}
		products, err := s.products.GetMany(ctx, ids)
		if err != nil {
			return err
		}
		for _, line := range aggregated {
			product, ok := products[line.ProductID]
			if stockErr := repositories.CheckStock("orders.create", line.ProductID, ok, product.IsActive, product.Stock, line.Quantity); stockErr != nil {
				return mapStockError(stockErr)
			}
		}

		order := Order{
			ID:        "ord_" + s.newID(),
			UserID:    userID,
			AddressID: addressID,
			Status:    domain.OrderStatusPending,
			Notes:     notes,
			CreatedAt: now,
			UpdatedAt: now,
		}
		candidates := make([]VoucherCandidate, 0, len(requested))
		for _, item := range requested {
			product := products[item.ProductID]
			orderItem := OrderItem{
				ID:          "oit_" + s.newID(),
				OrderID:     order.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    item.Quantity,
				UnitPrice:   product.EffectivePrice(),
				Status:      domain.OrderStatusPending,
			}
			order.Items = append(order.Items, orderItem)
			order.Subtotal += orderItem.LineTotal()
			candidates = append(candidates, VoucherCandidate{
				LineID:    orderItem.ID,
				ProductID: product.ID,
				Product:   &product,
				Quantity:  orderItem.Quantity,
				UnitPrice: orderItem.UnitPrice,
			})
		}

		var usage *VoucherUsage
		if voucherID != "" {
			voucher, err := s.vouchers.Get(ctx, voucherID)
			if err != nil {
				if isRepoNotFound(err) {
					return newVoucherError(ErrVoucherNotFound, voucherID)
				}
				return err
			}
			breakdown, err := s.engine.Evaluate(ctx, voucher, userID, candidates)
			if err != nil {
				return err
			}
			id := voucher.ID
			order.VoucherID = &id
			order.DiscountAmount = breakdown.Discount
			usage = &VoucherUsage{
				ID:             "vu_" + s.newID(),
				VoucherID:      voucher.ID,
				UserID:         userID,
				OrderID:        order.ID,
				DiscountAmount: breakdown.Discount,
				UsedAt:         now,
			}
		}
		order.TotalAmount = order.Subtotal - order.DiscountAmount

		if err := s.inventory.ReserveLines(ctx, stockLines); err != nil {
			return err
		}
		if err := s.orders.Insert(ctx, order); err != nil {
			return err
		}
		if usage != nil {
			if err := s.usage.Append(ctx, *usage); err != nil {
				return err
			}
		}
		created = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.created.Add(ctx, 1, metric.WithAttributes(attribute.Bool("voucher", created.VoucherID != nil)))
	s.logger(ctx, eventOrderCreated, map[string]any{
		"orderId":  created.ID,
		"userId":   created.UserID,
		"items":    len(created.Items),
		"subtotal": created.Subtotal,
		"discount": created.DiscountAmount,
		"total":    created.TotalAmount,
	})
	s.publish(ctx, OrderEvent{
		Type:        eventOrderCreated,
		OrderID:     created.ID,
		UserID:      created.UserID,
		ActorID:     created.UserID,
		Status:      created.Status,
		TotalAmount: created.TotalAmount,
		OccurredAt:  created.CreatedAt,
	})
	return created, nil
}

// GetOrder returns the order. A non-empty userID scopes the read; other users' orders are reported
// as not found.
func (s *orderService) GetOrder(ctx context.Context, orderID, userID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Order{}, mapNotFound(err, ErrOrderNotFound)
	}
	if userID = strings.TrimSpace(userID); userID != "" && order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	userID := strings.TrimSpace(filter.UserID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	page, err := s.orders.ListByUser(ctx, repositories.OrderListQuery{
		UserID:    userID,
		PageSize:  filter.PageSize,
		PageToken: strings.TrimSpace(filter.PageToken),
	})
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return page, err
}

// UpdateOrder moves the order along the lifecycle table and/or replaces its notes. Cancellation is
// refused here because it must restore stock.
func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrInvalidArgument)
	}
	if cmd.Status == nil && cmd.Notes == nil {
		return Order{}, fmt.Errorf("%w: status or notes is required", ErrInvalidArgument)
	}

	var target *OrderStatus
	if cmd.Status != nil {
		status, err := domain.ParseOrderStatus(*cmd.Status)
		if err != nil {
			return Order{}, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		if status == domain.OrderStatusCancelled {
			return Order{}, fmt.Errorf("%w: use the cancel operation to cancel an order", ErrInvalidTransition)
		}
		target = &status
	}

	var (
		updated  Order
		previous OrderStatus
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return mapNotFound(err, ErrOrderNotFound)
		}
		previous = order.Status
		now := s.clock()
		changed := false

		if target != nil && *target != order.Status {
			if !order.Status.CanTransition(*target) {
				return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, order.Status, *target)
			}
			order.Status = *target
			if *target == domain.OrderStatusSuccess && order.DeliveredAt == nil {
				order.DeliveredAt = &now
			}
			changed = true
		}
		if cmd.Notes != nil {
			if notes := textutil.SanitizePlainText(*cmd.Notes, maxOrderNotesLength); notes != order.Notes {
				order.Notes = notes
				changed = true
			}
		}
		if changed {
			order.UpdatedAt = now
			if err := s.orders.Update(ctx, order); err != nil {
				return mapNotFound(err, ErrOrderNotFound)
			}
		}
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if updated.Status != previous {
		s.logger(ctx, eventOrderStatusChanged, map[string]any{
			"orderId": updated.ID,
			"from":    string(previous),
			"to":      string(updated.Status),
			"actorId": cmd.ActorID,
		})
		s.publish(ctx, OrderEvent{
			Type:           eventOrderStatusChanged,
			OrderID:        updated.ID,
			UserID:         updated.UserID,
			ActorID:        cmd.ActorID,
			Status:         updated.Status,
			PreviousStatus: previous,
			TotalAmount:    updated.TotalAmount,
			OccurredAt:     updated.UpdatedAt,
		})
	}
	return updated, nil
}

// CancelOrderByUser cancels an order the user owns while it is still Pending or Processing and
// restores the stock of every item.
func (s *orderService) CancelOrderByUser(ctx context.Context, orderID, userID, reason string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	userID = strings.TrimSpace(userID)
	if orderID == "" || userID == "" {
		return Order{}, fmt.Errorf("%w: order id and user id are required", ErrInvalidArgument)
	}
	return s.cancel(ctx, orderID, userID, reason, "user", func(order Order) (bool, error) {
		if order.UserID != userID {
			return false, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if !order.Status.UserCancellable() {
			return false, fmt.Errorf("%w: order in status %s cannot be cancelled by its owner", ErrInvalidTransition, order.Status)
		}
		return true, nil
	})
}

// CancelOrderByStaff cancels any order that is not already cancelled. Stock comes back only when the
// goods never reached the customer, judged on the status before cancellation.
func (s *orderService) CancelOrderByStaff(ctx context.Context, orderID, staffID, reason string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	staffID = strings.TrimSpace(staffID)
	if orderID == "" || staffID == "" {
		return Order{}, fmt.Errorf("%w: order id and staff id are required", ErrInvalidArgument)
	}
	return s.cancel(ctx, orderID, staffID, reason, "staff", func(order Order) (bool, error) {
		if order.Status == domain.OrderStatusCancelled {
			return false, fmt.Errorf("%w: order is already cancelled", ErrInvalidTransition)
		}
		return staffCancelRestoresStock(order), nil
	})
}

// staffCancelRestoresStock must be called on the order as loaded, before its status is overwritten.
func staffCancelRestoresStock(order Order) bool {
	switch order.Status {
	case domain.OrderStatusDelivered, domain.OrderStatusSuccess:
		return false
	}
	return order.DeliveredAt == nil
}

// cancel loads the order, lets guard decide whether cancellation is allowed and whether stock comes
// back, then restores stock before writing the order so Firestore sees every read first.
func (s *orderService) cancel(ctx context.Context, orderID, actorID, reason, actor string, guard func(Order) (bool, error)) (Order, error) {
	reason = textutil.SanitizePlainText(reason, maxCancelReasonLength)

	var (
		cancelled Order
		previous  OrderStatus
		restored  bool
	)
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return mapNotFound(err, ErrOrderNotFound)
		}
		restore, err := guard(order)
		if err != nil {
			return err
		}
		previous = order.Status
		restored = restore

		if restore {
			if err := s.restoreStock(ctx, order); err != nil {
				return err
			}
		}

		now := s.clock()
		order.Status = domain.OrderStatusCancelled
		order.CancelledAt = &now
		order.CancelledBy = actorID
		order.CancelReason = reason
		order.UpdatedAt = now
		if err := s.orders.Update(ctx, order); err != nil {
			return mapNotFound(err, ErrOrderNotFound)
		}
		cancelled = order
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.cancelled.Add(ctx, 1, metric.WithAttributes(attribute.String("actor", actor)))
	s.logger(ctx, eventOrderCancelled, map[string]any{
		"orderId":        cancelled.ID,
		"actorId":        actorID,
		"actor":          actor,
		"previousStatus": string(previous),
		"stockRestored":  restored,
	})
	s.publish(ctx, OrderEvent{
		Type:           eventOrderCancelled,
		OrderID:        cancelled.ID,
		UserID:         cancelled.UserID,
		ActorID:        actorID,
		Status:         cancelled.Status,
		PreviousStatus: previous,
		TotalAmount:    cancelled.TotalAmount,
		OccurredAt:     cancelled.UpdatedAt,
	})
	return cancelled, nil
}

// restoreStock gives back every item whose product still exists. Products removed from the catalog
// since the order was placed are skipped and logged.
func (s *orderService) restoreStock(ctx context.Context, order Order) error {
	lines := domain.AggregateStockLines(order.StockLines())
	if len(lines) == 0 {
		return nil
	}
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.GetMany(ctx, ids)
	if err != nil {
		return err
	}
	present := lines[:0:0]
	for _, line := range lines {
		if _, ok := products[line.ProductID]; !ok {
			s.logger(ctx, eventStockRestoreSkip, map[string]any{
				"orderId":   order.ID,
				"productId": line.ProductID,
				"quantity":  line.Quantity,
			})
			continue
		}
		present = append(present, line)
	}
	if len(present) == 0 {
		return nil
	}
	return s.inventory.RestoreLines(ctx, present)
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, eventOrderPublishFailed, map[string]any{
			"orderId": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func normaliseOrderItems(items []CreateOrderItem) ([]CreateOrderItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one order item is required", ErrInvalidArgument)
	}
	out := make([]CreateOrderItem, 0, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: item %d product id is required", ErrInvalidArgument, i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: item %d quantity must be at least 1", ErrInvalidArgument, i)
		}
		out = append(out, CreateOrderItem{ProductID: id, Quantity: item.Quantity})
	}
	return out, nil
}
