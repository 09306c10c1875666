package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxOrderBodySize       = 32 * 1024
	maxOrderCancelBodySize = 4 * 1024
)

// OrderHandlers exposes checkout and the order lifecycle.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Put("/{orderID}", h.updateOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type createOrderRequest struct {
	AddressID  string                   `json:"addressId"`
	VoucherID  string                   `json:"voucherId"`
	Notes      string                   `json:"notes"`
	OrderItems []createOrderItemRequest `json:"orderItems"`
}

type createOrderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.AddressID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "addressId is required", http.StatusBadRequest))
		return
	}
	if len(req.OrderItems) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "orderItems must not be empty", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:    identity.UID,
		AddressID: req.AddressID,
		VoucherID: req.VoucherID,
		Notes:     req.Notes,
		Items:     make([]services.CreateOrderItem, 0, len(req.OrderItems)),
	}
	for _, item := range req.OrderItems {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		UserID:    identity.UID,
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	// Staff read any order; everyone else only their own.
	scope := identity.UID
	if identity.IsStaff() {
		scope = ""
	}
	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"), scope)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type updateOrderRequest struct {
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.IsStaff() {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "staff role required", http.StatusForbidden))
		return
	}

	var req updateOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	order, err := h.orders.UpdateOrder(ctx, services.UpdateOrderCommand{
		OrderID: chi.URLParam(r, "orderID"),
		ActorID: identity.UID,
		Status:  req.Status,
		Notes:   req.Notes,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type cancelOrderRequest struct {
	CancelReason string `json:"cancelReason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := decodeJSONBody(r, maxOrderCancelBodySize, true, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	orderID := chi.URLParam(r, "orderID")
	var (
		order services.Order
		err   error
	)
	if identity.IsStaff() {
		order, err = h.orders.CancelOrderByStaff(ctx, orderID, identity.UID, req.CancelReason)
	} else {
		order, err = h.orders.CancelOrderByUser(ctx, orderID, identity.UID, req.CancelReason)
	}
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:             order.ID,
		UserID:         order.UserID,
		AddressID:      order.AddressID,
		Status:         string(order.Status),
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		TotalAmount:    order.TotalAmount,
		Notes:          order.Notes,
		Items:          make([]orderItemPayload, 0, len(order.Items)),
		CancelReason:   order.CancelReason,
		CancelledBy:    order.CancelledBy,
		CancelledAt:    formatTimePtr(order.CancelledAt),
		DeliveredAt:    formatTimePtr(order.DeliveredAt),
		CreatedAt:      formatTime(order.CreatedAt),
		UpdatedAt:      formatTime(order.UpdatedAt),
	}
	if order.VoucherID != nil {
		payload.VoucherID = *order.VoucherID
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:          item.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal(),
			Status:      string(item.Status),
		})
	}
	return payload
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type orderPayload struct {
	ID             string             `json:"id"`
	UserID         string             `json:"userId"`
	AddressID      string             `json:"addressId"`
	Status         string             `json:"status"`
	Subtotal       int64              `json:"subtotal"`
	DiscountAmount int64              `json:"discountAmount"`
	TotalAmount    int64              `json:"totalAmount"`
	VoucherID      string             `json:"voucherId,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	Items          []orderItemPayload `json:"orderItems"`
	CancelReason   string             `json:"cancelReason,omitempty"`
	CancelledBy    string             `json:"cancelledBy,omitempty"`
	CancelledAt    string             `json:"cancelledAt,omitempty"`
	DeliveredAt    string             `json:"deliveredAt,omitempty"`
	CreatedAt      string             `json:"createdAt"`
	UpdatedAt      string             `json:"updatedAt"`
}

type orderItemPayload struct {
	ID          string `json:"id"`
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
	LineTotal   int64  `json:"lineTotal"`
	Status      string `json:"status"`
}
