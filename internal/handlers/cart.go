package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the authenticated user's cart.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/validate", h.validate)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.Clear(ctx, identity.UID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addCartItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "productId is required", http.StatusBadRequest))
		return
	}

	item, err := h.carts.AddItem(ctx, identity.UID, req.ProductID, req.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, cartItemResponse{Item: buildCartItemPayload(item)})
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := decodeJSONBody(r, maxCartBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	item, err := h.carts.UpdateQuantity(ctx, identity.UID, chi.URLParam(r, "itemID"), *req.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartItemResponse{Item: buildCartItemPayload(item)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(ctx, identity.UID, chi.URLParam(r, "itemID")); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) validate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		serviceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	valid, cart, err := h.carts.ValidateForCheckout(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartValidationResponse{Valid: valid, Cart: buildCartPayload(cart)})
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		UserID:     cart.UserID,
		Items:      make([]cartLinePayload, 0, len(cart.Lines)),
		Total:      cart.Total,
		TotalItems: cart.TotalItems,
	}
	for _, line := range cart.Lines {
		entry := cartLinePayload{
			cartItemPayload: buildCartItemPayload(line.Item),
			LineTotal:       line.LineTotal,
			Availability: availabilityPayload{
				IsAvailable: line.Availability.IsAvailable,
				Reason:      string(line.Availability.Reason),
				MaxQuantity: line.Availability.MaxQuantity,
			},
		}
		if line.Product != nil {
			entry.Name = line.Product.Name
			entry.Price = line.Product.Price
			entry.DiscountPrice = line.Product.DiscountPrice
		}
		payload.Items = append(payload.Items, entry)
	}
	return payload
}

func buildCartItemPayload(item services.CartItem) cartItemPayload {
	return cartItemPayload{
		ID:                item.ID,
		ProductID:         item.ProductID,
		Quantity:          item.Quantity,
		UnitPriceSnapshot: item.UnitPriceSnapshot,
		CreatedAt:         formatTime(item.CreatedAt),
		UpdatedAt:         formatTime(item.UpdatedAt),
	}
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartItemResponse struct {
	Item cartItemPayload `json:"item"`
}

type cartValidationResponse struct {
	Valid bool        `json:"valid"`
	Cart  cartPayload `json:"cart"`
}

type cartPayload struct {
	UserID     string            `json:"userId"`
	Items      []cartLinePayload `json:"items"`
	Total      int64             `json:"total"`
	TotalItems int               `json:"totalItems"`
}

type cartItemPayload struct {
	ID                string `json:"id"`
	ProductID         string `json:"productId"`
	Quantity          int    `json:"quantity"`
	UnitPriceSnapshot int64  `json:"unitPriceSnapshot"`
	CreatedAt         string `json:"createdAt,omitempty"`
	UpdatedAt         string `json:"updatedAt,omitempty"`
}

type cartLinePayload struct {
	cartItemPayload
	Name          string              `json:"name,omitempty"`
	Price         int64               `json:"price,omitempty"`
	DiscountPrice *int64              `json:"discountPrice,omitempty"`
	LineTotal     int64               `json:"lineTotal"`
	Availability  availabilityPayload `json:"availability"`
}

type availabilityPayload struct {
	IsAvailable bool   `json:"isAvailable"`
	Reason      string `json:"reason,omitempty"`
	MaxQuantity int    `json:"maxQuantity"`
}
