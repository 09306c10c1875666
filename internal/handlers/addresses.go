package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/services"
)

const maxAddressBodySize = 8 * 1024

// AddressHandlers manages the authenticated user's shipping addresses.
type AddressHandlers struct {
	authn     *auth.Authenticator
	addresses services.AddressService
}

// NewAddressHandlers constructs address endpoints.
func NewAddressHandlers(authn *auth.Authenticator, addresses services.AddressService) *AddressHandlers {
	return &AddressHandlers{
		authn:     authn,
		addresses: addresses,
	}
}

// Routes wires the /addresses endpoints.
func (h *AddressHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listAddresses)
	r.Post("/", h.createAddress)
	r.Put("/{addressID}", h.updateAddress)
	r.Delete("/{addressID}", h.deleteAddress)
	r.Post("/{addressID}/set-primary", h.setPrimary)
}

type addressRequest struct {
	Label      string `json:"label"`
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
	IsPrimary  bool   `json:"isPrimary"`
}

func (req addressRequest) input() services.AddressInput {
	return services.AddressInput{
		Label:      req.Label,
		Recipient:  req.Recipient,
		Line1:      req.Line1,
		Line2:      req.Line2,
		City:       req.City,
		State:      req.State,
		PostalCode: req.PostalCode,
		Country:    req.Country,
		Phone:      req.Phone,
	}
}

func (h *AddressHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	addresses, err := h.addresses.ListAddresses(ctx, identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		items = append(items, buildAddressPayload(addr))
	}
	writeJSONResponse(w, http.StatusOK, addressListResponse{Items: items})
}

func (h *AddressHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req addressRequest
	if err := decodeJSONBody(r, maxAddressBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	addr, err := h.addresses.CreateAddress(ctx, services.CreateAddressCommand{
		UserID:    identity.UID,
		Address:   req.input(),
		IsPrimary: req.IsPrimary,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/addresses/"+addr.ID)
	writeJSONResponse(w, http.StatusCreated, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req addressRequest
	if err := decodeJSONBody(r, maxAddressBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	addr, err := h.addresses.UpdateAddress(ctx, services.UpdateAddressCommand{
		UserID:    identity.UID,
		AddressID: strings.TrimSpace(chi.URLParam(r, "addressID")),
		Address:   req.input(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Address: buildAddressPayload(addr)})
}

func (h *AddressHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.addresses.DeleteAddress(ctx, identity.UID, strings.TrimSpace(chi.URLParam(r, "addressID"))); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHandlers) setPrimary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.addresses == nil {
		serviceUnavailable(ctx, w, "address")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	addr, err := h.addresses.SetPrimaryAddress(ctx, strings.TrimSpace(chi.URLParam(r, "addressID")), identity.UID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, addressResponse{Address: buildAddressPayload(addr)})
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		Label:      addr.Label,
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
		IsPrimary:  addr.IsPrimary,
		CreatedAt:  formatTime(addr.CreatedAt),
		UpdatedAt:  formatTime(addr.UpdatedAt),
	}
}

type addressListResponse struct {
	Items []addressPayload `json:"items"`
}

type addressResponse struct {
	Address addressPayload `json:"address"`
}

type addressPayload struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
	IsPrimary  bool   `json:"isPrimary"`
	CreatedAt  string `json:"createdAt,omitempty"`
	UpdatedAt  string `json:"updatedAt,omitempty"`
}
