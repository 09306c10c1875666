package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/services"
)

const maxVoucherBodySize = 2 * 1024

// VoucherHandlers lets users inspect a code and preview its discount on their cart.
type VoucherHandlers struct {
	authn    *auth.Authenticator
	vouchers services.VoucherService
}

// NewVoucherHandlers constructs the voucher endpoints.
func NewVoucherHandlers(authn *auth.Authenticator, vouchers services.VoucherService) *VoucherHandlers {
	return &VoucherHandlers{
		authn:    authn,
		vouchers: vouchers,
	}
}

// Routes registers the /vouchers endpoints.
func (h *VoucherHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/apply", h.apply)
	r.Get("/{code}", h.snapshot)
}

func (h *VoucherHandlers) snapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		serviceUnavailable(ctx, w, "voucher")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	snap, err := h.vouchers.Snapshot(ctx, identity.UID, chi.URLParam(r, "code"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := voucherSnapshotPayload{
		Code:            snap.Code,
		IsValid:         snap.IsValid,
		Reason:          snap.Reason,
		DiscountType:    string(snap.DiscountType),
		Value:           snap.Value.String(),
		MinOrderValue:   snap.MinOrderValue,
		CurrentUsage:    snap.CurrentUsage,
		UserUsage:       snap.UserUsage,
		TotalUsageLimit: snap.TotalUsageLimit,
		PerUserLimit:    snap.PerUserLimit,
		Remaining:       snap.Remaining,
		StartTime:       formatTime(snap.StartTime),
		EndTime:         formatTime(snap.EndTime),
	}
	writeJSONResponse(w, http.StatusOK, voucherSnapshotResponse{Voucher: payload})
}

type applyVoucherRequest struct {
	Code string `json:"code"`
}

func (h *VoucherHandlers) apply(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		serviceUnavailable(ctx, w, "voucher")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req applyVoucherRequest
	if err := decodeJSONBody(r, maxVoucherBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "code is required", http.StatusBadRequest))
		return
	}

	selected := splitIDs(r.URL.Query()["cartItemIds"])
	breakdown, err := h.vouchers.ApplyVoucher(ctx, identity.UID, req.Code, selected)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payload := voucherBreakdownPayload{
		VoucherID:        breakdown.VoucherID,
		Code:             breakdown.Code,
		DiscountType:     string(breakdown.DiscountType),
		Value:            breakdown.Value.String(),
		EligibleItems:    make([]eligibleItemPayload, 0, len(breakdown.EligibleItems)),
		IneligibleItems:  ineligiblePayloads(breakdown.IneligibleItems),
		SubtotalEligible: breakdown.SubtotalEligible,
		Discount:         breakdown.Discount,
		FinalTotal:       breakdown.FinalTotal,
	}
	for _, item := range breakdown.EligibleItems {
		payload.EligibleItems = append(payload.EligibleItems, eligibleItemPayload{
			CartItemID: item.LineID,
			ProductID:  item.ProductID,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal,
		})
	}
	writeJSONResponse(w, http.StatusOK, voucherBreakdownResponse{Breakdown: payload})
}

// splitIDs accepts both repeated parameters and comma separated lists.
func splitIDs(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

func ineligiblePayloads(items []services.IneligibleItem) []ineligibleItemPayload {
	out := make([]ineligibleItemPayload, 0, len(items))
	for _, item := range items {
		out = append(out, ineligibleItemPayload{
			CartItemID: item.LineID,
			ProductID:  item.ProductID,
			Name:       item.Name,
			Reason:     item.Reason,
		})
	}
	return out
}

type voucherSnapshotResponse struct {
	Voucher voucherSnapshotPayload `json:"voucher"`
}

type voucherSnapshotPayload struct {
	Code            string `json:"code"`
	IsValid         bool   `json:"isValid"`
	Reason          string `json:"reason,omitempty"`
	DiscountType    string `json:"discountType"`
	Value           string `json:"value"`
	MinOrderValue   int64  `json:"minOrderValue"`
	CurrentUsage    int    `json:"currentUsage"`
	UserUsage       int    `json:"userUsage"`
	TotalUsageLimit int    `json:"totalUsageLimit"`
	PerUserLimit    int    `json:"perUserLimit"`
	Remaining       *int   `json:"remaining,omitempty"`
	StartTime       string `json:"startTime,omitempty"`
	EndTime         string `json:"endTime,omitempty"`
}

type voucherBreakdownResponse struct {
	Breakdown voucherBreakdownPayload `json:"breakdown"`
}

type voucherBreakdownPayload struct {
	VoucherID        string                  `json:"voucherId"`
	Code             string                  `json:"code"`
	DiscountType     string                  `json:"discountType"`
	Value            string                  `json:"value"`
	EligibleItems    []eligibleItemPayload   `json:"eligibleItems"`
	IneligibleItems  []ineligibleItemPayload `json:"ineligibleItems"`
	SubtotalEligible int64                   `json:"subtotalEligible"`
	Discount         int64                   `json:"discount"`
	FinalTotal       int64                   `json:"finalTotal"`
}

type eligibleItemPayload struct {
	CartItemID string `json:"cartItemId"`
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  int64  `json:"unitPrice"`
	LineTotal  int64  `json:"lineTotal"`
}

type ineligibleItemPayload struct {
	CartItemID string `json:"cartItemId"`
	ProductID  string `json:"productId"`
	Name       string `json:"name,omitempty"`
	Reason     string `json:"reason"`
}
