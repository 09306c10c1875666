package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const (
	maxInternalBodySize     = 16 * 1024
	defaultCleanupBatchSize = 500
	maxCleanupBatchSize     = 5000
)

// IdempotencyCleaner purges expired idempotency records.
type IdempotencyCleaner interface {
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// InternalHandlers serves the service-to-service endpoints used by the catalog sync, marketing
// tooling and the maintenance scheduler.
type InternalHandlers struct {
	inventory services.InventoryService
	vouchers  services.VoucherService
	cleaner   IdempotencyCleaner
	clock     func() time.Time
}

// InternalOption customises internal handlers.
type InternalOption func(*InternalHandlers)

// WithInternalInventory wires the catalog sync endpoint.
func WithInternalInventory(svc services.InventoryService) InternalOption {
	return func(h *InternalHandlers) {
		h.inventory = svc
	}
}

// WithInternalVouchers wires the voucher definition endpoint.
func WithInternalVouchers(svc services.VoucherService) InternalOption {
	return func(h *InternalHandlers) {
		h.vouchers = svc
	}
}

// WithIdempotencyCleaner wires the idempotency maintenance endpoint.
func WithIdempotencyCleaner(cleaner IdempotencyCleaner) InternalOption {
	return func(h *InternalHandlers) {
		h.cleaner = cleaner
	}
}

// WithInternalClock overrides the clock used for expiry cut-offs.
func WithInternalClock(clock func() time.Time) InternalOption {
	return func(h *InternalHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewInternalHandlers constructs the internal endpoints.
func NewInternalHandlers(opts ...InternalOption) *InternalHandlers {
	h := &InternalHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the internal endpoints. Authentication is applied by the router group.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/catalog/products/{productID}", h.upsertProduct)
	r.Put("/vouchers/{code}", h.upsertVoucher)
	r.Post("/maintenance/idempotency:cleanup", h.cleanupIdempotency)
}

type upsertProductRequest struct {
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	DiscountPrice *int64 `json:"discountPrice"`
	Stock         int    `json:"stock"`
	IsActive      bool   `json:"isActive"`
	IsOnSale      bool   `json:"isOnSale"`
	NoVoucherTag  bool   `json:"noVoucherTag"`
}

func (h *InternalHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		serviceUnavailable(ctx, w, "inventory")
		return
	}

	var req upsertProductRequest
	if err := decodeJSONBody(r, maxInternalBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	product, err := h.inventory.UpsertProduct(ctx, services.UpsertProductCommand{
		ProductID:     strings.TrimSpace(chi.URLParam(r, "productID")),
		Name:          req.Name,
		Price:         req.Price,
		DiscountPrice: req.DiscountPrice,
		Stock:         req.Stock,
		IsActive:      req.IsActive,
		IsOnSale:      req.IsOnSale,
		NoVoucherTag:  req.NoVoucherTag,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	logInternalCall(ctx, "catalog.product_upserted", zap.String("productId", product.ID), zap.Int("stock", product.Stock))
	writeJSONResponse(w, http.StatusOK, productResponse{Product: productPayload{
		ID:            product.ID,
		Name:          product.Name,
		Price:         product.Price,
		DiscountPrice: product.DiscountPrice,
		Stock:         product.Stock,
		IsActive:      product.IsActive,
		IsOnSale:      product.IsOnSale,
		NoVoucherTag:  product.NoVoucherTag,
		UpdatedAt:     formatTime(product.UpdatedAt),
	}})
}

type upsertVoucherRequest struct {
	DiscountType    string          `json:"discountType"`
	Value           decimal.Decimal `json:"value"`
	StartTime       *time.Time      `json:"startTime"`
	EndTime         *time.Time      `json:"endTime"`
	MinOrderValue   int64           `json:"minOrderValue"`
	TotalUsageLimit int             `json:"totalUsageLimit"`
	PerUserLimit    int             `json:"perUserLimit"`
	IsActive        bool            `json:"isActive"`
}

func (h *InternalHandlers) upsertVoucher(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.vouchers == nil {
		serviceUnavailable(ctx, w, "voucher")
		return
	}

	var req upsertVoucherRequest
	if err := decodeJSONBody(r, maxInternalBodySize, false, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpsertVoucherCommand{
		Code:            chi.URLParam(r, "code"),
		DiscountType:    req.DiscountType,
		Value:           req.Value,
		MinOrderValue:   req.MinOrderValue,
		TotalUsageLimit: req.TotalUsageLimit,
		PerUserLimit:    req.PerUserLimit,
		IsActive:        req.IsActive,
	}
	if req.StartTime != nil {
		cmd.StartTime = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		cmd.EndTime = req.EndTime.UTC()
	}

	voucher, err := h.vouchers.UpsertVoucher(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	logInternalCall(ctx, "voucher.upserted", zap.String("voucherId", voucher.ID), zap.String("code", voucher.Code))
	writeJSONResponse(w, http.StatusOK, voucherDefinitionResponse{Voucher: voucherDefinitionPayload{
		ID:              voucher.ID,
		Code:            voucher.Code,
		DiscountType:    string(voucher.DiscountType),
		Value:           voucher.Value.String(),
		StartTime:       formatTime(voucher.StartTime),
		EndTime:         formatTime(voucher.EndTime),
		MinOrderValue:   voucher.MinOrderValue,
		TotalUsageLimit: voucher.TotalUsageLimit,
		PerUserLimit:    voucher.PerUserLimit,
		IsActive:        voucher.IsActive,
	}})
}

func (h *InternalHandlers) cleanupIdempotency(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cleaner == nil {
		serviceUnavailable(ctx, w, "idempotency")
		return
	}

	limit := defaultCleanupBatchSize
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a positive integer", http.StatusBadRequest))
			return
		}
		limit = min(parsed, maxCleanupBatchSize)
	}

	removed, err := h.cleaner.Purge(ctx, h.clock().UTC(), limit)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	logInternalCall(ctx, "idempotency.cleanup", zap.Int("removed", removed))
	writeJSONResponse(w, http.StatusOK, cleanupResponse{Removed: removed})
}

func logInternalCall(ctx context.Context, event string, fields ...zap.Field) {
	if svc, ok := auth.ServiceIdentityFromContext(ctx); ok && svc != nil {
		fields = append(fields, zap.String("caller", svc.Email))
	}
	requestctx.Logger(ctx).Info(event, fields...)
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Price         int64  `json:"price"`
	DiscountPrice *int64 `json:"discountPrice,omitempty"`
	Stock         int    `json:"stock"`
	IsActive      bool   `json:"isActive"`
	IsOnSale      bool   `json:"isOnSale"`
	NoVoucherTag  bool   `json:"noVoucherTag"`
	UpdatedAt     string `json:"updatedAt,omitempty"`
}

type voucherDefinitionResponse struct {
	Voucher voucherDefinitionPayload `json:"voucher"`
}

type voucherDefinitionPayload struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	DiscountType    string `json:"discountType"`
	Value           string `json:"value"`
	StartTime       string `json:"startTime,omitempty"`
	EndTime         string `json:"endTime,omitempty"`
	MinOrderValue   int64  `json:"minOrderValue"`
	TotalUsageLimit int    `json:"totalUsageLimit"`
	PerUserLimit    int    `json:"perUserLimit"`
	IsActive        bool   `json:"isActive"`
}

type cleanupResponse struct {
	Removed int `json:"removed"`
}
