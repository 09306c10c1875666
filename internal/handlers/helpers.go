package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/httpx"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/services"
)

const defaultBodyLimit = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and strictly decodes the body into dst. When optional is set an empty body
// leaves dst untouched.
func decodeJSONBody(r *http.Request, limit int64, optional bool, dst any) error {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		if optional && errors.Is(err, errEmptyBody) {
			return nil
		}
		return err
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}
	return nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// requireIdentity returns the authenticated user or writes a 401.
func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service is unavailable", http.StatusServiceUnavailable))
}

// writeServiceError maps service errors onto the JSON error envelope. Internal errors are logged and
// reported without detail.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	kind := services.KindOf(err)
	switch kind {
	case services.KindNotFound:
		httpx.WriteError(ctx, w, httpx.NewError(errorCode(err, "not_found"), err.Error(), http.StatusNotFound))
	case services.KindInvalidOperation, services.KindInvalidArgument:
		apiErr := httpx.NewError(errorCode(err, kind.String()), err.Error(), http.StatusBadRequest)
		var verr *services.VoucherError
		if errors.As(err, &verr) && len(verr.Ineligible) > 0 {
			apiErr = apiErr.WithDetails(map[string]any{"details": ineligiblePayloads(verr.Ineligible)})
		}
		httpx.WriteError(ctx, w, apiErr)
	case services.KindConflict:
		httpx.WriteError(ctx, w, httpx.NewError("conflict", "resource was modified concurrently; retry", http.StatusConflict))
	case services.KindUnavailable:
		requestctx.Logger(ctx).Warn("dependency unavailable", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("unavailable", "service temporarily unavailable", http.StatusServiceUnavailable))
	default:
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

var errorCodes = []struct {
	target error
	code   string
}{
	{services.ErrProductNotFound, "product_not_found"},
	{services.ErrProductInactive, "product_inactive"},
	{services.ErrInsufficientStock, "insufficient_stock"},
	{services.ErrCartItemNotFound, "cart_item_not_found"},
	{services.ErrOrderNotFound, "order_not_found"},
	{services.ErrInvalidTransition, "invalid_transition"},
	{services.ErrInvalidStatus, "invalid_status"},
	{services.ErrAddressNotFound, "address_not_found"},
	{services.ErrAddressNotOwned, "address_not_owned"},
	{services.ErrVoucherNotFound, "voucher_not_found"},
	{services.ErrVoucherInactive, "voucher_inactive"},
	{services.ErrVoucherOutOfWindow, "voucher_out_of_window"},
	{services.ErrVoucherExhausted, "voucher_exhausted"},
	{services.ErrUserLimitReached, "voucher_user_limit_reached"},
	{services.ErrNoItemsSelected, "no_items_selected"},
	{services.ErrNoEligibleItems, "no_eligible_items"},
	{services.ErrBelowMinimumOrder, "below_minimum_order"},
	{services.ErrInvalidArgument, "invalid_request"},
}

func errorCode(err error, fallback string) string {
	for _, entry := range errorCodes {
		if errors.Is(err, entry.target) {
			return entry.code
		}
	}
	return fallback
}
