package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/services"
)

func TestVoucherHandlersApply(t *testing.T) {
	service := &stubVoucherService{
		applyFunc: func(ctx context.Context, userID, code string, selected []string) (services.VoucherBreakdown, error) {
			if userID != "user-1" || code != "SPRING" {
				t.Fatalf("unexpected call %s %s", userID, code)
			}
			if !reflect.DeepEqual(selected, []string{"ci_1", "ci_2", "ci_3"}) {
				t.Fatalf("unexpected selection %q", selected)
			}
			return services.VoucherBreakdown{
				VoucherID:    "vch_1",
				Code:         "SPRING",
				DiscountType: domain.DiscountTypePercent,
				Value:        decimal.NewFromInt(15),
				EligibleItems: []services.EligibleItem{
					{LineID: "ci_1", ProductID: "prod-1", Name: "Pen", Quantity: 5, UnitPrice: 100, LineTotal: 500},
				},
				IneligibleItems: []services.IneligibleItem{
					{LineID: "ci_2", ProductID: "prod-2", Name: "Ink", Reason: "On sale — not eligible"},
				},
				SubtotalEligible: 500,
				Discount:         75,
				FinalTotal:       425,
			}, nil
		},
	}

	rr := serve("/vouchers", NewVoucherHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"},
		http.MethodPost, "/vouchers/apply?cartItemIds=ci_1,ci_2&cartItemIds=ci_3", `{"code":"SPRING"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp voucherBreakdownResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Breakdown.Discount != 75 || resp.Breakdown.FinalTotal != 425 || resp.Breakdown.Value != "15" {
		t.Fatalf("unexpected breakdown %+v", resp.Breakdown)
	}
	if len(resp.Breakdown.IneligibleItems) != 1 || resp.Breakdown.IneligibleItems[0].Reason != "On sale — not eligible" {
		t.Fatalf("unexpected ineligible items %+v", resp.Breakdown.IneligibleItems)
	}
}

func TestVoucherHandlersApplyRequiresCode(t *testing.T) {
	rr := serve("/vouchers", NewVoucherHandlers(nil, &stubVoucherService{}).Routes, &auth.Identity{UID: "user-1"},
		http.MethodPost, "/vouchers/apply", `{"code":"  "}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestVoucherHandlersApplyNoEligibleItems(t *testing.T) {
	service := &stubVoucherService{
		applyFunc: func(context.Context, string, string, []string) (services.VoucherBreakdown, error) {
			return services.VoucherBreakdown{}, &services.VoucherError{
				Err:  services.ErrNoEligibleItems,
				Code: "SPRING",
				Ineligible: []services.IneligibleItem{
					{LineID: "ci_1", ProductID: "prod-1", Reason: "Product excluded from vouchers"},
				},
			}
		},
	}

	rr := serve("/vouchers", NewVoucherHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"},
		http.MethodPost, "/vouchers/apply", `{"code":"SPRING"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var body struct {
		Error   string                  `json:"error"`
		Details []ineligibleItemPayload `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	if body.Error != "no_eligible_items" {
		t.Fatalf("expected no_eligible_items, got %s", body.Error)
	}
	if len(body.Details) != 1 || body.Details[0].CartItemID != "ci_1" {
		t.Fatalf("unexpected details %+v", body.Details)
	}
}

func TestVoucherHandlersApplyCheckFailures(t *testing.T) {
	cases := map[error]string{
		services.ErrVoucherNotFound:    "voucher_not_found",
		services.ErrVoucherInactive:    "voucher_inactive",
		services.ErrVoucherOutOfWindow: "voucher_out_of_window",
		services.ErrUserLimitReached:   "voucher_user_limit_reached",
		services.ErrBelowMinimumOrder:  "below_minimum_order",
		services.ErrNoItemsSelected:    "no_items_selected",
	}
	for target, code := range cases {
		service := &stubVoucherService{
			applyFunc: func(context.Context, string, string, []string) (services.VoucherBreakdown, error) {
				return services.VoucherBreakdown{}, &services.VoucherError{Err: target, Code: "X"}
			},
		}
		rr := serve("/vouchers", NewVoucherHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"},
			http.MethodPost, "/vouchers/apply", `{"code":"X"}`)
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("expected JSON body: %v", err)
		}
		if body["error"] != code {
			t.Fatalf("expected %s, got %v (status %d)", code, body["error"], rr.Code)
		}
	}
}

func TestVoucherHandlersSnapshot(t *testing.T) {
	remaining := 4
	service := &stubVoucherService{
		snapshotFunc: func(ctx context.Context, userID, code string) (services.VoucherSnapshot, error) {
			if code != "SPRING" {
				t.Fatalf("unexpected code %q", code)
			}
			return services.VoucherSnapshot{
				Code:            "SPRING",
				IsValid:         true,
				DiscountType:    domain.DiscountTypeFixed,
				Value:           decimal.NewFromInt(50),
				CurrentUsage:    6,
				UserUsage:       1,
				TotalUsageLimit: 10,
				PerUserLimit:    2,
				Remaining:       &remaining,
			}, nil
		},
	}

	rr := serve("/vouchers", NewVoucherHandlers(nil, service).Routes, &auth.Identity{UID: "user-1"}, http.MethodGet, "/vouchers/SPRING", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp voucherSnapshotResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Voucher.IsValid || resp.Voucher.Remaining == nil || *resp.Voucher.Remaining != 4 || resp.Voucher.DiscountType != "Fixed" {
		t.Fatalf("unexpected snapshot %+v", resp.Voucher)
	}
}

func TestSplitIDs(t *testing.T) {
	got := splitIDs([]string{" a, b ,,", "c"})
	if !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected ids %q", got)
	}
	if splitIDs(nil) != nil {
		t.Fatalf("expected nil for no values")
	}
}
