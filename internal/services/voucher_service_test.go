package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

func (f *commerceFixture) addToCart(t *testing.T, userID, productID string, qty int) CartItem {
	t.Helper()
	item, err := f.carts.AddItem(context.Background(), userID, productID, qty)
	if err != nil {
		t.Fatalf("AddItem %s: %v", productID, err)
	}
	return item
}

func TestVoucherServiceApplyPercent(t *testing.T) {
	f := newCommerceFixture(t)
	f.seedProduct(t, domain.Product{ID: "prod_a", Name: "Brush", Price: 100, Stock: 10, IsActive: true})
	f.seedVoucher(t, domain.Voucher{Code: "SAVE10", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true})
	item := f.addToCart(t, "user_1", "prod_a", 2)

	breakdown, err := f.vouchers.ApplyVoucher(context.Background(), "user_1", "save10", []string{item.ID})
	if err != nil {
		t.Fatalf("ApplyVoucher: %v", err)
	}
	if breakdown.SubtotalEligible != 200 || breakdown.Discount != 20 || breakdown.FinalTotal != 180 {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}
	if len(breakdown.EligibleItems) != 1 || breakdown.EligibleItems[0].LineID != item.ID {
		t.Fatalf("expected the selected line eligible, got %+v", breakdown.EligibleItems)
	}
	if !f.logs.has("voucher.applied") {
		t.Fatalf("expected voucher.applied log entry")
	}
}

func TestVoucherServiceApplyFixedCapsAtSubtotal(t *testing.T) {
	f := newCommerceFixture(t)
	f.seedProduct(t, domain.Product{ID: "prod_a", Price: 30, Stock: 10, IsActive: true})
	f.seedVoucher(t, domain.Voucher{Code: "FLAT50", DiscountType: domain.DiscountTypeFixed, Value: decimal.NewFromInt(50), IsActive: true})
	item := f.addToCart(t, "user_1", "prod_a", 1)

	breakdown, err := f.vouchers.ApplyVoucher(context.Background(), "user_1", "FLAT50", []string{item.ID})
	if err != nil {
		t.Fatalf("ApplyVoucher: %v", err)
	}
	if breakdown.Discount != 30 || breakdown.FinalTotal != 0 {
		t.Fatalf("expected discount capped at 30, got %+v", breakdown)
	}
}

func TestVoucherServiceApplyNormalisesFullWidthCode(t *testing.T) {
	f := newCommerceFixture(t)
	f.seedProduct(t, domain.Product{ID: "prod_a", Price: 100, Stock: 10, IsActive: true})
	f.seedVoucher(t, domain.Voucher{Code: "SAVE10", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true})
	item := f.addToCart(t, "user_1", "prod_a", 1)

	if _, err := f.vouchers.ApplyVoucher(context.Background(), "user_1", " ｓａｖｅ１０ ", []string{item.ID}); err != nil {
		t.Fatalf("expected full-width code to resolve, got %v", err)
	}
}

func TestVoucherServiceApplyChecks(t *testing.T) {
	now := time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		voucher domain.Voucher
		usages  []domain.VoucherUsage
		code    string
		want    error
	}{
		{
			name: "unknown code",
			code: "NOPE",
			want: ErrVoucherNotFound,
		},
		{
			name:    "inactive",
			voucher: domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10)},
			want:    ErrVoucherInactive,
		},
		{
			name: "not started",
			voucher: domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true,
				StartTime: now.Add(time.Hour)},
			want: ErrVoucherOutOfWindow,
		},
		{
			name: "expired",
			voucher: domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true,
				EndTime: now.Add(-time.Second)},
			want: ErrVoucherOutOfWindow,
		},
		{
			name: "inactive wins over expired",
			voucher: domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10),
				EndTime: now.Add(-time.Second)},
			want: ErrVoucherInactive,
		},
		{
			name: "total limit reached",
			voucher: domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true,
				TotalUsageLimit: 1, PerUserLimit: 5},
			usages: []domain.VoucherUsage{{ID: "vu_1", VoucherID: "vch_V", UserID: "user_2"}},
			want:   ErrVoucherExhausted,
		},
		{
			name: "per-user limit reached",
			voucher: domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true,
				PerUserLimit: 1},
			usages: []domain.VoucherUsage{{ID: "vu_1", VoucherID: "vch_V", UserID: "user_1"}},
			want:   ErrUserLimitReached,
		},
		{
			name: "below minimum order",
			voucher: domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true,
				MinOrderValue: 1000},
			want: ErrBelowMinimumOrder,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newCommerceFixture(t)
			ctx := context.Background()
			f.seedProduct(t, domain.Product{ID: "prod_a", Price: 100, Stock: 10, IsActive: true})
			item := f.addToCart(t, "user_1", "prod_a", 1)
			if tc.voucher.Code != "" {
				f.seedVoucher(t, tc.voucher)
			}
			for _, usage := range tc.usages {
				if err := f.reg.VoucherUsage().Append(ctx, usage); err != nil {
					t.Fatalf("seed usage: %v", err)
				}
			}
			code := tc.code
			if code == "" {
				code = tc.voucher.Code
			}

			_, err := f.vouchers.ApplyVoucher(ctx, "user_1", code, []string{item.ID})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			var verr *VoucherError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *VoucherError, got %T", err)
			}
			if KindOf(err) == KindInternal {
				t.Fatalf("expected a classified error kind, got internal")
			}
		})
	}
}

func TestVoucherServiceApplyNoItemsSelected(t *testing.T) {
	f := newCommerceFixture(t)
	f.seedProduct(t, domain.Product{ID: "prod_a", Price: 100, Stock: 10, IsActive: true})
	f.seedVoucher(t, domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true})
	f.addToCart(t, "user_1", "prod_a", 1)
	other := f.addToCart(t, "user_2", "prod_a", 1)

	for name, selected := range map[string][]string{
		"empty selection":     nil,
		"blank ids":           {" ", ""},
		"another user's line": {other.ID},
		"unknown line":        {"ci_missing"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.vouchers.ApplyVoucher(context.Background(), "user_1", "V", selected)
			if !errors.Is(err, ErrNoItemsSelected) {
				t.Fatalf("expected no items selected, got %v", err)
			}
		})
	}
}

func TestVoucherServiceApplyNoEligibleItems(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	f.seedProduct(t, domain.Product{ID: "prod_sale", Name: "Sale Ink", Price: 100, Stock: 10, IsActive: true, IsOnSale: true})
	f.seedProduct(t, domain.Product{ID: "prod_disc", Name: "Paper", Price: 100, DiscountPrice: int64Ptr(80), Stock: 10, IsActive: true})
	f.seedProduct(t, domain.Product{ID: "prod_tag", Name: "Gift Card", Price: 100, Stock: 10, IsActive: true, NoVoucherTag: true})
	f.seedVoucher(t, domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(10), IsActive: true})

	sale := f.addToCart(t, "user_1", "prod_sale", 1)
	disc := f.addToCart(t, "user_1", "prod_disc", 1)
	tag := f.addToCart(t, "user_1", "prod_tag", 1)
	ghost := domain.CartItem{ID: "ci_ghost", UserID: "user_1", ProductID: "prod_gone", Quantity: 1, UnitPriceSnapshot: 100, CreatedAt: f.now}
	if err := f.reg.Carts().SaveItem(ctx, ghost); err != nil {
		t.Fatalf("seed ghost line: %v", err)
	}

	_, err := f.vouchers.ApplyVoucher(ctx, "user_1", "V", []string{sale.ID, disc.ID, tag.ID, ghost.ID})
	if !errors.Is(err, ErrNoEligibleItems) {
		t.Fatalf("expected no eligible items, got %v", err)
	}
	var verr *VoucherError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *VoucherError, got %T", err)
	}
	reasons := map[string]string{}
	for _, item := range verr.Ineligible {
		reasons[item.LineID] = item.Reason
	}
	want := map[string]string{
		sale.ID:  "Sale Ink — Product is on sale",
		disc.ID:  "Paper — Product is discounted",
		tag.ID:   "Gift Card — Product is excluded from vouchers",
		ghost.ID: "Product not found",
	}
	for id, reason := range want {
		if reasons[id] != reason {
			t.Fatalf("line %s: expected reason %q, got %q", id, reason, reasons[id])
		}
	}
}

func TestVoucherServiceApplyPartitionsMixedSelection(t *testing.T) {
	f := newCommerceFixture(t)
	f.seedProduct(t, domain.Product{ID: "prod_a", Name: "Brush", Price: 250, Stock: 10, IsActive: true})
	f.seedProduct(t, domain.Product{ID: "prod_sale", Name: "Sale Ink", Price: 100, Stock: 10, IsActive: true, IsOnSale: true})
	f.seedVoucher(t, domain.Voucher{Code: "V", DiscountType: domain.DiscountTypePercent, Value: decimal.NewFromInt(15), IsActive: true,
		MinOrderValue: 500})
	a := f.addToCart(t, "user_1", "prod_a", 2)
	sale := f.addToCart(t, "user_1", "prod_sale", 5)

	breakdown, err := f.vouchers.ApplyVoucher(context.Background(), "user_1", "V", []string{a.ID, sale.ID})
	if err != nil {
		t.Fatalf("ApplyVoucher: %v", err)
	}
	// 15% of 500 is 75; the on-sale line does not count towards the minimum.
	if breakdown.SubtotalEligible != 500 || breakdown.Discount != 75 || breakdown.FinalTotal != 425 {
		t.Fatalf("unexpected breakdown %+v", breakdown)
	}
	if len(breakdown.IneligibleItems) != 1 || breakdown.IneligibleItems[0].LineID != sale.ID {
		t.Fatalf("expected sale line ineligible, got %+v", breakdown.IneligibleItems)
	}
}

func TestComputeDiscountRounding(t *testing.T) {
	tests := []struct {
		name     string
		kind     domain.DiscountType
		value    decimal.Decimal
		subtotal int64
		want     int64
	}{
		{"percent exact", domain.DiscountTypePercent, decimal.NewFromInt(10), 200, 20},
		{"percent rounds half up", domain.DiscountTypePercent, decimal.NewFromInt(15), 10, 2},
		{"percent rounds down", domain.DiscountTypePercent, decimal.NewFromInt(12), 10, 1},
		{"percent fractional rate", domain.DiscountTypePercent, decimal.RequireFromString("12.5"), 100, 13},
		{"percent full", domain.DiscountTypePercent, decimal.NewFromInt(100), 999, 999},
		{"fixed below subtotal", domain.DiscountTypeFixed, decimal.NewFromInt(50), 120, 50},
		{"fixed capped", domain.DiscountTypeFixed, decimal.NewFromInt(50), 30, 30},
		{"zero subtotal", domain.DiscountTypeFixed, decimal.NewFromInt(50), 0, 0},
		{"unknown type", domain.DiscountType("Bogus"), decimal.NewFromInt(50), 100, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := computeDiscount(Voucher{DiscountType: tc.kind, Value: tc.value}, tc.subtotal)
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestVoucherServiceSnapshot(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	f.seedVoucher(t, domain.Voucher{Code: "V", DiscountType: domain.DiscountTypeFixed, Value: decimal.NewFromInt(100), IsActive: true,
		TotalUsageLimit: 3, PerUserLimit: 1})
	if err := f.reg.VoucherUsage().Append(ctx, domain.VoucherUsage{ID: "vu_1", VoucherID: "vch_V", UserID: "user_1"}); err != nil {
		t.Fatalf("seed usage: %v", err)
	}

	snap, err := f.vouchers.Snapshot(ctx, "user_2", "v")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.IsValid || snap.CurrentUsage != 1 || snap.UserUsage != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Remaining == nil || *snap.Remaining != 2 {
		t.Fatalf("expected 2 remaining, got %v", snap.Remaining)
	}

	snap, err = f.vouchers.Snapshot(ctx, "user_1", "V")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.IsValid || !strings.Contains(snap.Reason, "maximum") {
		t.Fatalf("expected per-user limit reason, got %+v", snap)
	}

	if _, err := f.vouchers.Snapshot(ctx, "user_1", "MISSING"); !errors.Is(err, ErrVoucherNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestVoucherServiceUpsertVoucher(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()

	created, err := f.vouchers.UpsertVoucher(ctx, UpsertVoucherCommand{
		Code:         " spring25 ",
		DiscountType: "Percent",
		Value:        decimal.NewFromInt(25),
		PerUserLimit: 1,
		IsActive:     true,
	})
	if err != nil {
		t.Fatalf("UpsertVoucher: %v", err)
	}
	if created.Code != "SPRING25" || !created.CreatedAt.Equal(f.now) {
		t.Fatalf("unexpected voucher %+v", created)
	}

	f.now = f.now.Add(time.Hour)
	updated, err := f.vouchers.UpsertVoucher(ctx, UpsertVoucherCommand{
		Code:         "SPRING25",
		DiscountType: "Percent",
		Value:        decimal.NewFromInt(30),
		PerUserLimit: 2,
	})
	if err != nil {
		t.Fatalf("UpsertVoucher update: %v", err)
	}
	if updated.ID != created.ID || !updated.CreatedAt.Equal(created.CreatedAt) || !updated.UpdatedAt.Equal(f.now) {
		t.Fatalf("expected identity preserved, got %+v", updated)
	}
	if !updated.Value.Equal(decimal.NewFromInt(30)) || updated.IsActive {
		t.Fatalf("expected fields replaced, got %+v", updated)
	}

	invalid := []UpsertVoucherCommand{
		{Code: "", DiscountType: "Percent", Value: decimal.NewFromInt(10), PerUserLimit: 1},
		{Code: "X", DiscountType: "Bogus", Value: decimal.NewFromInt(10), PerUserLimit: 1},
		{Code: "X", DiscountType: "Percent", Value: decimal.NewFromInt(101), PerUserLimit: 1},
		{Code: "X", DiscountType: "Fixed", Value: decimal.RequireFromString("9.5"), PerUserLimit: 1},
		{Code: "X", DiscountType: "Fixed", Value: decimal.Zero, PerUserLimit: 1},
		{Code: "X", DiscountType: "Fixed", Value: decimal.NewFromInt(5), PerUserLimit: 0},
		{Code: "X", DiscountType: "Fixed", Value: decimal.NewFromInt(5), PerUserLimit: 1,
			StartTime: f.now, EndTime: f.now.Add(-time.Hour)},
	}
	for i, cmd := range invalid {
		if _, err := f.vouchers.UpsertVoucher(ctx, cmd); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("case %d: expected invalid argument, got %v", i, err)
		}
	}
}
