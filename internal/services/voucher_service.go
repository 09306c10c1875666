package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/textutil"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	eventVoucherApplied = "voucher.applied"
	eventVoucherSynced  = "voucher.synced"

	reasonProductNotFound = "Product not found"
)

var hundred = decimal.NewFromInt(100)

// VoucherServiceDeps bundles the collaborators required to construct a voucher service.
type VoucherServiceDeps struct {
	Vouchers    repositories.VoucherRepository
	Usage       repositories.VoucherUsageRepository
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type voucherService struct {
	vouchers repositories.VoucherRepository
	usage    repositories.VoucherUsageRepository
	carts    repositories.CartRepository
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

var _ VoucherService = (*voucherService)(nil)

// NewVoucherService constructs the voucher engine.
func NewVoucherService(deps VoucherServiceDeps) (VoucherService, error) {
	if deps.Vouchers == nil {
		return nil, errors.New("voucher service: voucher repository is required")
	}
	if deps.Usage == nil {
		return nil, errors.New("voucher service: usage repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("voucher service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("voucher service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "vch_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &voucherService{
		vouchers: deps.Vouchers,
		usage:    deps.Usage,
		carts:    deps.Carts,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// ApplyVoucher previews the discount code would give on the selected cart items. Nothing is written.
func (s *voucherService) ApplyVoucher(ctx context.Context, userID, code string, selectedItemIDs []string) (VoucherBreakdown, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return VoucherBreakdown{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	voucher, err := s.lookupCode(ctx, code)
	if err != nil {
		return VoucherBreakdown{}, err
	}
	if err := s.checkRedeemable(ctx, voucher, userID); err != nil {
		return VoucherBreakdown{}, err
	}

	candidates, err := s.selectedCandidates(ctx, userID, selectedItemIDs)
	if err != nil {
		return VoucherBreakdown{}, err
	}
	breakdown, err := evaluateLines(voucher, candidates)
	if err != nil {
		return VoucherBreakdown{}, err
	}

	s.logger(ctx, eventVoucherApplied, map[string]any{
		"userId":    userID,
		"voucherId": voucher.ID,
		"discount":  breakdown.Discount,
		"eligible":  len(breakdown.EligibleItems),
	})
	return breakdown, nil
}

// Evaluate runs every voucher check after the lookup against lines. Inside a unit of work the usage
// counts are read in the caller's transaction.
func (s *voucherService) Evaluate(ctx context.Context, voucher Voucher, userID string, lines []VoucherCandidate) (VoucherBreakdown, error) {
	if err := s.checkRedeemable(ctx, voucher, userID); err != nil {
		return VoucherBreakdown{}, err
	}
	return evaluateLines(voucher, lines)
}

func (s *voucherService) Snapshot(ctx context.Context, userID, code string) (VoucherSnapshot, error) {
	voucher, err := s.lookupCode(ctx, code)
	if err != nil {
		return VoucherSnapshot{}, err
	}
	count, err := s.usage.Count(ctx, voucher.ID, strings.TrimSpace(userID))
	if err != nil {
		return VoucherSnapshot{}, err
	}

	snapshot := VoucherSnapshot{
		Code:            voucher.Code,
		IsValid:         true,
		DiscountType:    voucher.DiscountType,
		Value:           voucher.Value,
		MinOrderValue:   voucher.MinOrderValue,
		CurrentUsage:    count.Total,
		UserUsage:       count.User,
		TotalUsageLimit: voucher.TotalUsageLimit,
		PerUserLimit:    voucher.PerUserLimit,
		StartTime:       voucher.StartTime,
		EndTime:         voucher.EndTime,
	}
	if voucher.TotalUsageLimit > 0 {
		remaining := max(voucher.TotalUsageLimit-count.Total, 0)
		snapshot.Remaining = &remaining
	}
	if err := redeemableError(voucher, count, s.clock()); err != nil {
		snapshot.IsValid = false
		snapshot.Reason = voucherReason(err)
	}
	return snapshot, nil
}

func (s *voucherService) UpsertVoucher(ctx context.Context, cmd UpsertVoucherCommand) (Voucher, error) {
	code := textutil.NormalizeCode(cmd.Code)
	discountType := domain.DiscountType(strings.TrimSpace(cmd.DiscountType))
	switch {
	case code == "":
		return Voucher{}, fmt.Errorf("%w: code is required", ErrInvalidArgument)
	case !discountType.Valid():
		return Voucher{}, fmt.Errorf("%w: discount type must be Percent or Fixed", ErrInvalidArgument)
	case !cmd.Value.IsPositive():
		return Voucher{}, fmt.Errorf("%w: value must be positive", ErrInvalidArgument)
	case discountType == domain.DiscountTypePercent && cmd.Value.GreaterThan(hundred):
		return Voucher{}, fmt.Errorf("%w: percent value must not exceed 100", ErrInvalidArgument)
	case discountType == domain.DiscountTypeFixed && !cmd.Value.IsInteger():
		return Voucher{}, fmt.Errorf("%w: fixed value must be whole minor units", ErrInvalidArgument)
	case !cmd.StartTime.IsZero() && !cmd.EndTime.IsZero() && cmd.EndTime.Before(cmd.StartTime):
		return Voucher{}, fmt.Errorf("%w: end time precedes start time", ErrInvalidArgument)
	case cmd.MinOrderValue < 0 || cmd.TotalUsageLimit < 0:
		return Voucher{}, fmt.Errorf("%w: limits must not be negative", ErrInvalidArgument)
	case cmd.PerUserLimit < 1:
		return Voucher{}, fmt.Errorf("%w: per-user limit must be at least 1", ErrInvalidArgument)
	}

	now := s.clock()
	voucher := Voucher{
		ID:              s.newID(),
		Code:            code,
		DiscountType:    discountType,
		Value:           cmd.Value,
		StartTime:       cmd.StartTime.UTC(),
		EndTime:         cmd.EndTime.UTC(),
		MinOrderValue:   cmd.MinOrderValue,
		TotalUsageLimit: cmd.TotalUsageLimit,
		PerUserLimit:    cmd.PerUserLimit,
		IsActive:        cmd.IsActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	existing, err := s.vouchers.GetByCode(ctx, code)
	switch {
	case err == nil:
		voucher.ID = existing.ID
		voucher.CreatedAt = existing.CreatedAt
	case !isRepoNotFound(err):
		return Voucher{}, err
	}

	saved, err := s.vouchers.Upsert(ctx, voucher)
	if err != nil {
		return Voucher{}, err
	}
	s.logger(ctx, eventVoucherSynced, map[string]any{"voucherId": saved.ID, "code": saved.Code})
	return saved, nil
}

func (s *voucherService) lookupCode(ctx context.Context, code string) (Voucher, error) {
	normalised := textutil.NormalizeCode(code)
	if normalised == "" {
		return Voucher{}, fmt.Errorf("%w: voucher code is required", ErrInvalidArgument)
	}
	voucher, err := s.vouchers.GetByCode(ctx, normalised)
	if err != nil {
		if isRepoNotFound(err) {
			return Voucher{}, newVoucherError(ErrVoucherNotFound, normalised)
		}
		return Voucher{}, err
	}
	return voucher, nil
}

// checkRedeemable covers the active flag, the validity window and both usage limits.
func (s *voucherService) checkRedeemable(ctx context.Context, voucher Voucher, userID string) error {
	// The active flag and the window are decided before usage is counted.
	if err := redeemableError(voucher, domain.VoucherUsageCount{}, s.clock()); err != nil && !errors.Is(err, ErrUserLimitReached) {
		return err
	}
	count, err := s.usage.Count(ctx, voucher.ID, userID)
	if err != nil {
		return err
	}
	return redeemableError(voucher, count, s.clock())
}

func redeemableError(voucher Voucher, count domain.VoucherUsageCount, now time.Time) error {
	switch {
	case !voucher.IsActive:
		return newVoucherError(ErrVoucherInactive, voucher.Code)
	case !voucher.InWindow(now):
		return newVoucherError(ErrVoucherOutOfWindow, voucher.Code)
	case voucher.TotalUsageLimit > 0 && count.Total >= voucher.TotalUsageLimit:
		return newVoucherError(ErrVoucherExhausted, voucher.Code)
	case count.User >= voucher.PerUserLimit:
		return newVoucherError(ErrUserLimitReached, voucher.Code)
	}
	return nil
}

// selectedCandidates resolves the selected IDs against the user's cart. IDs that are not in the cart
// are ignored.
func (s *voucherService) selectedCandidates(ctx context.Context, userID string, selectedItemIDs []string) ([]VoucherCandidate, error) {
	selected := make(map[string]struct{}, len(selectedItemIDs))
	for _, id := range selectedItemIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			selected[trimmed] = struct{}{}
		}
	}
	if len(selected) == 0 {
		return nil, newVoucherError(ErrNoItemsSelected, "")
	}

	items, err := s.carts.ListItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	chosen := make([]CartItem, 0, len(selected))
	ids := make([]string, 0, len(selected))
	for _, item := range items {
		if _, ok := selected[item.ID]; ok {
			chosen = append(chosen, item)
			ids = append(ids, item.ProductID)
		}
	}
	if len(chosen) == 0 {
		return nil, newVoucherError(ErrNoItemsSelected, "")
	}

	products, err := s.products.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	candidates := make([]VoucherCandidate, 0, len(chosen))
	for _, item := range chosen {
		candidate := VoucherCandidate{
			LineID:    item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPriceSnapshot,
		}
		if product, ok := products[item.ProductID]; ok {
			candidate.Product = &product
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

// evaluateLines partitions lines, applies the minimum order rule and computes the discount.
func evaluateLines(voucher Voucher, lines []VoucherCandidate) (VoucherBreakdown, error) {
	if len(lines) == 0 {
		return VoucherBreakdown{}, newVoucherError(ErrNoItemsSelected, voucher.Code)
	}

	breakdown := VoucherBreakdown{
		VoucherID:    voucher.ID,
		Code:         voucher.Code,
		DiscountType: voucher.DiscountType,
		Value:        voucher.Value,
	}
	for _, line := range lines {
		if reason := ineligibleReason(line.Product); reason != "" {
			name := ""
			if line.Product != nil {
				name = line.Product.Name
			}
			breakdown.IneligibleItems = append(breakdown.IneligibleItems, IneligibleItem{
				LineID:    line.LineID,
				ProductID: line.ProductID,
				Name:      name,
				Reason:    reason,
			})
			continue
		}
		total := line.UnitPrice * int64(line.Quantity)
		breakdown.EligibleItems = append(breakdown.EligibleItems, EligibleItem{
			LineID:    line.LineID,
			ProductID: line.ProductID,
			Name:      line.Product.Name,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			LineTotal: total,
		})
		breakdown.SubtotalEligible += total
	}

	if len(breakdown.EligibleItems) == 0 {
		verr := newVoucherError(ErrNoEligibleItems, voucher.Code)
		verr.Ineligible = breakdown.IneligibleItems
		return VoucherBreakdown{}, verr
	}
	if breakdown.SubtotalEligible < voucher.MinOrderValue {
		return VoucherBreakdown{}, newVoucherError(ErrBelowMinimumOrder, voucher.Code)
	}

	breakdown.Discount = computeDiscount(voucher, breakdown.SubtotalEligible)
	breakdown.FinalTotal = breakdown.SubtotalEligible - breakdown.Discount
	return breakdown, nil
}

func ineligibleReason(product *Product) string {
	switch {
	case product == nil:
		return reasonProductNotFound
	case !product.IsActive:
		return product.Name + " — Product is inactive"
	case product.IsOnSale:
		return product.Name + " — Product is on sale"
	case product.IsDiscounted():
		return product.Name + " — Product is discounted"
	case product.NoVoucherTag:
		return product.Name + " — Product is excluded from vouchers"
	}
	return ""
}

// computeDiscount never returns more than subtotal. Percent discounts round half up to minor units.
func computeDiscount(voucher Voucher, subtotal int64) int64 {
	if subtotal <= 0 || !voucher.Value.IsPositive() {
		return 0
	}
	base := decimal.NewFromInt(subtotal)
	var discount decimal.Decimal
	switch voucher.DiscountType {
	case domain.DiscountTypePercent:
		discount = base.Mul(voucher.Value).Div(hundred).Round(0)
	case domain.DiscountTypeFixed:
		discount = voucher.Value.Floor()
	default:
		return 0
	}
	if discount.GreaterThan(base) {
		return subtotal
	}
	return discount.IntPart()
}

func voucherReason(err error) string {
	switch {
	case errors.Is(err, ErrVoucherInactive):
		return "Voucher is inactive"
	case errors.Is(err, ErrVoucherOutOfWindow):
		return "Voucher is not valid at this time"
	case errors.Is(err, ErrVoucherExhausted):
		return "Voucher usage limit reached"
	case errors.Is(err, ErrUserLimitReached):
		return "You have already used this voucher the maximum number of times"
	}
	return err.Error()
}
