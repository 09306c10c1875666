package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType distinguishes percentage vouchers from fixed-amount vouchers.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "Percent"
	DiscountTypeFixed   DiscountType = "Fixed"
)

// Valid reports whether the discount type is known.
func (t DiscountType) Valid() bool {
	return t == DiscountTypePercent || t == DiscountTypeFixed
}

// Voucher holds the redemption rules of a discount code. TotalUsageLimit 0 means unlimited.
type Voucher struct {
	ID              string
	Code            string
	DiscountType    DiscountType
	Value           decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	MinOrderValue   int64
	TotalUsageLimit int
	PerUserLimit    int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InWindow reports whether now falls inside [StartTime, EndTime].
func (v Voucher) InWindow(now time.Time) bool {
	if !v.StartTime.IsZero() && now.Before(v.StartTime) {
		return false
	}
	if !v.EndTime.IsZero() && now.After(v.EndTime) {
		return false
	}
	return true
}

// VoucherUsage is the append-only record of a redemption.
type VoucherUsage struct {
	ID             string
	VoucherID      string
	UserID         string
	OrderID        string
	DiscountAmount int64
	UsedAt         time.Time
}

// VoucherUsageCount carries the two counters the usage limits are checked against.
type VoucherUsageCount struct {
	Total int
	User  int
}

// VoucherCandidate is one line the voucher engine evaluates.
type VoucherCandidate struct {
	LineID    string
	ProductID string
	Product   *Product
	Quantity  int
	UnitPrice int64
}

// EligibleItem is a line the discount applies to.
type EligibleItem struct {
	LineID    string
	ProductID string
	Name      string
	Quantity  int
	UnitPrice int64
	LineTotal int64
}

// IneligibleItem is a line excluded from the discount, with a display reason.
type IneligibleItem struct {
	LineID    string
	ProductID string
	Name      string
	Reason    string
}

// VoucherBreakdown is the discount preview for a set of lines.
type VoucherBreakdown struct {
	VoucherID        string
	Code             string
	DiscountType     DiscountType
	Value            decimal.Decimal
	EligibleItems    []EligibleItem
	IneligibleItems  []IneligibleItem
	SubtotalEligible int64
	Discount         int64
	FinalTotal       int64
}

// VoucherSnapshot summarises whether a code can currently be redeemed.
type VoucherSnapshot struct {
	Code            string
	IsValid         bool
	Reason          string
	DiscountType    DiscountType
	Value           decimal.Decimal
	MinOrderValue   int64
	CurrentUsage    int
	UserUsage       int
	TotalUsageLimit int
	PerUserLimit    int
	Remaining       *int
	StartTime       time.Time
	EndTime         time.Time
}
