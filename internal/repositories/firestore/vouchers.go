package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	vouchersCollection      = "vouchers"
	voucherUsagesCollection = "voucherUsages"
)

var errVoucherCodeTaken = errors.New("voucher code already exists")

// VoucherRepository stores voucher definitions. Value is kept as a decimal string so percentages
// survive the round trip exactly.
type VoucherRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[voucherDocument]
}

var _ repositories.VoucherRepository = (*VoucherRepository)(nil)

// NewVoucherRepository constructs a Firestore-backed voucher repository.
func NewVoucherRepository(provider *pfirestore.Provider) (*VoucherRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher repository requires firestore provider")
	}
	return &VoucherRepository{
		provider: provider,
		base:     pfirestore.NewCollection[voucherDocument](provider, vouchersCollection),
	}, nil
}

func (r *VoucherRepository) Get(ctx context.Context, voucherID string) (domain.Voucher, error) {
	doc, err := r.base.Get(ctx, voucherID)
	if err != nil {
		return domain.Voucher{}, err
	}
	return doc.Data.toDomain(doc.ID)
}

func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (domain.Voucher, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("code", "==", code).Limit(1)
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	if len(docs) == 0 {
		return domain.Voucher{}, pfirestore.NotFoundError("vouchers.get_by_code")
	}
	return docs[0].Data.toDomain(docs[0].ID)
}

func (r *VoucherRepository) Upsert(ctx context.Context, voucher domain.Voucher) (domain.Voucher, error) {
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
			return q.Where("code", "==", voucher.Code)
		})
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if doc.ID != voucher.ID {
				return pfirestore.ConflictError("vouchers.upsert", errVoucherCodeTaken)
			}
		}
		// usageCount is owned by the usage log; merge keeps it intact.
		return r.base.Set(ctx, voucher.ID, newVoucherDocument(voucher), firestore.Merge(voucherFields...))
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	return voucher, nil
}

// VoucherUsageRepository stores redemptions in voucherUsages and keeps a usageCount counter on the
// voucher document. Count reads the voucher document so that a transaction appending a usage
// conflicts with every other transaction counting the same voucher.
type VoucherUsageRepository struct {
	provider *pfirestore.Provider
	vouchers *pfirestore.Collection[voucherDocument]
	usages   *pfirestore.Collection[voucherUsageDocument]
}

var _ repositories.VoucherUsageRepository = (*VoucherUsageRepository)(nil)

// NewVoucherUsageRepository constructs a Firestore-backed usage log.
func NewVoucherUsageRepository(provider *pfirestore.Provider) (*VoucherUsageRepository, error) {
	if provider == nil {
		return nil, errors.New("voucher usage repository requires firestore provider")
	}
	return &VoucherUsageRepository{
		provider: provider,
		vouchers: pfirestore.NewCollection[voucherDocument](provider, vouchersCollection),
		usages:   pfirestore.NewCollection[voucherUsageDocument](provider, voucherUsagesCollection),
	}, nil
}

func (r *VoucherUsageRepository) Count(ctx context.Context, voucherID, userID string) (domain.VoucherUsageCount, error) {
	if _, err := r.vouchers.Get(ctx, voucherID); err != nil {
		return domain.VoucherUsageCount{}, err
	}
	docs, err := r.usages.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("voucherId", "==", voucherID)
	})
	if err != nil {
		return domain.VoucherUsageCount{}, err
	}
	count := domain.VoucherUsageCount{Total: len(docs)}
	for _, doc := range docs {
		if doc.Data.UserID == userID {
			count.User++
		}
	}
	return count, nil
}

func (r *VoucherUsageRepository) Append(ctx context.Context, usage domain.VoucherUsage) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		if err := r.usages.Create(ctx, usage.ID, voucherUsageDocument{
			VoucherID:      usage.VoucherID,
			UserID:         usage.UserID,
			OrderID:        usage.OrderID,
			DiscountAmount: usage.DiscountAmount,
			UsedAt:         usage.UsedAt.UTC(),
		}); err != nil {
			return err
		}
		return r.vouchers.Update(ctx, usage.VoucherID, []firestore.Update{
			{Path: "usageCount", Value: firestore.Increment(1)},
		})
	})
}

var voucherFields = []firestore.FieldPath{
	{"code"}, {"discountType"}, {"value"}, {"startTime"}, {"endTime"}, {"minOrderValue"},
	{"totalUsageLimit"}, {"perUserLimit"}, {"isActive"}, {"createdAt"}, {"updatedAt"},
}

type voucherDocument struct {
	Code            string    `firestore:"code"`
	DiscountType    string    `firestore:"discountType"`
	Value           string    `firestore:"value"`
	StartTime       time.Time `firestore:"startTime"`
	EndTime         time.Time `firestore:"endTime"`
	MinOrderValue   int64     `firestore:"minOrderValue"`
	TotalUsageLimit int       `firestore:"totalUsageLimit"`
	PerUserLimit    int       `firestore:"perUserLimit"`
	IsActive        bool      `firestore:"isActive"`
	UsageCount      int       `firestore:"usageCount"`
	CreatedAt       time.Time `firestore:"createdAt"`
	UpdatedAt       time.Time `firestore:"updatedAt"`
}

func newVoucherDocument(v domain.Voucher) voucherDocument {
	return voucherDocument{
		Code:            v.Code,
		DiscountType:    string(v.DiscountType),
		Value:           v.Value.String(),
		StartTime:       v.StartTime.UTC(),
		EndTime:         v.EndTime.UTC(),
		MinOrderValue:   v.MinOrderValue,
		TotalUsageLimit: v.TotalUsageLimit,
		PerUserLimit:    v.PerUserLimit,
		IsActive:        v.IsActive,
		CreatedAt:       v.CreatedAt.UTC(),
		UpdatedAt:       v.UpdatedAt.UTC(),
	}
}

func (d voucherDocument) toDomain(id string) (domain.Voucher, error) {
	value, err := decimal.NewFromString(d.Value)
	if err != nil {
		return domain.Voucher{}, err
	}
	return domain.Voucher{
		ID:              id,
		Code:            d.Code,
		DiscountType:    domain.DiscountType(d.DiscountType),
		Value:           value,
		StartTime:       d.StartTime,
		EndTime:         d.EndTime,
		MinOrderValue:   d.MinOrderValue,
		TotalUsageLimit: d.TotalUsageLimit,
		PerUserLimit:    d.PerUserLimit,
		IsActive:        d.IsActive,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}, nil
}

type voucherUsageDocument struct {
	VoucherID      string    `firestore:"voucherId"`
	UserID         string    `firestore:"userId"`
	OrderID        string    `firestore:"orderId"`
	DiscountAmount int64     `firestore:"discountAmount"`
	UsedAt         time.Time `firestore:"usedAt"`
}
