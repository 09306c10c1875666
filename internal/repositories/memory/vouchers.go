package memory

import (
	"context"
	"errors"
	"strings"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// VoucherRepository stores voucher definitions keyed by ID with a unique code.
type VoucherRepository struct {
	store *Store
}

var _ repositories.VoucherRepository = (*VoucherRepository)(nil)

func (r *VoucherRepository) Get(ctx context.Context, voucherID string) (domain.Voucher, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	voucher, ok := r.store.data.vouchers[voucherID]
	if !ok {
		return domain.Voucher{}, notFound("vouchers.get")
	}
	return voucher, nil
}

func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (domain.Voucher, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	for _, voucher := range r.store.data.vouchers {
		if voucher.Code == code {
			return voucher, nil
		}
	}
	return domain.Voucher{}, notFound("vouchers.get_by_code")
}

func (r *VoucherRepository) Upsert(ctx context.Context, voucher domain.Voucher) (domain.Voucher, error) {
	if strings.TrimSpace(voucher.ID) == "" {
		return domain.Voucher{}, errors.New("vouchers.upsert: id is required")
	}
	unlock := r.store.lock(ctx)
	defer unlock()

	for id, existing := range r.store.data.vouchers {
		if id != voucher.ID && existing.Code == voucher.Code {
			return domain.Voucher{}, conflict("vouchers.upsert", errors.New("voucher code already exists"))
		}
	}
	r.store.data.vouchers[voucher.ID] = voucher
	return voucher, nil
}

// VoucherUsageRepository stores the redemption log.
type VoucherUsageRepository struct {
	store *Store
}

var _ repositories.VoucherUsageRepository = (*VoucherUsageRepository)(nil)

func (r *VoucherUsageRepository) Count(ctx context.Context, voucherID, userID string) (domain.VoucherUsageCount, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	var count domain.VoucherUsageCount
	for _, usage := range r.store.data.usages {
		if usage.VoucherID != voucherID {
			continue
		}
		count.Total++
		if usage.UserID == userID {
			count.User++
		}
	}
	return count, nil
}

func (r *VoucherUsageRepository) Append(ctx context.Context, usage domain.VoucherUsage) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	r.store.data.usages = append(r.store.data.usages, usage)
	return nil
}
