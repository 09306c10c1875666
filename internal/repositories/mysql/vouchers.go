package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

const voucherColumns = `id, code, discount_type, value, start_time, end_time, min_order_value, total_usage_limit,
	per_user_limit, is_active, created_at, updated_at`

// VoucherRepository stores voucher definitions. Codes carry a unique index.
type VoucherRepository struct {
	db *sqldb.DB
}

var _ repositories.VoucherRepository = (*VoucherRepository)(nil)

func scanVoucher(row rowScanner) (domain.Voucher, error) {
	var (
		v            domain.Voucher
		discountType string
		start, end   sql.NullTime
	)
	err := row.Scan(&v.ID, &v.Code, &discountType, &v.Value, &start, &end, &v.MinOrderValue, &v.TotalUsageLimit,
		&v.PerUserLimit, &v.IsActive, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return domain.Voucher{}, err
	}
	v.DiscountType = domain.DiscountType(discountType)
	if start.Valid {
		v.StartTime = start.Time
	}
	if end.Valid {
		v.EndTime = end.Time
	}
	return v, nil
}

func (r *VoucherRepository) Get(ctx context.Context, voucherID string) (domain.Voucher, error) {
	v, err := scanVoucher(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id = ?`, voucherID))
	if err != nil {
		return domain.Voucher{}, sqldb.WrapError("vouchers.get", err)
	}
	return v, nil
}

func (r *VoucherRepository) GetByCode(ctx context.Context, code string) (domain.Voucher, error) {
	v, err := scanVoucher(r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE code = ?`, code))
	if err != nil {
		return domain.Voucher{}, sqldb.WrapError("vouchers.get_by_code", err)
	}
	return v, nil
}

func (r *VoucherRepository) Upsert(ctx context.Context, v domain.Voucher) (domain.Voucher, error) {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO vouchers (`+voucherColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			code = VALUES(code), discount_type = VALUES(discount_type), value = VALUES(value),
			start_time = VALUES(start_time), end_time = VALUES(end_time), min_order_value = VALUES(min_order_value),
			total_usage_limit = VALUES(total_usage_limit), per_user_limit = VALUES(per_user_limit),
			is_active = VALUES(is_active), updated_at = VALUES(updated_at)`,
		v.ID, v.Code, string(v.DiscountType), v.Value, zeroAsNull(v.StartTime), zeroAsNull(v.EndTime), v.MinOrderValue,
		v.TotalUsageLimit, v.PerUserLimit, v.IsActive, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return domain.Voucher{}, sqldb.WrapError("vouchers.upsert", err)
	}
	return v, nil
}

func zeroAsNull(t time.Time) sql.NullTime {
	return nullTime(&t)
}

// VoucherUsageRepository stores the redemption log.
type VoucherUsageRepository struct {
	db *sqldb.DB
}

var _ repositories.VoucherUsageRepository = (*VoucherUsageRepository)(nil)

// Count locks the voucher row first when called inside a transaction, so two orders redeeming the
// same voucher count and append one after the other.
func (r *VoucherUsageRepository) Count(ctx context.Context, voucherID, userID string) (domain.VoucherUsageCount, error) {
	const op = "voucher_usages.count"
	conn := r.db.Conn(ctx)
	if r.db.InTx(ctx) {
		var locked string
		err := conn.QueryRowContext(ctx, `SELECT id FROM vouchers WHERE id = ? FOR UPDATE`, voucherID).Scan(&locked)
		if err != nil {
			return domain.VoucherUsageCount{}, sqldb.WrapError(op, err)
		}
	}

	var count domain.VoucherUsageCount
	err := conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN user_id = ? THEN 1 ELSE 0 END), 0)
		FROM voucher_usages WHERE voucher_id = ?`, userID, voucherID).Scan(&count.Total, &count.User)
	if err != nil {
		return domain.VoucherUsageCount{}, sqldb.WrapError(op, err)
	}
	return count, nil
}

func (r *VoucherUsageRepository) Append(ctx context.Context, usage domain.VoucherUsage) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO voucher_usages (id, voucher_id, user_id, order_id, discount_amount, used_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		usage.ID, usage.VoucherID, usage.UserID, usage.OrderID, usage.DiscountAmount, usage.UsedAt,
	)
	return sqldb.WrapError("voucher_usages.append", err)
}
