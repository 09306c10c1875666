package mysql

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

const addressColumns = `id, user_id, label, recipient, line1, line2, city, state, postal_code, country, phone,
	is_primary, created_at, updated_at`

// AddressRepository stores user addresses.
type AddressRepository struct {
	db *sqldb.DB
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

func scanAddress(row rowScanner) (domain.Address, error) {
	var a domain.Address
	err := row.Scan(&a.ID, &a.UserID, &a.Label, &a.Recipient, &a.Line1, &a.Line2, &a.City, &a.State, &a.PostalCode,
		&a.Country, &a.Phone, &a.IsPrimary, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT `+addressColumns+` FROM addresses WHERE user_id = ?
		ORDER BY is_primary DESC, created_at, id`, userID)
	if err != nil {
		return nil, sqldb.WrapError("addresses.list", err)
	}
	defer rows.Close()

	out := make([]domain.Address, 0)
	for rows.Next() {
		addr, err := scanAddress(rows)
		if err != nil {
			return nil, sqldb.WrapError("addresses.list", err)
		}
		out = append(out, addr)
	}
	if err := rows.Err(); err != nil {
		return nil, sqldb.WrapError("addresses.list", err)
	}
	return out, nil
}

func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = ? AND user_id = ?`
	if r.db.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	addr, err := scanAddress(r.db.Conn(ctx).QueryRowContext(ctx, query, addressID, userID))
	if err != nil {
		return domain.Address{}, sqldb.WrapError("addresses.get", err)
	}
	return addr, nil
}

func (r *AddressRepository) Insert(ctx context.Context, a domain.Address) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO addresses (`+addressColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Label, a.Recipient, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone,
		a.IsPrimary, a.CreatedAt, a.UpdatedAt,
	)
	return sqldb.WrapError("addresses.insert", err)
}

func (r *AddressRepository) Update(ctx context.Context, a domain.Address) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `
		UPDATE addresses SET label = ?, recipient = ?, line1 = ?, line2 = ?, city = ?, state = ?, postal_code = ?,
			country = ?, phone = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		a.Label, a.Recipient, a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country, a.Phone, a.UpdatedAt,
		a.ID, a.UserID,
	)
	if err != nil {
		return sqldb.WrapError("addresses.update", err)
	}
	return requireAffected("addresses.update", res)
}

func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM addresses WHERE id = ? AND user_id = ?`, addressID, userID)
	if err != nil {
		return sqldb.WrapError("addresses.delete", err)
	}
	return requireAffected("addresses.delete", res)
}

func (r *AddressRepository) ClearPrimary(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx,
		`UPDATE addresses SET is_primary = 0, updated_at = ? WHERE user_id = ? AND is_primary = 1`, now, userID)
	return sqldb.WrapError("addresses.clear_primary", err)
}

func (r *AddressRepository) SetPrimary(ctx context.Context, userID, addressID string, now time.Time) error {
	const op = "addresses.set_primary"
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		var id string
		if err := conn.QueryRowContext(ctx,
			`SELECT id FROM addresses WHERE id = ? AND user_id = ? FOR UPDATE`, addressID, userID).Scan(&id); err != nil {
			return sqldb.WrapError(op, err)
		}
		if _, err := conn.ExecContext(ctx,
			`UPDATE addresses SET is_primary = 0, updated_at = ? WHERE user_id = ? AND is_primary = 1 AND id <> ?`,
			now, userID, addressID); err != nil {
			return sqldb.WrapError(op, err)
		}
		_, err := conn.ExecContext(ctx,
			`UPDATE addresses SET is_primary = 1, updated_at = ? WHERE id = ?`, now, addressID)
		return sqldb.WrapError(op, err)
	})
}
