package mysql

import (
	"context"
	"database/sql"
	"errors"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

const cartColumns = `id, user_id, product_id, quantity, unit_price_snapshot, created_at, updated_at`

// CartRepository stores cart rows with a unique (user_id, product_id) key.
type CartRepository struct {
	db *sqldb.DB
}

var _ repositories.CartRepository = (*CartRepository)(nil)

func scanCartItem(row rowScanner) (domain.CartItem, error) {
	var item domain.CartItem
	err := row.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.UnitPriceSnapshot, &item.CreatedAt, &item.UpdatedAt)
	return item, err
}

func (r *CartRepository) ListItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+cartColumns+` FROM cart_items WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, sqldb.WrapError("cart.list_items", err)
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0)
	for rows.Next() {
		item, err := scanCartItem(rows)
		if err != nil {
			return nil, sqldb.WrapError("cart.list_items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, sqldb.WrapError("cart.list_items", err)
	}
	return items, nil
}

func (r *CartRepository) GetItem(ctx context.Context, userID, itemID string) (domain.CartItem, error) {
	row := r.db.Conn(ctx).QueryRowContext(ctx,
		`SELECT `+cartColumns+` FROM cart_items WHERE id = ? AND user_id = ?`, itemID, userID)
	item, err := scanCartItem(row)
	if err != nil {
		return domain.CartItem{}, sqldb.WrapError("cart.get_item", err)
	}
	return item, nil
}

func (r *CartRepository) FindByProduct(ctx context.Context, userID, productID string) (domain.CartItem, bool, error) {
	query := `SELECT ` + cartColumns + ` FROM cart_items WHERE user_id = ? AND product_id = ?`
	if r.db.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	item, err := scanCartItem(r.db.Conn(ctx).QueryRowContext(ctx, query, userID, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CartItem{}, false, nil
	}
	if err != nil {
		return domain.CartItem{}, false, sqldb.WrapError("cart.find_by_product", err)
	}
	return item, true, nil
}

func (r *CartRepository) SaveItem(ctx context.Context, item domain.CartItem) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO cart_items (`+cartColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			quantity = VALUES(quantity),
			unit_price_snapshot = VALUES(unit_price_snapshot),
			updated_at = VALUES(updated_at)`,
		item.ID, item.UserID, item.ProductID, item.Quantity, item.UnitPriceSnapshot, item.CreatedAt, item.UpdatedAt,
	)
	return sqldb.WrapError("cart.save_item", err)
}

func (r *CartRepository) DeleteItem(ctx context.Context, userID, itemID string) error {
	res, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE id = ? AND user_id = ?`, itemID, userID)
	if err != nil {
		return sqldb.WrapError("cart.delete_item", err)
	}
	return requireAffected("cart.delete_item", res)
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.db.Conn(ctx).ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = ?`, userID)
	return sqldb.WrapError("cart.clear", err)
}

func requireAffected(op string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return sqldb.WrapError(op, err)
	}
	if affected == 0 {
		return sqldb.WrapError(op, sqldb.ErrNoRows)
	}
	return nil
}
