package mysql

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/pagination"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

const orderColumns = `id, user_id, address_id, status, subtotal, discount_amount, total_amount, voucher_id,
	notes, cancel_reason, cancelled_at, cancelled_by, delivered_at, created_at, updated_at`

// OrderRepository stores orders and their items in two tables.
type OrderRepository struct {
	db *sqldb.DB
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o           domain.Order
		status      string
		voucherID   sql.NullString
		cancelledAt sql.NullTime
		deliveredAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.AddressID, &status, &o.Subtotal, &o.DiscountAmount, &o.TotalAmount, &voucherID,
		&o.Notes, &o.CancelReason, &cancelledAt, &o.CancelledBy, &deliveredAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	if voucherID.Valid {
		id := voucherID.String
		o.VoucherID = &id
	}
	if cancelledAt.Valid {
		at := cancelledAt.Time
		o.CancelledAt = &at
	}
	if deliveredAt.Valid {
		at := deliveredAt.Time
		o.DeliveredAt = &at
	}
	return o, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	const op = "orders.insert"
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		_, err := conn.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.UserID, order.AddressID, string(order.Status), order.Subtotal, order.DiscountAmount,
			order.TotalAmount, nullString(order.VoucherID), order.Notes, order.CancelReason, nullTime(order.CancelledAt),
			order.CancelledBy, nullTime(order.DeliveredAt), order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return sqldb.WrapError(op, err)
		}
		for i, item := range order.Items {
			_, err := conn.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, status, position)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID, order.ID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, string(item.Status), i,
			)
			if err != nil {
				return sqldb.WrapError(op, err)
			}
		}
		return nil
	})
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	const op = "orders.get"
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = ?`
	if r.db.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(r.db.Conn(ctx).QueryRowContext(ctx, query, orderID))
	if err != nil {
		return domain.Order{}, sqldb.WrapError(op, err)
	}
	items, err := r.loadItems(ctx, []string{order.ID})
	if err != nil {
		return domain.Order{}, sqldb.WrapError(op, err)
	}
	order.Items = items[order.ID]
	return order, nil
}

func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	const op = "orders.update"
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		res, err := conn.ExecContext(ctx, `
			UPDATE orders SET status = ?, notes = ?, cancel_reason = ?, cancelled_at = ?, cancelled_by = ?,
				delivered_at = ?, updated_at = ?
			WHERE id = ?`,
			string(order.Status), order.Notes, order.CancelReason, nullTime(order.CancelledAt), order.CancelledBy,
			nullTime(order.DeliveredAt), order.UpdatedAt, order.ID,
		)
		if err != nil {
			return sqldb.WrapError(op, err)
		}
		if err := requireAffected(op, res); err != nil {
			return err
		}
		_, err = conn.ExecContext(ctx, `UPDATE order_items SET status = ? WHERE order_id = ?`, string(order.Status), order.ID)
		return sqldb.WrapError(op, err)
	})
}

func (r *OrderRepository) ListByUser(ctx context.Context, query repositories.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	const op = "orders.list_by_user"
	cursor, err := pagination.DecodeToken(query.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	size := pagination.NormalizePageSize(query.PageSize)

	stmt := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = ?`
	args := []any{query.UserID}
	if !cursor.IsZero() {
		stmt += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	stmt += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, size+1)

	rows, err := r.db.Conn(ctx).QueryContext(ctx, stmt, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, sqldb.WrapError(op, err)
	}
	orders := make([]domain.Order, 0, size+1)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return domain.CursorPage[domain.Order]{}, sqldb.WrapError(op, err)
		}
		orders = append(orders, order)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, sqldb.WrapError(op, err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > size {
		orders = orders[:size]
		last := orders[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}

	ids := make([]string, 0, len(orders))
	for _, order := range orders {
		ids = append(ids, order.ID)
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, sqldb.WrapError(op, err)
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	page.Items = orders
	return page, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderIDs []string) (map[string][]domain.OrderItem, error) {
	out := make(map[string][]domain.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(orderIDs))
	for _, id := range orderIDs {
		args = append(args, id)
	}
	rows, err := r.db.Conn(ctx).QueryContext(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, status
		FROM order_items WHERE order_id IN (`+sqldb.Placeholders(len(args))+`)
		ORDER BY order_id, position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item   domain.OrderItem
			status string
		)
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &status); err != nil {
			return nil, err
		}
		item.Status = domain.OrderStatus(status)
		out[item.OrderID] = append(out[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil || value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}
