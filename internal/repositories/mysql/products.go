package mysql

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

const productColumns = `id, name, price, discount_price, stock, is_active, is_on_sale, no_voucher_tag, updated_at`

// ProductRepository stores products in the products table.
type ProductRepository struct {
	db *sqldb.DB
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p        domain.Product
		discount sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &discount, &p.Stock, &p.IsActive, &p.IsOnSale, &p.NoVoucherTag, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	if discount.Valid {
		value := discount.Int64
		p.DiscountPrice = &value
	}
	return p, nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (domain.Product, error) {
	row := r.db.Conn(ctx).QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, productID)
	product, err := scanProduct(row)
	if err != nil {
		return domain.Product{}, sqldb.WrapError("products.get", err)
	}
	return product, nil
}

func (r *ProductRepository) GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(productIDs))
	if len(productIDs) == 0 {
		return out, nil
	}
	args := make([]any, 0, len(productIDs))
	for _, id := range productIDs {
		args = append(args, id)
	}
	rows, err := r.db.Conn(ctx).QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+sqldb.Placeholders(len(args))+`)`, args...)
	if err != nil {
		return nil, sqldb.WrapError("products.get_many", err)
	}
	defer rows.Close()
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, sqldb.WrapError("products.get_many", err)
		}
		out[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, sqldb.WrapError("products.get_many", err)
	}
	return out, nil
}

func (r *ProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	var discount sql.NullInt64
	if product.DiscountPrice != nil {
		discount = sql.NullInt64{Int64: *product.DiscountPrice, Valid: true}
	}
	_, err := r.db.Conn(ctx).ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name), price = VALUES(price), discount_price = VALUES(discount_price),
			stock = VALUES(stock), is_active = VALUES(is_active), is_on_sale = VALUES(is_on_sale),
			no_voucher_tag = VALUES(no_voucher_tag), updated_at = VALUES(updated_at)`,
		product.ID, product.Name, product.Price, discount, product.Stock,
		product.IsActive, product.IsOnSale, product.NoVoucherTag, product.UpdatedAt,
	)
	if err != nil {
		return domain.Product{}, sqldb.WrapError("products.upsert", err)
	}
	return product, nil
}

// DecrementStock issues one conditional UPDATE per product, in ID order so concurrent orders lock rows
// in the same sequence. A line that matches no row is classified by reading the product.
func (r *ProductRepository) DecrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	const op = "products.decrement_stock"
	lines = sortedLines(lines)

	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		for _, line := range lines {
			res, err := conn.ExecContext(ctx, `
				UPDATE products SET stock = stock - ?, updated_at = ?
				WHERE id = ? AND stock >= ? AND is_active = 1`,
				line.Quantity, now, line.ProductID, line.Quantity)
			if err != nil {
				return sqldb.WrapError(op, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return sqldb.WrapError(op, err)
			}
			if affected > 0 {
				continue
			}
			if stockErr := r.classify(ctx, op, line); stockErr != nil {
				return stockErr
			}
		}
		return nil
	})
}

func (r *ProductRepository) classify(ctx context.Context, op string, line domain.StockLine) error {
	var (
		stock  int
		active bool
	)
	err := r.db.Conn(ctx).QueryRowContext(ctx, `SELECT stock, is_active FROM products WHERE id = ?`, line.ProductID).
		Scan(&stock, &active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return repositories.CheckStock(op, line.ProductID, false, false, 0, line.Quantity)
	case err != nil:
		return sqldb.WrapError(op, err)
	}
	if stockErr := repositories.CheckStock(op, line.ProductID, true, active, stock, line.Quantity); stockErr != nil {
		return stockErr
	}
	return nil
}

func (r *ProductRepository) IncrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	const op = "products.increment_stock"
	lines = sortedLines(lines)

	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		conn := r.db.Conn(ctx)
		for _, line := range lines {
			res, err := conn.ExecContext(ctx,
				`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`,
				line.Quantity, now, line.ProductID)
			if err != nil {
				return sqldb.WrapError(op, err)
			}
			if affected, err := res.RowsAffected(); err != nil {
				return sqldb.WrapError(op, err)
			} else if affected == 0 {
				return repositories.NewStockError(op, repositories.StockErrorNotFound, line.ProductID, line.Quantity, 0)
			}
		}
		return nil
	})
}

func sortedLines(lines []domain.StockLine) []domain.StockLine {
	lines = domain.AggregateStockLines(lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines
}
