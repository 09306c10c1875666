// Package mysql implements the repositories on MySQL. Stock is decremented with a conditional UPDATE
// so concurrent orders can never oversell a product.
package mysql

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
)

//go:embed schema.sql
var schema string

// EnsureSchema creates missing tables. Statements are idempotent.
func EnsureSchema(ctx context.Context, db *sqldb.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Conn(ctx).ExecContext(ctx, stmt); err != nil {
			return sqldb.WrapError("schema", fmt.Errorf("%w: %s", err, firstLine(stmt)))
		}
	}
	return nil
}

func firstLine(stmt string) string {
	if idx := strings.IndexByte(stmt, '\n'); idx > 0 {
		return stmt[:idx]
	}
	return stmt
}

// Registry wires the MySQL repositories against one pool.
type Registry struct {
	db     *sqldb.DB
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the registry. Extra checks (for example Redis) join the readiness report.
func NewRegistry(db *sqldb.DB, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("mysql registry: db is required")
	}
	checks := append([]repositories.DependencyCheck{{Name: "mysql", Check: db.Ping}}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithBackendName("mysql"))
	if err != nil {
		return nil, err
	}
	return &Registry{db: db, health: health}, nil
}

func (r *Registry) Close(context.Context) error { return r.db.Close() }

func (r *Registry) Products() repositories.ProductRepository { return &ProductRepository{db: r.db} }
func (r *Registry) Carts() repositories.CartRepository       { return &CartRepository{db: r.db} }
func (r *Registry) Orders() repositories.OrderRepository     { return &OrderRepository{db: r.db} }
func (r *Registry) Vouchers() repositories.VoucherRepository { return &VoucherRepository{db: r.db} }
func (r *Registry) VoucherUsage() repositories.VoucherUsageRepository {
	return &VoucherUsageRepository{db: r.db}
}
func (r *Registry) Addresses() repositories.AddressRepository { return &AddressRepository{db: r.db} }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}
