// Package sqldb wraps database/sql with the MySQL driver, context-scoped transactions and
// repository error classification.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/hanko-field/commerce/internal/platform/config"
)

const (
	defaultTxAttempts  = 3
	defaultPingTimeout = 5 * time.Second
)

// Querier is the subset of *sql.DB and *sql.Tx used by repositories.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// DB is a MySQL connection pool with unit-of-work support.
type DB struct {
	db       *sql.DB
	attempts int
}

// Open parses the DSN, forces UTC time parsing and configures the pool.
func Open(ctx context.Context, cfg config.MySQLConfig) (*DB, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("sqldb: dsn is required")
	}
	driverCfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("sqldb: parse dsn: %w", err)
	}
	driverCfg.ParseTime = true
	driverCfg.Loc = time.UTC
	// RowsAffected must count matched rows so an update that rewrites identical values still
	// proves the row exists.
	driverCfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(driverCfg)
	if err != nil {
		return nil, fmt.Errorf("sqldb: connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	wrapped := New(db)
	if err := wrapped.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return wrapped, nil
}

// New wraps an existing pool.
func New(db *sql.DB) *DB {
	return &DB{db: db, attempts: defaultTxAttempts}
}

// Conn returns the transaction bound to ctx, or the pool when ctx carries none.
func (d *DB) Conn(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return d.db
}

// InTx reports whether ctx carries a transaction.
func (d *DB) InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok && tx != nil
}

// RunInTx executes fn inside a transaction. Nested calls join the outer transaction. Deadlocks and
// lock wait timeouts are retried.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("sqldb: transaction function is nil")
	}
	if d.InTx(ctx) {
		return fn(ctx)
	}

	var err error
	for attempt := 0; attempt < d.attempts; attempt++ {
		err = d.runOnce(ctx, fn)
		if err == nil || !isRetryable(err) {
			return err
		}
	}
	return err
}

func (d *DB) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapError("begin", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return WrapError("commit", tx.Commit())
}

// Ping verifies connectivity.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	return WrapError("ping", d.db.PingContext(ctx))
}

// Close releases the pool.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Placeholders returns "?, ?, ..." with n markers.
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
