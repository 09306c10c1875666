// Package memory provides a process-local repository backend used for local development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

var errNotFound = errors.New("not found")

// Error implements repositories.RepositoryError for the in-memory backend.
type Error struct {
	op       string
	err      error
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.op != "" {
		return fmt.Sprintf("%s: %v", e.op, e.err)
	}
	return e.err.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

func (e *Error) IsNotFound() bool    { return e != nil && e.notFound }
func (e *Error) IsConflict() bool    { return e != nil && e.conflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op string) error {
	return &Error{op: op, err: errNotFound, notFound: true}
}

func conflict(op string, err error) error {
	return &Error{op: op, err: err, conflict: true}
}

type state struct {
	products  map[string]domain.Product
	cartItems map[string]domain.CartItem
	orders    map[string]domain.Order
	vouchers  map[string]domain.Voucher
	usages    []domain.VoucherUsage
	addresses map[string]domain.Address
}

func newState() *state {
	return &state{
		products:  make(map[string]domain.Product),
		cartItems: make(map[string]domain.CartItem),
		orders:    make(map[string]domain.Order),
		vouchers:  make(map[string]domain.Voucher),
		addresses: make(map[string]domain.Address),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.products {
		out.products[k] = cloneProduct(v)
	}
	for k, v := range s.cartItems {
		out.cartItems[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.vouchers {
		out.vouchers[k] = v
	}
	out.usages = append([]domain.VoucherUsage(nil), s.usages...)
	for k, v := range s.addresses {
		out.addresses[k] = v
	}
	return out
}

type txKey struct{}

// Store holds every collection behind one mutex. Transactions hold the mutex for their whole
// duration, so they are serialisable, and roll back by restoring a snapshot.
type Store struct {
	mu   sync.Mutex
	data *state
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{data: newState()}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the store mutex unless ctx already runs inside a transaction of this store.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// RunInTx implements repositories.UnitOfWork. Nested calls join the outer transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Registry wires every memory repository against a shared Store.
type Registry struct {
	store  *Store
	health repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs a registry over a fresh store. Extra checks join the readiness report.
func NewRegistry(extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	store := NewStore()
	checks := append([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	}, extraChecks...)
	health, err := repositories.NewDependencyHealthRepository(checks, repositories.WithBackendName("memory"))
	if err != nil {
		return nil, err
	}
	return &Registry{store: store, health: health}, nil
}

// Store exposes the backing store, mainly for seeding in tests.
func (r *Registry) Store() *Store { return r.store }

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Products() repositories.ProductRepository { return &ProductRepository{store: r.store} }
func (r *Registry) Carts() repositories.CartRepository       { return &CartRepository{store: r.store} }
func (r *Registry) Orders() repositories.OrderRepository     { return &OrderRepository{store: r.store} }
func (r *Registry) Vouchers() repositories.VoucherRepository { return &VoucherRepository{store: r.store} }
func (r *Registry) VoucherUsage() repositories.VoucherUsageRepository {
	return &VoucherUsageRepository{store: r.store}
}
func (r *Registry) Addresses() repositories.AddressRepository {
	return &AddressRepository{store: r.store}
}
func (r *Registry) Health() repositories.HealthRepository { return r.health }

func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.store.RunInTx(ctx, fn)
}
