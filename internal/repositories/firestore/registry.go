// Package firestore implements the repositories on Cloud Firestore. Multi-document changes run in
// Firestore transactions carried through the context, so every read happens before the first write.
package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

// Registry wires the Firestore repositories against one provider.
type Registry struct {
	provider     *pfirestore.Provider
	products     *ProductRepository
	carts        *CartRepository
	orders       *OrderRepository
	vouchers     *VoucherRepository
	voucherUsage *VoucherUsageRepository
	addresses    *AddressRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs every repository. Extra checks join the readiness report.
func NewRegistry(provider *pfirestore.Provider, extraChecks ...repositories.DependencyCheck) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry: provider is required")
	}
	reg := &Registry{provider: provider}

	var err error
	if reg.products, err = NewProductRepository(provider); err != nil {
		return nil, err
	}
	if reg.carts, err = NewCartRepository(provider); err != nil {
		return nil, err
	}
	if reg.orders, err = NewOrderRepository(provider); err != nil {
		return nil, err
	}
	if reg.vouchers, err = NewVoucherRepository(provider); err != nil {
		return nil, err
	}
	if reg.voucherUsage, err = NewVoucherUsageRepository(provider); err != nil {
		return nil, err
	}
	if reg.addresses, err = NewAddressRepository(provider); err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyCheck{{
		Name:    "firestore",
		Timeout: 1500 * time.Millisecond,
		Check:   reg.ping,
	}}, extraChecks...)
	reg.health, err = repositories.NewDependencyHealthRepository(checks, repositories.WithBackendName("firestore"))
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Registry) ping(ctx context.Context) error { return r.provider.Ping(ctx) }

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository         { return r.products }
func (r *Registry) Carts() repositories.CartRepository               { return r.carts }
func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) Vouchers() repositories.VoucherRepository         { return r.vouchers }
func (r *Registry) VoucherUsage() repositories.VoucherUsageRepository { return r.voucherUsage }
func (r *Registry) Addresses() repositories.AddressRepository         { return r.addresses }
func (r *Registry) Health() repositories.HealthRepository             { return r.health }

// RunInTx runs fn inside a Firestore transaction. fn may run more than once when Firestore retries
// after contention.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		return fn(ctx)
	})
}
