package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

// AddressRepository stores user addresses.
type AddressRepository struct {
	store *Store
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	out := make([]domain.Address, 0)
	for _, addr := range r.store.data.addresses {
		if addr.UserID == userID {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsPrimary != out[j].IsPrimary {
			return out[i].IsPrimary
		}
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	unlock := r.store.lock(ctx)
	defer unlock()

	addr, ok := r.store.data.addresses[addressID]
	if !ok || addr.UserID != userID {
		return domain.Address{}, notFound("addresses.get")
	}
	return addr, nil
}

func (r *AddressRepository) Insert(ctx context.Context, address domain.Address) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	if _, exists := r.store.data.addresses[address.ID]; exists {
		return conflict("addresses.insert", errors.New("address already exists"))
	}
	r.store.data.addresses[address.ID] = address
	return nil
}

func (r *AddressRepository) Update(ctx context.Context, address domain.Address) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	existing, ok := r.store.data.addresses[address.ID]
	if !ok || existing.UserID != address.UserID {
		return notFound("addresses.update")
	}
	r.store.data.addresses[address.ID] = address
	return nil
}

func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	existing, ok := r.store.data.addresses[addressID]
	if !ok || existing.UserID != userID {
		return notFound("addresses.delete")
	}
	delete(r.store.data.addresses, addressID)
	return nil
}

func (r *AddressRepository) ClearPrimary(ctx context.Context, userID string, now time.Time) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	r.clearPrimaryLocked(userID, "", now)
	return nil
}

func (r *AddressRepository) SetPrimary(ctx context.Context, userID, addressID string, now time.Time) error {
	unlock := r.store.lock(ctx)
	defer unlock()

	target, ok := r.store.data.addresses[addressID]
	if !ok || target.UserID != userID {
		return notFound("addresses.set_primary")
	}
	r.clearPrimaryLocked(userID, addressID, now)
	target.IsPrimary = true
	target.UpdatedAt = now
	r.store.data.addresses[addressID] = target
	return nil
}

func (r *AddressRepository) clearPrimaryLocked(userID, keep string, now time.Time) {
	for id, addr := range r.store.data.addresses {
		if addr.UserID != userID || !addr.IsPrimary || id == keep {
			continue
		}
		addr.IsPrimary = false
		addr.UpdatedAt = now
		r.store.data.addresses[id] = addr
	}
}
