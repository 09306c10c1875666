package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	eventAddressCreated = "address.created"
	eventAddressPrimary = "address.primary_changed"
)

// AddressServiceDeps bundles the collaborators required to construct an address service.
type AddressServiceDeps struct {
	Addresses   repositories.AddressRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type addressService struct {
	addresses repositories.AddressRepository
	uow       repositories.UnitOfWork
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ AddressService = (*addressService)(nil)

// NewAddressService constructs the service that keeps at most one primary address per user.
func NewAddressService(deps AddressServiceDeps) (AddressService, error) {
	if deps.Addresses == nil {
		return nil, errors.New("address service: address repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("address service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "addr_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &addressService{
		addresses: deps.Addresses,
		uow:       deps.UnitOfWork,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *addressService) ListAddresses(ctx context.Context, userID string) ([]Address, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	return s.addresses.List(ctx, userID)
}

// CreateAddress inserts the address. A primary address replaces the user's current primary in the
// same unit of work.
func (s *addressService) CreateAddress(ctx context.Context, cmd CreateAddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Address{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	input, err := normaliseAddressInput(cmd.Address)
	if err != nil {
		return Address{}, err
	}

	now := s.clock()
	addr := applyAddressInput(Address{
		ID:        s.newID(),
		UserID:    userID,
		IsPrimary: cmd.IsPrimary,
		CreatedAt: now,
		UpdatedAt: now,
	}, input)

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		if addr.IsPrimary {
			if err := s.addresses.ClearPrimary(ctx, userID, now); err != nil {
				return err
			}
		}
		return s.addresses.Insert(ctx, addr)
	})
	if err != nil {
		return Address{}, err
	}

	s.logger(ctx, eventAddressCreated, map[string]any{
		"userId":    userID,
		"addressId": addr.ID,
		"primary":   addr.IsPrimary,
	})
	return addr, nil
}

func (s *addressService) UpdateAddress(ctx context.Context, cmd UpdateAddressCommand) (Address, error) {
	userID := strings.TrimSpace(cmd.UserID)
	addressID := strings.TrimSpace(cmd.AddressID)
	if userID == "" || addressID == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrInvalidArgument)
	}
	input, err := normaliseAddressInput(cmd.Address)
	if err != nil {
		return Address{}, err
	}

	var updated Address
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.addresses.Get(ctx, userID, addressID)
		if err != nil {
			return mapNotFound(err, ErrAddressNotFound)
		}
		next := applyAddressInput(current, input)
		next.UpdatedAt = s.clock()
		if err := s.addresses.Update(ctx, next); err != nil {
			return mapNotFound(err, ErrAddressNotFound)
		}
		updated = next
		return nil
	})
	if err != nil {
		return Address{}, err
	}
	return updated, nil
}

func (s *addressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return fmt.Errorf("%w: user id and address id are required", ErrInvalidArgument)
	}
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		return s.addresses.Delete(ctx, userID, addressID)
	})
	return mapNotFound(err, ErrAddressNotFound)
}

// SetPrimaryAddress makes addressID the user's only primary address.
func (s *addressService) SetPrimaryAddress(ctx context.Context, addressID, userID string) (Address, error) {
	userID = strings.TrimSpace(userID)
	addressID = strings.TrimSpace(addressID)
	if userID == "" || addressID == "" {
		return Address{}, fmt.Errorf("%w: user id and address id are required", ErrInvalidArgument)
	}

	now := s.clock()
	var result Address
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		addr, err := s.addresses.Get(ctx, userID, addressID)
		if err != nil {
			return mapNotFound(err, ErrAddressNotFound)
		}
		if err := s.addresses.SetPrimary(ctx, userID, addressID, now); err != nil {
			return mapNotFound(err, ErrAddressNotFound)
		}
		addr.IsPrimary = true
		addr.UpdatedAt = now
		result = addr
		return nil
	})
	if err != nil {
		return Address{}, err
	}

	s.logger(ctx, eventAddressPrimary, map[string]any{"userId": userID, "addressId": addressID})
	return result, nil
}

func normaliseAddressInput(in AddressInput) (AddressInput, error) {
	out := AddressInput{
		Label:      strings.TrimSpace(in.Label),
		Recipient:  strings.TrimSpace(in.Recipient),
		Line1:      strings.TrimSpace(in.Line1),
		Line2:      strings.TrimSpace(in.Line2),
		City:       strings.TrimSpace(in.City),
		State:      strings.TrimSpace(in.State),
		PostalCode: strings.TrimSpace(in.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(in.Country)),
		Phone:      strings.TrimSpace(in.Phone),
	}
	var missing []string
	if out.Recipient == "" {
		missing = append(missing, "recipient")
	}
	if out.Line1 == "" {
		missing = append(missing, "line1")
	}
	if out.City == "" {
		missing = append(missing, "city")
	}
	if out.PostalCode == "" {
		missing = append(missing, "postalCode")
	}
	if out.Country == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return AddressInput{}, fmt.Errorf("%w: missing %s", ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return out, nil
}

func applyAddressInput(addr Address, in AddressInput) Address {
	addr.Label = in.Label
	addr.Recipient = in.Recipient
	addr.Line1 = in.Line1
	addr.Line2 = in.Line2
	addr.City = in.City
	addr.State = in.State
	addr.PostalCode = in.PostalCode
	addr.Country = in.Country
	addr.Phone = in.Phone
	return addr
}
