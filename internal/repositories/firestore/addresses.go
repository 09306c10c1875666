package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/hanko-field/commerce/internal/domain"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/repositories"
)

const addressCollectionPattern = "users/%s/addresses"

// AddressRepository persists user addresses in Firestore.
type AddressRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.AddressRepository = (*AddressRepository)(nil)

// NewAddressRepository constructs a Firestore-backed address repository.
func NewAddressRepository(provider *pfirestore.Provider) (*AddressRepository, error) {
	if provider == nil {
		return nil, errors.New("address repository requires firestore provider")
	}
	return &AddressRepository{provider: provider}, nil
}

func (r *AddressRepository) collection(userID string) (*pfirestore.Collection[addressDocument], error) {
	uid := strings.TrimSpace(userID)
	if uid == "" {
		return nil, errors.New("address repository: user id is required")
	}
	return pfirestore.NewCollection[addressDocument](r.provider, fmt.Sprintf(addressCollectionPattern, uid)), nil
}

// List returns the user's addresses, primary first, then oldest first.
func (r *AddressRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	base, err := r.collection(userID)
	if err != nil {
		return nil, err
	}
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID, userID))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].IsPrimary && !out[j].IsPrimary })
	return out, nil
}

func (r *AddressRepository) Get(ctx context.Context, userID, addressID string) (domain.Address, error) {
	base, err := r.collection(userID)
	if err != nil {
		return domain.Address{}, err
	}
	doc, err := base.Get(ctx, addressID)
	if err != nil {
		return domain.Address{}, err
	}
	return doc.Data.toDomain(doc.ID, userID), nil
}

func (r *AddressRepository) Insert(ctx context.Context, addr domain.Address) error {
	base, err := r.collection(addr.UserID)
	if err != nil {
		return err
	}
	return base.Create(ctx, addr.ID, newAddressDocument(addr))
}

// Update rewrites the address fields. The primary flag is owned by SetPrimary and ClearPrimary.
func (r *AddressRepository) Update(ctx context.Context, addr domain.Address) error {
	base, err := r.collection(addr.UserID)
	if err != nil {
		return err
	}
	return base.Update(ctx, addr.ID, []firestore.Update{
		{Path: "label", Value: addr.Label},
		{Path: "recipient", Value: addr.Recipient},
		{Path: "line1", Value: addr.Line1},
		{Path: "line2", Value: addr.Line2},
		{Path: "city", Value: addr.City},
		{Path: "state", Value: addr.State},
		{Path: "postalCode", Value: addr.PostalCode},
		{Path: "country", Value: addr.Country},
		{Path: "phone", Value: addr.Phone},
		{Path: "updatedAt", Value: addr.UpdatedAt.UTC()},
	}, firestore.Exists)
}

func (r *AddressRepository) Delete(ctx context.Context, userID, addressID string) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		base, err := r.collection(userID)
		if err != nil {
			return err
		}
		if _, err := base.Get(ctx, addressID); err != nil {
			return err
		}
		return base.Delete(ctx, addressID)
	})
}

func (r *AddressRepository) ClearPrimary(ctx context.Context, userID string, now time.Time) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		base, err := r.collection(userID)
		if err != nil {
			return err
		}
		return r.clearPrimary(ctx, base, "", now)
	})
}

// SetPrimary reads the target and the current primaries before writing, as Firestore transactions
// require.
func (r *AddressRepository) SetPrimary(ctx context.Context, userID, addressID string, now time.Time) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		base, err := r.collection(userID)
		if err != nil {
			return err
		}
		if _, err := base.Get(ctx, addressID); err != nil {
			return err
		}
		if err := r.clearPrimary(ctx, base, addressID, now); err != nil {
			return err
		}
		return base.Update(ctx, addressID, []firestore.Update{
			{Path: "isPrimary", Value: true},
			{Path: "updatedAt", Value: now},
		})
	})
}

func (r *AddressRepository) clearPrimary(ctx context.Context, base *pfirestore.Collection[addressDocument], keep string, now time.Time) error {
	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("isPrimary", "==", true)
	})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.ID == keep {
			continue
		}
		if err := base.Update(ctx, doc.ID, []firestore.Update{
			{Path: "isPrimary", Value: false},
			{Path: "updatedAt", Value: now},
		}); err != nil {
			return err
		}
	}
	return nil
}

type addressDocument struct {
	Label      string    `firestore:"label,omitempty"`
	Recipient  string    `firestore:"recipient"`
	Line1      string    `firestore:"line1"`
	Line2      string    `firestore:"line2,omitempty"`
	City       string    `firestore:"city"`
	State      string    `firestore:"state,omitempty"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	Phone      string    `firestore:"phone,omitempty"`
	IsPrimary  bool      `firestore:"isPrimary"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func newAddressDocument(a domain.Address) addressDocument {
	return addressDocument{
		Label:      strings.TrimSpace(a.Label),
		Recipient:  a.Recipient,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		IsPrimary:  a.IsPrimary,
		CreatedAt:  a.CreatedAt.UTC(),
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
}

func (d addressDocument) toDomain(id, userID string) domain.Address {
	return domain.Address{
		ID:         id,
		UserID:     userID,
		Label:      d.Label,
		Recipient:  d.Recipient,
		Line1:      d.Line1,
		Line2:      d.Line2,
		City:       d.City,
		State:      d.State,
		PostalCode: d.PostalCode,
		Country:    d.Country,
		Phone:      d.Phone,
		IsPrimary:  d.IsPrimary,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}
