package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Vouchers() VoucherRepository
	VoucherUsage() VoucherUsageRepository
	Addresses() AddressRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called with the
// context passed to fn participate in the same transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository reads catalog products and owns their stock counters.
type ProductRepository interface {
	// Get returns a RepositoryError with IsNotFound when the product does not exist.
	Get(ctx context.Context, productID string) (domain.Product, error)
	// GetMany returns the products that exist; missing IDs are absent from the map.
	GetMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	Upsert(ctx context.Context, product domain.Product) (domain.Product, error)
	// DecrementStock subtracts every line when all products exist, are active and hold enough stock.
	// Otherwise nothing is written and a *StockError describes the first failing line.
	DecrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error
	// IncrementStock adds the quantities back. Missing products yield a *StockError.
	IncrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error
}

// CartRepository persists cart items keyed by user.
type CartRepository interface {
	ListItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	// GetItem returns IsNotFound when the item does not exist or belongs to another user.
	GetItem(ctx context.Context, userID, itemID string) (domain.CartItem, error)
	FindByProduct(ctx context.Context, userID, productID string) (domain.CartItem, bool, error)
	SaveItem(ctx context.Context, item domain.CartItem) error
	DeleteItem(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
}

// OrderListQuery selects a page of a user's orders, newest first.
type OrderListQuery struct {
	UserID    string
	PageSize  int
	PageToken string
}

// OrderRepository persists orders together with their items.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	// Update rewrites the mutable order fields and mirrors the item statuses.
	Update(ctx context.Context, order domain.Order) error
	ListByUser(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error)
}

// VoucherRepository stores voucher definitions. Codes are unique and stored normalised.
type VoucherRepository interface {
	Get(ctx context.Context, voucherID string) (domain.Voucher, error)
	GetByCode(ctx context.Context, code string) (domain.Voucher, error)
	Upsert(ctx context.Context, voucher domain.Voucher) (domain.Voucher, error)
}

// VoucherUsageRepository is the append-only redemption log.
type VoucherUsageRepository interface {
	// Count returns the total redemptions of the voucher and those made by userID. Inside a
	// transaction implementations lock what they read so concurrent redemptions serialise.
	Count(ctx context.Context, voucherID, userID string) (domain.VoucherUsageCount, error)
	Append(ctx context.Context, usage domain.VoucherUsage) error
}

// AddressRepository persists user addresses and the primary flag.
type AddressRepository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID, addressID string) (domain.Address, error)
	Insert(ctx context.Context, address domain.Address) error
	Update(ctx context.Context, address domain.Address) error
	Delete(ctx context.Context, userID, addressID string) error
	// ClearPrimary unsets the primary flag on every address of the user.
	ClearPrimary(ctx context.Context, userID string, now time.Time) error
	// SetPrimary marks addressID primary and unsets every other primary address of the user.
	SetPrimary(ctx context.Context, userID, addressID string, now time.Time) error
}

// HealthRepository reports the readiness of the storage backend and its dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
