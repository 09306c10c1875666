package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/hanko-field/commerce/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Product          = domain.Product
	StockLine        = domain.StockLine
	Cart             = domain.Cart
	CartItem         = domain.CartItem
	CartLine         = domain.CartLine
	Availability     = domain.Availability
	Order            = domain.Order
	OrderItem        = domain.OrderItem
	OrderStatus      = domain.OrderStatus
	Voucher          = domain.Voucher
	VoucherUsage     = domain.VoucherUsage
	VoucherBreakdown = domain.VoucherBreakdown
	VoucherSnapshot  = domain.VoucherSnapshot
	VoucherCandidate = domain.VoucherCandidate
	EligibleItem     = domain.EligibleItem
	IneligibleItem   = domain.IneligibleItem
	Address          = domain.Address
	HealthReport     = domain.HealthReport
)

// InventoryService owns product stock: reservations, restorations and availability checks.
type InventoryService interface {
	Reserve(ctx context.Context, productID string, quantity int) error
	ReserveLines(ctx context.Context, lines []StockLine) error
	Restore(ctx context.Context, productID string, quantity int) error
	RestoreLines(ctx context.Context, lines []StockLine) error
	IsAvailable(ctx context.Context, productID string, quantity int) (bool, error)
	Check(product *Product, quantity int) Availability
	UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
}

// UpsertProductCommand carries a catalog sync of one product.
type UpsertProductCommand struct {
	ProductID     string
	Name          string
	Price         int64
	DiscountPrice *int64
	Stock         int
	IsActive      bool
	IsOnSale      bool
	NoVoucherTag  bool
}

// AddressService keeps a user's addresses and guarantees a single primary address.
type AddressService interface {
	ListAddresses(ctx context.Context, userID string) ([]Address, error)
	CreateAddress(ctx context.Context, cmd CreateAddressCommand) (Address, error)
	UpdateAddress(ctx context.Context, cmd UpdateAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, userID, addressID string) error
	SetPrimaryAddress(ctx context.Context, addressID, userID string) (Address, error)
}

// AddressInput is the editable part of an address.
type AddressInput struct {
	Label      string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// CreateAddressCommand creates an address, optionally as the user's primary one.
type CreateAddressCommand struct {
	UserID    string
	Address   AddressInput
	IsPrimary bool
}

// UpdateAddressCommand rewrites the fields of an existing address. Primacy is unchanged.
type UpdateAddressCommand struct {
	UserID    string
	AddressID string
	Address   AddressInput
}

// CartService manages the per-user cart and its availability view.
type CartService interface {
	GetCart(ctx context.Context, userID string) (Cart, error)
	AddItem(ctx context.Context, userID, productID string, quantity int) (CartItem, error)
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (CartItem, error)
	RemoveItem(ctx context.Context, userID, itemID string) error
	Clear(ctx context.Context, userID string) error
	ComputeAvailability(item CartItem, product *Product) Availability
	ValidateForCheckout(ctx context.Context, userID string) (bool, Cart, error)
}

// VoucherService evaluates voucher codes against carts and orders.
type VoucherService interface {
	ApplyVoucher(ctx context.Context, userID, code string, selectedItemIDs []string) (VoucherBreakdown, error)
	Snapshot(ctx context.Context, userID, code string) (VoucherSnapshot, error)
	Evaluate(ctx context.Context, voucher Voucher, userID string, lines []VoucherCandidate) (VoucherBreakdown, error)
	UpsertVoucher(ctx context.Context, cmd UpsertVoucherCommand) (Voucher, error)
}

// UpsertVoucherCommand carries a voucher definition from the marketing collaborator.
type UpsertVoucherCommand struct {
	Code            string
	DiscountType    string
	Value           decimal.Decimal
	StartTime       time.Time
	EndTime         time.Time
	MinOrderValue   int64
	TotalUsageLimit int
	PerUserLimit    int
	IsActive        bool
}

// OrderService turns carts into orders and drives the order lifecycle.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID, userID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (Order, error)
	CancelOrderByUser(ctx context.Context, orderID, userID, reason string) (Order, error)
	CancelOrderByStaff(ctx context.Context, orderID, staffID, reason string) (Order, error)
}

// CreateOrderCommand is a checkout request. VoucherID is optional.
type CreateOrderCommand struct {
	UserID    string
	AddressID string
	VoucherID string
	Notes     string
	Items     []CreateOrderItem
}

// CreateOrderItem is one requested product line.
type CreateOrderItem struct {
	ProductID string
	Quantity  int
}

// UpdateOrderCommand changes the status and/or notes of an order. Nil fields are left untouched.
type UpdateOrderCommand struct {
	OrderID string
	ActorID string
	Status  *string
	Notes   *string
}

// OrderListFilter selects a page of a user's orders.
type OrderListFilter struct {
	UserID    string
	PageSize  int
	PageToken string
}

// OrderEvent is published after an order changes.
type OrderEvent struct {
	Type           string
	OrderID        string
	UserID         string
	ActorID        string
	Status         OrderStatus
	PreviousStatus OrderStatus
	TotalAmount    int64
	OccurredAt     time.Time
}

// OrderEventPublisher hands order events to downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// SystemService reports readiness and build metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}
