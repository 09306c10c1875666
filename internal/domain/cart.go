package domain

import "time"

// UnavailableReason explains why a cart line cannot be purchased right now.
type UnavailableReason string

const (
	UnavailableNone       UnavailableReason = ""
	UnavailableNotFound   UnavailableReason = "NOT_FOUND"
	UnavailableInactive   UnavailableReason = "INACTIVE"
	UnavailableOutOfStock UnavailableReason = "OUT_OF_STOCK"
)

// CartItem is a single (user, product) row of a cart.
type CartItem struct {
	ID                string
	UserID            string
	ProductID         string
	Quantity          int
	UnitPriceSnapshot int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Availability is derived per cart item against the live product.
type Availability struct {
	IsAvailable bool
	Reason      UnavailableReason
	MaxQuantity int
}

// CartLine joins a cart item with the product it references. Product is nil when it no longer exists.
type CartLine struct {
	Item         CartItem
	Product      *Product
	Availability Availability
	LineTotal    int64
}

// Cart is the computed cart view returned to clients.
type Cart struct {
	UserID     string
	Lines      []CartLine
	Total      int64
	TotalItems int
}
