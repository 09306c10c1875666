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
	eventCartItemAdded   = "cart.item_added"
	eventCartItemUpdated = "cart.item_updated"
	eventCartCleared     = "cart.cleared"
)

// CartServiceDeps bundles the collaborators required to construct a cart service.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Inventory   InventoryService
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	carts     repositories.CartRepository
	products  repositories.ProductRepository
	inventory InventoryService
	uow       repositories.UnitOfWork
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

var _ CartService = (*cartService)(nil)

// NewCartService constructs a CartService backed by the cart and product repositories.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("cart service: inventory service is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("cart service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return "ci_" + ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		carts:     deps.Carts,
		products:  deps.Products,
		inventory: deps.Inventory,
		uow:       deps.UnitOfWork,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// AddItem adds quantity units of a product. An existing line for the product grows by quantity and
// the stock check applies to the resulting total.
func (s *cartService) AddItem(ctx context.Context, userID, productID string, quantity int) (CartItem, error) {
	userID = strings.TrimSpace(userID)
	productID = strings.TrimSpace(productID)
	if userID == "" || productID == "" {
		return CartItem{}, fmt.Errorf("%w: user id and product id are required", ErrInvalidArgument)
	}
	if quantity < 1 {
		return CartItem{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
	}

	var saved CartItem
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		product, err := s.loadSellableProduct(ctx, productID)
		if err != nil {
			return err
		}
		existing, found, err := s.carts.FindByProduct(ctx, userID, productID)
		if err != nil {
			return err
		}

		now := s.clock()
		item := existing
		if !found {
			item = CartItem{
				ID:        s.newID(),
				UserID:    userID,
				ProductID: productID,
				CreatedAt: now,
			}
		}
		total := item.Quantity + quantity
		if product.Stock < total {
			return fmt.Errorf("%w: product %s requested %d, available %d", ErrInsufficientStock, productID, total, product.Stock)
		}
		item.Quantity = total
		item.UnitPriceSnapshot = product.EffectivePrice()
		item.UpdatedAt = now
		if err := s.carts.SaveItem(ctx, item); err != nil {
			return err
		}
		saved = item
		return nil
	})
	if err != nil {
		return CartItem{}, err
	}

	s.logger(ctx, eventCartItemAdded, map[string]any{
		"userId":    userID,
		"productId": productID,
		"quantity":  saved.Quantity,
	})
	return saved, nil
}

// UpdateQuantity replaces the quantity of a cart line and refreshes its price snapshot.
func (s *cartService) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (CartItem, error) {
	userID = strings.TrimSpace(userID)
	itemID = strings.TrimSpace(itemID)
	if userID == "" || itemID == "" {
		return CartItem{}, fmt.Errorf("%w: user id and item id are required", ErrInvalidArgument)
	}
	if quantity < 1 {
		return CartItem{}, fmt.Errorf("%w: quantity must be at least 1", ErrInvalidArgument)
	}

	var saved CartItem
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		item, err := s.carts.GetItem(ctx, userID, itemID)
		if err != nil {
			return mapNotFound(err, ErrCartItemNotFound)
		}
		product, err := s.loadSellableProduct(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if product.Stock < quantity {
			return fmt.Errorf("%w: product %s requested %d, available %d", ErrInsufficientStock, product.ID, quantity, product.Stock)
		}
		item.Quantity = quantity
		item.UnitPriceSnapshot = product.EffectivePrice()
		item.UpdatedAt = s.clock()
		if err := s.carts.SaveItem(ctx, item); err != nil {
			return err
		}
		saved = item
		return nil
	})
	if err != nil {
		return CartItem{}, err
	}

	s.logger(ctx, eventCartItemUpdated, map[string]any{
		"userId":   userID,
		"itemId":   itemID,
		"quantity": quantity,
	})
	return saved, nil
}

func (s *cartService) RemoveItem(ctx context.Context, userID, itemID string) error {
	userID = strings.TrimSpace(userID)
	itemID = strings.TrimSpace(itemID)
	if userID == "" || itemID == "" {
		return fmt.Errorf("%w: user id and item id are required", ErrInvalidArgument)
	}
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		return s.carts.DeleteItem(ctx, userID, itemID)
	})
	return mapNotFound(err, ErrCartItemNotFound)
}

func (s *cartService) Clear(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		return s.carts.Clear(ctx, userID)
	})
	if err != nil {
		return err
	}
	s.logger(ctx, eventCartCleared, map[string]any{"userId": userID})
	return nil
}

func (s *cartService) ComputeAvailability(item CartItem, product *Product) Availability {
	return s.inventory.Check(product, item.Quantity)
}

// GetCart joins every cart line with its live product. Unavailable lines stay in the cart but are left
// out of the total; TotalItems counts them.
func (s *cartService) GetCart(ctx context.Context, userID string) (Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Cart{}, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}

	items, err := s.carts.ListItems(ctx, userID)
	if err != nil {
		return Cart{}, err
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products := map[string]Product{}
	if len(ids) > 0 {
		if products, err = s.products.GetMany(ctx, ids); err != nil {
			return Cart{}, err
		}
	}

	cart := Cart{UserID: userID, Lines: make([]CartLine, 0, len(items))}
	for _, item := range items {
		line := CartLine{Item: item}
		if product, ok := products[item.ProductID]; ok {
			line.Product = &product
		}
		line.Availability = s.ComputeAvailability(item, line.Product)
		if line.Availability.IsAvailable {
			line.LineTotal = cartUnitPrice(item, line.Product) * int64(item.Quantity)
			cart.Total += line.LineTotal
		}
		cart.TotalItems += item.Quantity
		cart.Lines = append(cart.Lines, line)
	}
	return cart, nil
}

// ValidateForCheckout reports whether every line can be bought. An empty cart does not validate.
func (s *cartService) ValidateForCheckout(ctx context.Context, userID string) (bool, Cart, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return false, Cart{}, err
	}
	if len(cart.Lines) == 0 {
		return false, cart, nil
	}
	for _, line := range cart.Lines {
		if !line.Availability.IsAvailable {
			return false, cart, nil
		}
	}
	return true, cart, nil
}

func (s *cartService) loadSellableProduct(ctx context.Context, productID string) (Product, error) {
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		return Product{}, mapNotFound(err, ErrProductNotFound)
	}
	if !product.IsActive {
		return Product{}, fmt.Errorf("%w: %s", ErrProductInactive, productID)
	}
	return product, nil
}

// cartUnitPrice prefers a live discount over the snapshot taken when the line was last changed.
func cartUnitPrice(item CartItem, product *Product) int64 {
	if product != nil && product.IsDiscounted() {
		return *product.DiscountPrice
	}
	return item.UnitPriceSnapshot
}
