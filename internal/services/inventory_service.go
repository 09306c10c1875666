package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

const (
	eventStockReserved = "stock.reserved"
	eventStockRestored = "stock.restored"
	eventProductSynced = "product.synced"
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products repositories.ProductRepository
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products repositories.ProductRepository
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

var _ InventoryService = (*inventoryService)(nil)

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &inventoryService{
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reserve takes quantity units of a product. Inside a unit of work the decrement joins the caller's
// transaction.
func (s *inventoryService) Reserve(ctx context.Context, productID string, quantity int) error {
	return s.ReserveLines(ctx, []StockLine{{ProductID: productID, Quantity: quantity}})
}

func (s *inventoryService) ReserveLines(ctx context.Context, lines []StockLine) error {
	lines, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}
	if err := s.products.DecrementStock(ctx, lines, s.clock()); err != nil {
		return mapStockError(err)
	}
	s.logger(ctx, eventStockReserved, map[string]any{"lines": stockLineFields(lines)})
	return nil
}

func (s *inventoryService) Restore(ctx context.Context, productID string, quantity int) error {
	return s.RestoreLines(ctx, []StockLine{{ProductID: productID, Quantity: quantity}})
}

// RestoreLines gives stock back. It carries no memory of earlier restorations; callers guarantee a
// set of lines is restored once.
func (s *inventoryService) RestoreLines(ctx context.Context, lines []StockLine) error {
	lines, err := normaliseStockLines(lines)
	if err != nil {
		return err
	}
	if err := s.products.IncrementStock(ctx, lines, s.clock()); err != nil {
		return mapStockError(err)
	}
	s.logger(ctx, eventStockRestored, map[string]any{"lines": stockLineFields(lines)})
	return nil
}

func (s *inventoryService) IsAvailable(ctx context.Context, productID string, quantity int) (bool, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" || quantity <= 0 {
		return false, fmt.Errorf("%w: product id and a positive quantity are required", ErrInvalidArgument)
	}
	product, err := s.products.Get(ctx, productID)
	if err != nil {
		if isRepoNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return s.Check(&product, quantity).IsAvailable, nil
}

// Check classifies whether product can supply quantity units. MaxQuantity is the stock the caller
// may still ask for, zero when the product cannot be bought at all.
func (s *inventoryService) Check(product *Product, quantity int) Availability {
	switch {
	case product == nil:
		return Availability{Reason: domain.UnavailableNotFound}
	case !product.IsActive:
		return Availability{Reason: domain.UnavailableInactive}
	case product.Stock < quantity:
		return Availability{Reason: domain.UnavailableOutOfStock, MaxQuantity: max(product.Stock, 0)}
	}
	return Availability{IsAvailable: true, MaxQuantity: product.Stock}
}

func (s *inventoryService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	id := strings.TrimSpace(cmd.ProductID)
	name := strings.TrimSpace(cmd.Name)
	switch {
	case id == "":
		return Product{}, fmt.Errorf("%w: product id is required", ErrInvalidArgument)
	case name == "":
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidArgument)
	case cmd.Price < 0:
		return Product{}, fmt.Errorf("%w: price must not be negative", ErrInvalidArgument)
	case cmd.Stock < 0:
		return Product{}, fmt.Errorf("%w: stock must not be negative", ErrInvalidArgument)
	case cmd.DiscountPrice != nil && (*cmd.DiscountPrice < 0 || *cmd.DiscountPrice >= cmd.Price):
		return Product{}, fmt.Errorf("%w: discount price must be below price", ErrInvalidArgument)
	}

	product := Product{
		ID:           id,
		Name:         name,
		Price:        cmd.Price,
		Stock:        cmd.Stock,
		IsActive:     cmd.IsActive,
		IsOnSale:     cmd.IsOnSale,
		NoVoucherTag: cmd.NoVoucherTag,
		UpdatedAt:    s.clock(),
	}
	if cmd.DiscountPrice != nil {
		discount := *cmd.DiscountPrice
		product.DiscountPrice = &discount
	}

	saved, err := s.products.Upsert(ctx, product)
	if err != nil {
		return Product{}, err
	}
	s.logger(ctx, eventProductSynced, map[string]any{
		"productId": saved.ID,
		"stock":     saved.Stock,
		"active":    saved.IsActive,
	})
	return saved, nil
}

func normaliseStockLines(lines []StockLine) ([]StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: at least one stock line is required", ErrInvalidArgument)
	}
	cleaned := make([]StockLine, 0, len(lines))
	for i, line := range lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: line %d product id is required", ErrInvalidArgument, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidArgument, i)
		}
		cleaned = append(cleaned, StockLine{ProductID: id, Quantity: line.Quantity})
	}
	return domain.AggregateStockLines(cleaned), nil
}

func stockLineFields(lines []StockLine) []map[string]any {
	out := make([]map[string]any, 0, len(lines))
	for _, line := range lines {
		out = append(out, map[string]any{"productId": line.ProductID, "quantity": line.Quantity})
	}
	return out
}
