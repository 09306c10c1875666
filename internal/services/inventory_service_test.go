package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories"
)

type stubProductRepository struct {
	getFn       func(ctx context.Context, id string) (domain.Product, error)
	getManyFn   func(ctx context.Context, ids []string) (map[string]domain.Product, error)
	upsertFn    func(ctx context.Context, product domain.Product) (domain.Product, error)
	decrementFn func(ctx context.Context, lines []domain.StockLine, now time.Time) error
	incrementFn func(ctx context.Context, lines []domain.StockLine, now time.Time) error
}

func (s *stubProductRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, id)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepository) GetMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	if s.getManyFn != nil {
		return s.getManyFn(ctx, ids)
	}
	return map[string]domain.Product{}, nil
}

func (s *stubProductRepository) Upsert(ctx context.Context, product domain.Product) (domain.Product, error) {
	if s.upsertFn != nil {
		return s.upsertFn(ctx, product)
	}
	return product, nil
}

func (s *stubProductRepository) DecrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	if s.decrementFn != nil {
		return s.decrementFn(ctx, lines, now)
	}
	return nil
}

func (s *stubProductRepository) IncrementStock(ctx context.Context, lines []domain.StockLine, now time.Time) error {
	if s.incrementFn != nil {
		return s.incrementFn(ctx, lines, now)
	}
	return nil
}

func TestInventoryServiceReserveLinesAggregatesAndUsesClock(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.FixedZone("JST", 9*3600))
	var (
		gotLines []domain.StockLine
		gotNow   time.Time
	)
	repo := &stubProductRepository{
		decrementFn: func(_ context.Context, lines []domain.StockLine, at time.Time) error {
			gotLines = lines
			gotNow = at
			return nil
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}

	err = svc.ReserveLines(context.Background(), []StockLine{
		{ProductID: " prod_a ", Quantity: 1},
		{ProductID: "prod_b", Quantity: 2},
		{ProductID: "prod_a", Quantity: 3},
	})
	if err != nil {
		t.Fatalf("ReserveLines: %v", err)
	}
	if len(gotLines) != 2 || gotLines[0] != (StockLine{ProductID: "prod_a", Quantity: 4}) || gotLines[1].Quantity != 2 {
		t.Fatalf("unexpected aggregated lines %+v", gotLines)
	}
	if !gotNow.Equal(now) || gotNow.Location() != time.UTC {
		t.Fatalf("expected UTC clock value, got %s", gotNow)
	}
}

func TestInventoryServiceReserveMapsStockErrors(t *testing.T) {
	cases := []struct {
		code repositories.StockErrorCode
		want error
	}{
		{code: repositories.StockErrorNotFound, want: ErrProductNotFound},
		{code: repositories.StockErrorInactive, want: ErrProductInactive},
		{code: repositories.StockErrorInsufficient, want: ErrInsufficientStock},
	}
	for _, tc := range cases {
		repo := &stubProductRepository{
			decrementFn: func(context.Context, []domain.StockLine, time.Time) error {
				return repositories.NewStockError("products.decrement_stock", tc.code, "prod_a", 2, 1)
			},
		}
		svc, err := NewInventoryService(InventoryServiceDeps{Products: repo})
		if err != nil {
			t.Fatalf("NewInventoryService: %v", err)
		}
		if err := svc.Reserve(context.Background(), "prod_a", 2); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.code, tc.want, err)
		}
	}
}

func TestInventoryServiceRejectsInvalidQuantities(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	ctx := context.Background()
	if err := svc.Reserve(ctx, "prod_a", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for zero quantity, got %v", err)
	}
	if err := svc.Restore(ctx, "", 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for empty product, got %v", err)
	}
	if err := svc.ReserveLines(ctx, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument for no lines, got %v", err)
	}
}

func TestInventoryServiceReserveAndRestoreOnMemoryStore(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	f.seedProduct(t, domain.Product{ID: "prod_a", Price: 1000, Stock: 5, IsActive: true})
	f.seedProduct(t, domain.Product{ID: "prod_off", Price: 1000, Stock: 5})

	if err := f.inventory.Reserve(ctx, "prod_a", 5); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if got := f.stock(t, "prod_a"); got != 0 {
		t.Fatalf("expected stock 0, got %d", got)
	}
	if err := f.inventory.Reserve(ctx, "prod_a", 1); !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if err := f.inventory.Reserve(ctx, "prod_off", 1); !errors.Is(err, ErrProductInactive) {
		t.Fatalf("expected inactive product, got %v", err)
	}
	if err := f.inventory.Reserve(ctx, "prod_missing", 1); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}

	if err := f.inventory.Restore(ctx, "prod_a", 2); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	product, err := f.reg.Products().Get(ctx, "prod_a")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Stock != 2 {
		t.Fatalf("expected stock 2 after restore, got %d", product.Stock)
	}
	if !product.UpdatedAt.Equal(f.now) {
		t.Fatalf("expected updatedAt touched, got %s", product.UpdatedAt)
	}
	if !f.logs.has(eventStockRestored) {
		t.Fatalf("expected stock.restored log entry")
	}
}

func TestInventoryServiceIsAvailable(t *testing.T) {
	f := newCommerceFixture(t)
	ctx := context.Background()
	f.seedProduct(t, domain.Product{ID: "prod_a", Price: 1000, Stock: 3, IsActive: true})
	f.seedProduct(t, domain.Product{ID: "prod_off", Price: 1000, Stock: 3})

	cases := []struct {
		id   string
		qty  int
		want bool
	}{
		{id: "prod_a", qty: 3, want: true},
		{id: "prod_a", qty: 4, want: false},
		{id: "prod_off", qty: 1, want: false},
		{id: "prod_missing", qty: 1, want: false},
	}
	for _, tc := range cases {
		got, err := f.inventory.IsAvailable(ctx, tc.id, tc.qty)
		if err != nil {
			t.Fatalf("IsAvailable(%s, %d): %v", tc.id, tc.qty, err)
		}
		if got != tc.want {
			t.Fatalf("IsAvailable(%s, %d) = %v, want %v", tc.id, tc.qty, got, tc.want)
		}
	}
}

func TestInventoryServiceCheck(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Products: &stubProductRepository{}})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	active := &Product{ID: "p", Stock: 4, IsActive: true}

	cases := []struct {
		name    string
		product *Product
		qty     int
		want    Availability
	}{
		{name: "missing", product: nil, qty: 1, want: Availability{Reason: domain.UnavailableNotFound}},
		{name: "inactive", product: &Product{Stock: 4}, qty: 1, want: Availability{Reason: domain.UnavailableInactive}},
		{name: "short", product: active, qty: 5, want: Availability{Reason: domain.UnavailableOutOfStock, MaxQuantity: 4}},
		{name: "ok", product: active, qty: 4, want: Availability{IsAvailable: true, MaxQuantity: 4}},
	}
	for _, tc := range cases {
		if got := svc.Check(tc.product, tc.qty); got != tc.want {
			t.Fatalf("%s: expected %+v, got %+v", tc.name, tc.want, got)
		}
	}
}

func TestInventoryServiceUpsertProductValidates(t *testing.T) {
	var saved domain.Product
	repo := &stubProductRepository{
		upsertFn: func(_ context.Context, product domain.Product) (domain.Product, error) {
			saved = product
			return product, nil
		},
	}
	now := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	svc, err := NewInventoryService(InventoryServiceDeps{Products: repo, Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewInventoryService: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.UpsertProduct(ctx, UpsertProductCommand{ProductID: "p", Name: "Seal", Price: 1000, DiscountPrice: int64Ptr(1000)}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected discount >= price rejected, got %v", err)
	}
	if _, err := svc.UpsertProduct(ctx, UpsertProductCommand{ProductID: "p", Name: "Seal", Price: 1000, Stock: -1}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected negative stock rejected, got %v", err)
	}

	product, err := svc.UpsertProduct(ctx, UpsertProductCommand{
		ProductID:     " p ",
		Name:          " Seal ",
		Price:         1000,
		DiscountPrice: int64Ptr(800),
		Stock:         7,
		IsActive:      true,
	})
	if err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if product.ID != "p" || product.Name != "Seal" || *saved.DiscountPrice != 800 || !saved.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected saved product %+v", saved)
	}
}
