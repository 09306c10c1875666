package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/services"
)

type stubCartService struct {
	getFunc      func(ctx context.Context, userID string) (services.Cart, error)
	addFunc      func(ctx context.Context, userID, productID string, quantity int) (services.CartItem, error)
	updateFunc   func(ctx context.Context, userID, itemID string, quantity int) (services.CartItem, error)
	removeFunc   func(ctx context.Context, userID, itemID string) error
	clearFunc    func(ctx context.Context, userID string) error
	validateFunc func(ctx context.Context, userID string) (bool, services.Cart, error)
}

func (s *stubCartService) GetCart(ctx context.Context, userID string) (services.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return services.Cart{UserID: userID}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, userID, productID string, quantity int) (services.CartItem, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, userID, productID, quantity)
	}
	return services.CartItem{}, nil
}

func (s *stubCartService) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (services.CartItem, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, userID, itemID, quantity)
	}
	return services.CartItem{}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, userID, itemID string) error {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, userID, itemID)
	}
	return nil
}

func (s *stubCartService) Clear(ctx context.Context, userID string) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, userID)
	}
	return nil
}

func (s *stubCartService) ComputeAvailability(services.CartItem, *services.Product) services.Availability {
	return services.Availability{IsAvailable: true}
}

func (s *stubCartService) ValidateForCheckout(ctx context.Context, userID string) (bool, services.Cart, error) {
	if s.validateFunc != nil {
		return s.validateFunc(ctx, userID)
	}
	return true, services.Cart{UserID: userID}, nil
}

type stubOrderService struct {
	createFunc      func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFunc         func(ctx context.Context, orderID, userID string) (services.Order, error)
	listFunc        func(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFunc      func(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error)
	cancelUserFunc  func(ctx context.Context, orderID, userID, reason string) (services.Order, error)
	cancelStaffFunc func(ctx context.Context, orderID, staffID, reason string) (services.Order, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID, userID string) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, orderID, userID)
	}
	return services.Order{ID: orderID, UserID: userID}, nil
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.Order, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Order{ID: cmd.OrderID}, nil
}

func (s *stubOrderService) CancelOrderByUser(ctx context.Context, orderID, userID, reason string) (services.Order, error) {
	if s.cancelUserFunc != nil {
		return s.cancelUserFunc(ctx, orderID, userID, reason)
	}
	return services.Order{ID: orderID}, nil
}

func (s *stubOrderService) CancelOrderByStaff(ctx context.Context, orderID, staffID, reason string) (services.Order, error) {
	if s.cancelStaffFunc != nil {
		return s.cancelStaffFunc(ctx, orderID, staffID, reason)
	}
	return services.Order{ID: orderID}, nil
}

type stubVoucherService struct {
	applyFunc    func(ctx context.Context, userID, code string, selected []string) (services.VoucherBreakdown, error)
	snapshotFunc func(ctx context.Context, userID, code string) (services.VoucherSnapshot, error)
	upsertFunc   func(ctx context.Context, cmd services.UpsertVoucherCommand) (services.Voucher, error)
}

func (s *stubVoucherService) ApplyVoucher(ctx context.Context, userID, code string, selected []string) (services.VoucherBreakdown, error) {
	if s.applyFunc != nil {
		return s.applyFunc(ctx, userID, code, selected)
	}
	return services.VoucherBreakdown{}, nil
}

func (s *stubVoucherService) Snapshot(ctx context.Context, userID, code string) (services.VoucherSnapshot, error) {
	if s.snapshotFunc != nil {
		return s.snapshotFunc(ctx, userID, code)
	}
	return services.VoucherSnapshot{Code: code}, nil
}

func (s *stubVoucherService) Evaluate(context.Context, services.Voucher, string, []services.VoucherCandidate) (services.VoucherBreakdown, error) {
	return services.VoucherBreakdown{}, nil
}

func (s *stubVoucherService) UpsertVoucher(ctx context.Context, cmd services.UpsertVoucherCommand) (services.Voucher, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cmd)
	}
	return services.Voucher{Code: cmd.Code}, nil
}

type stubAddressService struct {
	listFunc       func(ctx context.Context, userID string) ([]services.Address, error)
	createFunc     func(ctx context.Context, cmd services.CreateAddressCommand) (services.Address, error)
	updateFunc     func(ctx context.Context, cmd services.UpdateAddressCommand) (services.Address, error)
	deleteFunc     func(ctx context.Context, userID, addressID string) error
	setPrimaryFunc func(ctx context.Context, addressID, userID string) (services.Address, error)
}

func (s *stubAddressService) ListAddresses(ctx context.Context, userID string) ([]services.Address, error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, userID)
	}
	return nil, nil
}

func (s *stubAddressService) CreateAddress(ctx context.Context, cmd services.CreateAddressCommand) (services.Address, error) {
	if s.createFunc != nil {
		return s.createFunc(ctx, cmd)
	}
	return services.Address{}, nil
}

func (s *stubAddressService) UpdateAddress(ctx context.Context, cmd services.UpdateAddressCommand) (services.Address, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.Address{}, nil
}

func (s *stubAddressService) DeleteAddress(ctx context.Context, userID, addressID string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, userID, addressID)
	}
	return nil
}

func (s *stubAddressService) SetPrimaryAddress(ctx context.Context, addressID, userID string) (services.Address, error) {
	if s.setPrimaryFunc != nil {
		return s.setPrimaryFunc(ctx, addressID, userID)
	}
	return services.Address{ID: addressID, UserID: userID, IsPrimary: true}, nil
}

type stubInventoryService struct {
	upsertFunc func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error)
}

func (s *stubInventoryService) Reserve(context.Context, string, int) error { return nil }

func (s *stubInventoryService) ReserveLines(context.Context, []services.StockLine) error { return nil }

func (s *stubInventoryService) Restore(context.Context, string, int) error { return nil }

func (s *stubInventoryService) RestoreLines(context.Context, []services.StockLine) error { return nil }

func (s *stubInventoryService) IsAvailable(context.Context, string, int) (bool, error) {
	return true, nil
}

func (s *stubInventoryService) Check(*services.Product, int) services.Availability {
	return services.Availability{IsAvailable: true}
}

func (s *stubInventoryService) UpsertProduct(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, cmd)
	}
	return services.Product{ID: cmd.ProductID}, nil
}

type stubSystemService struct {
	report services.HealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.HealthReport, error) {
	return s.report, s.err
}

// serve mounts a handler group under prefix and executes one request as identity.
func serve(prefix string, routes func(chi.Router), identity *auth.Identity, method, target, body string) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route(prefix, routes)

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func fixedTime() time.Time {
	return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

var (
	_ services.CartService      = (*stubCartService)(nil)
	_ services.OrderService     = (*stubOrderService)(nil)
	_ services.VoucherService   = (*stubVoucherService)(nil)
	_ services.AddressService   = (*stubAddressService)(nil)
	_ services.InventoryService = (*stubInventoryService)(nil)
	_ services.SystemService    = (*stubSystemService)(nil)
)
