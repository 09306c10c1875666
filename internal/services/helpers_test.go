package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/repositories/memory"
)

type recordedLog struct {
	event  string
	fields map[string]any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []recordedLog
}

func (l *recordingLogger) log(_ context.Context, event string, fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, recordedLog{event: event, fields: fields})
}

func (l *recordingLogger) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if entry.event == event {
			return true
		}
	}
	return false
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []OrderEvent
	err    error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Type)
	}
	return out
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("%04d", n.Add(1))
	}
}

// commerceFixture wires every service over one memory registry with a fixed clock.
type commerceFixture struct {
	reg       *memory.Registry
	now       time.Time
	logs      *recordingLogger
	events    *recordingPublisher
	inventory InventoryService
	carts     CartService
	vouchers  VoucherService
	addresses AddressService
	orders    OrderService
}

func newCommerceFixture(t *testing.T) *commerceFixture {
	t.Helper()

	reg, err := memory.NewRegistry()
	if err != nil {
		t.Fatalf("memory registry: %v", err)
	}
	f := &commerceFixture{
		reg:    reg,
		now:    time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC),
		logs:   &recordingLogger{},
		events: &recordingPublisher{},
	}
	clock := func() time.Time { return f.now }
	ids := sequentialIDs()

	f.inventory, err = NewInventoryService(InventoryServiceDeps{
		Products: reg.Products(),
		Clock:    clock,
		Logger:   f.logs.log,
	})
	if err != nil {
		t.Fatalf("inventory service: %v", err)
	}
	f.carts, err = NewCartService(CartServiceDeps{
		Carts:       reg.Carts(),
		Products:    reg.Products(),
		Inventory:   f.inventory,
		UnitOfWork:  reg,
		Clock:       clock,
		IDGenerator: func() string { return "ci_" + ids() },
		Logger:      f.logs.log,
	})
	if err != nil {
		t.Fatalf("cart service: %v", err)
	}
	f.vouchers, err = NewVoucherService(VoucherServiceDeps{
		Vouchers:    reg.Vouchers(),
		Usage:       reg.VoucherUsage(),
		Carts:       reg.Carts(),
		Products:    reg.Products(),
		Clock:       clock,
		IDGenerator: func() string { return "vch_" + ids() },
		Logger:      f.logs.log,
	})
	if err != nil {
		t.Fatalf("voucher service: %v", err)
	}
	f.addresses, err = NewAddressService(AddressServiceDeps{
		Addresses:   reg.Addresses(),
		UnitOfWork:  reg,
		Clock:       clock,
		IDGenerator: func() string { return "addr_" + ids() },
		Logger:      f.logs.log,
	})
	if err != nil {
		t.Fatalf("address service: %v", err)
	}
	f.orders, err = NewOrderService(OrderServiceDeps{
		Orders:      reg.Orders(),
		Products:    reg.Products(),
		Addresses:   reg.Addresses(),
		Vouchers:    reg.Vouchers(),
		Usage:       reg.VoucherUsage(),
		Inventory:   f.inventory,
		Engine:      f.vouchers,
		UnitOfWork:  reg,
		Events:      f.events,
		Clock:       clock,
		IDGenerator: ids,
		Logger:      f.logs.log,
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	return f
}

func (f *commerceFixture) seedProduct(t *testing.T, p domain.Product) {
	t.Helper()
	if p.Name == "" {
		p.Name = p.ID
	}
	if _, err := f.reg.Products().Upsert(context.Background(), p); err != nil {
		t.Fatalf("seed product %s: %v", p.ID, err)
	}
}

func (f *commerceFixture) stock(t *testing.T, productID string) int {
	t.Helper()
	product, err := f.reg.Products().Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product %s: %v", productID, err)
	}
	return product.Stock
}

func (f *commerceFixture) seedAddress(t *testing.T, userID string) Address {
	t.Helper()
	addr, err := f.addresses.CreateAddress(context.Background(), CreateAddressCommand{
		UserID:    userID,
		Address:   validAddressInput(),
		IsPrimary: true,
	})
	if err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return addr
}

func (f *commerceFixture) seedVoucher(t *testing.T, v domain.Voucher) Voucher {
	t.Helper()
	if v.ID == "" {
		v.ID = "vch_" + v.Code
	}
	if v.PerUserLimit == 0 {
		v.PerUserLimit = 1
	}
	saved, err := f.reg.Vouchers().Upsert(context.Background(), v)
	if err != nil {
		t.Fatalf("seed voucher: %v", err)
	}
	return saved
}

func validAddressInput() AddressInput {
	return AddressInput{
		Recipient:  "Aiko Tanaka",
		Line1:      "1-2-3 Shibuya",
		City:       "Tokyo",
		PostalCode: "150-0002",
		Country:    "jp",
	}
}

func int64Ptr(v int64) *int64 { return &v }

func stringPtr(v string) *string { return &v }
