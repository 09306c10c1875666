package di

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanko-field/commerce/internal/domain"
	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	"github.com/hanko-field/commerce/internal/services"
)

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(nil, Options{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestNewContainerWiresServicesOverMemoryRegistry(t *testing.T) {
	reg, err := memory.NewRegistry()
	if err != nil {
		t.Fatalf("memory.NewRegistry: %v", err)
	}
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	container, err := NewContainer(reg, Options{Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	svc := container.Services
	if svc.Inventory == nil || svc.Addresses == nil || svc.Carts == nil || svc.Vouchers == nil || svc.Orders == nil || svc.System == nil {
		t.Fatalf("expected every service to be built, got %+v", svc)
	}

	ctx := context.Background()
	if _, err := svc.Inventory.UpsertProduct(ctx, services.UpsertProductCommand{
		ProductID: "prod_1", Name: "Stamp", Price: 1200, Stock: 3, IsActive: true,
	}); err != nil {
		t.Fatalf("UpsertProduct: %v", err)
	}
	if err := svc.Inventory.Reserve(ctx, "prod_1", 2); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	ok, err := svc.Inventory.IsAvailable(ctx, "prod_1", 2)
	if err != nil || ok {
		t.Fatalf("expected only one unit left, got ok=%v err=%v", ok, err)
	}

	report, err := svc.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK || report.Backend != "memory" {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestContainerCloseRunsHooksInReverse(t *testing.T) {
	reg, err := memory.NewRegistry()
	if err != nil {
		t.Fatalf("memory.NewRegistry: %v", err)
	}
	container, err := NewContainer(reg, Options{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}

	var order []string
	boom := errors.New("boom")
	container.OnClose(func(context.Context) error { order = append(order, "first"); return nil })
	container.OnClose(nil)
	container.OnClose(func(context.Context) error { order = append(order, "second"); return boom })

	if err := container.Close(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected hook error to surface, got %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("unexpected hook order %v", order)
	}
}

func TestServiceLoggerPrefersRequestLogger(t *testing.T) {
	baseCore, baseLogs := observer.New(zapcore.InfoLevel)
	reqCore, reqLogs := observer.New(zapcore.InfoLevel)

	logFn := ServiceLogger(zap.New(baseCore), "orders")
	logFn(context.Background(), "order.created", map[string]any{"orderID": "ord_1"})
	logFn(requestctx.WithLogger(context.Background(), zap.New(reqCore)), "order.cancelled", nil)

	if baseLogs.Len() != 1 || reqLogs.Len() != 1 {
		t.Fatalf("expected one entry per logger, got base=%d request=%d", baseLogs.Len(), reqLogs.Len())
	}
	fields := baseLogs.All()[0].ContextMap()
	if fields["component"] != "orders" || fields["event"] != "order.created" || fields["orderID"] != "ord_1" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if reqLogs.All()[0].Message != "order.cancelled" {
		t.Fatalf("unexpected message %q", reqLogs.All()[0].Message)
	}
}
