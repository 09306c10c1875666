package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/platform/requestctx"
	"github.com/hanko-field/commerce/internal/repositories"
	"github.com/hanko-field/commerce/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Inventory services.InventoryService
	Addresses services.AddressService
	Carts     services.CartService
	Vouchers  services.VoucherService
	Orders    services.OrderService
	System    services.SystemService
}

// Options carries the runtime collaborators that are not repositories.
type Options struct {
	// Events is optional; orders are still placed when no publisher is configured.
	Events services.OrderEventPublisher
	Logger *zap.Logger
	Meter  metric.Meter
	Clock  func() time.Time
	Build  services.BuildInfo
}

// Container owns the repository registry and the services built on top of it.
type Container struct {
	Repositories repositories.Registry
	Services     Services

	closers []func(context.Context) error
}

// NewContainer builds every commerce service against the registry.
func NewContainer(reg repositories.Registry, opts Options) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	svc, err := buildServices(reg, opts)
	if err != nil {
		return nil, err
	}
	return &Container{Repositories: reg, Services: svc}, nil
}

// OnClose registers a cleanup hook run before the registry is closed, in reverse order.
func (c *Container) OnClose(fn func(context.Context) error) {
	if fn != nil {
		c.closers = append(c.closers, fn)
	}
}

// Close runs the registered hooks and releases the repository backend.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(reg repositories.Registry, opts Options) (Services, error) {
	var svc Services
	var err error

	svc.Inventory, err = services.NewInventoryService(services.InventoryServiceDeps{
		Products: reg.Products(),
		Clock:    opts.Clock,
		Logger:   ServiceLogger(opts.Logger, "inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}

	svc.Addresses, err = services.NewAddressService(services.AddressServiceDeps{
		Addresses:  reg.Addresses(),
		UnitOfWork: reg,
		Clock:      opts.Clock,
		Logger:     ServiceLogger(opts.Logger, "addresses"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build address service: %w", err)
	}

	svc.Carts, err = services.NewCartService(services.CartServiceDeps{
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		Inventory:  svc.Inventory,
		UnitOfWork: reg,
		Clock:      opts.Clock,
		Logger:     ServiceLogger(opts.Logger, "cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}

	svc.Vouchers, err = services.NewVoucherService(services.VoucherServiceDeps{
		Vouchers: reg.Vouchers(),
		Usage:    reg.VoucherUsage(),
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Clock:    opts.Clock,
		Logger:   ServiceLogger(opts.Logger, "vouchers"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build voucher service: %w", err)
	}

	svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Products:   reg.Products(),
		Addresses:  reg.Addresses(),
		Vouchers:   reg.Vouchers(),
		Usage:      reg.VoucherUsage(),
		Inventory:  svc.Inventory,
		Engine:     svc.Vouchers,
		UnitOfWork: reg,
		Events:     opts.Events,
		Meter:      opts.Meter,
		Clock:      opts.Clock,
		Logger:     ServiceLogger(opts.Logger, "orders"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if health := reg.Health(); health != nil {
		svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            opts.Clock,
			Build:            opts.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}

// ServiceLogger adapts zap to the event logger the services accept. The request-scoped logger is
// preferred so service events carry the trace and request fields.
func ServiceLogger(base *zap.Logger, component string) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if scoped := requestctx.Logger(ctx); scoped != requestctx.NoopLogger() {
			logger = scoped
		}
		zfields := make([]zap.Field, 0, len(fields)+2)
		zfields = append(zfields, zap.String("component", component), zap.String("event", event))
		for key, value := range fields {
			zfields = append(zfields, zap.Any(key, value))
		}
		logger.Info(event, zfields...)
	}
}
