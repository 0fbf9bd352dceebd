package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/clinic-commerce/internal/platform/config"
	"github.com/hanko-field/clinic-commerce/internal/platform/observability"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Inventory  services.InventoryLedger
	Promotions services.PromotionLedger
	Pricing    services.PricingEngine
	Orders     services.OrderSaga
	Slots      services.SlotEngine
	Bookings   services.BookingService
	Catalog    services.CatalogService
	System     services.SystemService
}

// Deps carries the infrastructure assembled by the binary. Only the registry is mandatory.
type Deps struct {
	Checkout services.CheckoutGateway
	Redirect services.RedirectGateway
	Notifier services.Notifier
	Meter    metric.Meter
	Logger   *zap.Logger
	Build    services.BuildInfo
	// Health replaces the registry health report, typically to add cache and broker checks.
	Health repositories.HealthRepository
	Clock  func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides Firestore and a
// real broker, while tests can supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, deps Deps) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, deps Deps) (Services, error) {
	var svc Services
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	inventory, err := services.NewInventoryLedger(services.InventoryLedgerDeps{
		Logger: ServiceLogger(logger.Named("inventory")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory ledger: %w", err)
	}
	svc.Inventory = inventory

	promotions, err := services.NewPromotionLedger(services.PromotionLedgerDeps{
		UnitOfWork: reg,
		Catalog:    reg.Catalog(),
		Clock:      clock,
		Logger:     ServiceLogger(logger.Named("promotions")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion ledger: %w", err)
	}
	svc.Promotions = promotions

	pricing, err := services.NewPricingEngine(services.PricingEngineDeps{Promotions: promotions})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}
	svc.Pricing = pricing

	orders, err := services.NewOrderSaga(services.OrderSagaDeps{
		UnitOfWork:  reg,
		Pricing:     pricing,
		Inventory:   inventory,
		Promotions:  promotions,
		Checkout:    deps.Checkout,
		Redirect:    deps.Redirect,
		Notifier:    deps.Notifier,
		Meter:       deps.Meter,
		Currency:    cfg.PSP.Currency,
		Clock:       clock,
		IDGenerator: newULID,
		Logger:      ServiceLogger(logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order saga: %w", err)
	}
	svc.Orders = orders

	slots, err := services.NewSlotEngine(services.SlotEngineDeps{
		UnitOfWork:      reg,
		Clock:           clock,
		DefaultTimeZone: cfg.Booking.DefaultTimeZone,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build slot engine: %w", err)
	}
	svc.Slots = slots

	bookings, err := services.NewBookingService(services.BookingServiceDeps{
		UnitOfWork:  reg,
		Slots:       slots,
		Notifier:    deps.Notifier,
		Meter:       deps.Meter,
		Clock:       clock,
		IDGenerator: newULID,
		Logger:      ServiceLogger(logger.Named("bookings")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build booking service: %w", err)
	}
	svc.Bookings = bookings

	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog:     reg.Catalog(),
		Clock:       clock,
		IDGenerator: newULID,
		Logger:      ServiceLogger(logger.Named("catalog")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalog

	health := deps.Health
	if health == nil {
		health = reg.Health()
	}
	if health != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: health,
			Clock:            clock,
			Build:            deps.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}

// ServiceLogger adapts a zap logger to the event logger the services accept. Contact and payment
// handles are masked before they reach the sink.
func ServiceLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		return nil
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			if s, ok := v.(string); ok {
				zFields = append(zFields, zap.String(k, observability.MaskValue(k, s)))
				continue
			}
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}

func newULID() string {
	return ulid.Make().String()
}
