package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/platform/config"
	"github.com/hanko-field/clinic-commerce/internal/repositories/memory"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

func TestNewContainerRequiresRegistry(t *testing.T) {
	_, err := NewContainer(context.Background(), config.Config{}, nil, Deps{})
	require.Error(t, err)
}

func TestNewContainerWiresServicesOnMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	cfg := config.Config{
		PSP:     config.PSPConfig{Currency: "JPY"},
		Booking: config.BookingConfig{DefaultTimeZone: "UTC"},
	}

	container, err := NewContainer(ctx, cfg, store, Deps{Clock: func() time.Time { return now }})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Close(ctx) })

	svc := container.Services
	require.NotNil(t, svc.Orders)
	require.NotNil(t, svc.Bookings)
	require.NotNil(t, svc.Slots)
	require.NotNil(t, svc.Catalog)
	require.NotNil(t, svc.System)

	admin := domain.Actor{ID: "ops", Role: domain.RolePlatformAdmin}
	product, err := svc.Catalog.UpsertProduct(ctx, admin, domain.Product{Name: "Floss", Price: 300, Enabled: true, TotalQuantity: 1})
	require.NoError(t, err)

	customer := domain.Actor{ID: "user-1", Role: domain.RoleUser}
	result, err := svc.Orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		Actor:         customer,
		Items:         []domain.CartItem{{ProductID: product.ID, Quantity: 1}},
		PaymentMethod: domain.PaymentMethodCOD,
		ShippingAddress: domain.Address{
			Recipient: "Hana", Line1: "1-1", City: "Tokyo", PostalCode: "100-0001", Country: "JP",
		},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Order)
	require.Equal(t, domain.Money(300), result.Order.TotalAmount)

	_, err = svc.Orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		Actor:         customer,
		Items:         []domain.CartItem{{ProductID: product.ID, Quantity: 1}},
		PaymentMethod: domain.PaymentMethodCOD,
		ShippingAddress: domain.Address{
			Recipient: "Hana", Line1: "1-1", City: "Tokyo", PostalCode: "100-0001", Country: "JP",
		},
	})
	require.ErrorIs(t, err, services.ErrInsufficientStock)

	report, err := svc.System.HealthReport(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.HealthStatusOK, report.Status)
}

func TestServiceLoggerMasksContactFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := ServiceLogger(zap.New(core))

	log(context.Background(), "booking.created", map[string]any{
		"bookingId":    "B1",
		"contactEmail": "hana@example.com",
		"contactPhone": "090-1234-5678",
		"quantity":     2,
	})

	entries := logs.FilterMessage("booking.created").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "B1", fields["bookingId"])
	require.Equal(t, "h***@example.com", fields["contactEmail"])
	require.Equal(t, "*******5678", fields["contactPhone"])
	require.EqualValues(t, 2, fields["quantity"])
}
