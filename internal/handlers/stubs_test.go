package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

type stubOrderSaga struct {
	placeFn      func(context.Context, services.PlaceOrderCommand) (services.PlaceOrderResult, error)
	redirectFn   func(context.Context, services.RedirectReturnCommand) (services.RedirectReturnResult, error)
	webhookFn    func(context.Context, services.WebhookCommand) (services.WebhookResult, error)
	cancelFn     func(context.Context, domain.Actor, string, string) (domain.Order, error)
	transitionFn func(context.Context, domain.Actor, string, domain.OrderStatus, string) (domain.Order, error)
	getFn        func(context.Context, domain.Actor, string) (domain.Order, error)
}

func (s *stubOrderSaga) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
	if s.placeFn != nil {
		return s.placeFn(ctx, cmd)
	}
	return services.PlaceOrderResult{}, nil
}

func (s *stubOrderSaga) HandleRedirectReturn(ctx context.Context, cmd services.RedirectReturnCommand) (services.RedirectReturnResult, error) {
	if s.redirectFn != nil {
		return s.redirectFn(ctx, cmd)
	}
	return services.RedirectReturnResult{}, nil
}

func (s *stubOrderSaga) HandleWebhook(ctx context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, cmd)
	}
	return services.WebhookResult{}, nil
}

func (s *stubOrderSaga) CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, actor, orderID, reason)
	}
	return domain.Order{}, nil
}

func (s *stubOrderSaga) TransitionOrder(ctx context.Context, actor domain.Actor, orderID string, to domain.OrderStatus, reason string) (domain.Order, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, actor, orderID, to, reason)
	}
	return domain.Order{}, nil
}

func (s *stubOrderSaga) GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, orderID)
	}
	return domain.Order{}, nil
}

type stubBookingService struct {
	createFn     func(context.Context, domain.Actor, services.CreateBookingCommand) (domain.Booking, error)
	transitionFn func(context.Context, domain.Actor, string, domain.BookingStatus, string) (domain.Booking, error)
	deleteFn     func(context.Context, domain.Actor, string) error
	getFn        func(context.Context, domain.Actor, string) (domain.Booking, error)
}

func (s *stubBookingService) CreateBooking(ctx context.Context, actor domain.Actor, cmd services.CreateBookingCommand) (domain.Booking, error) {
	if s.createFn != nil {
		return s.createFn(ctx, actor, cmd)
	}
	return domain.Booking{}, nil
}

func (s *stubBookingService) TransitionBooking(ctx context.Context, actor domain.Actor, bookingID string, to domain.BookingStatus, reason string) (domain.Booking, error) {
	if s.transitionFn != nil {
		return s.transitionFn(ctx, actor, bookingID, to, reason)
	}
	return domain.Booking{}, nil
}

func (s *stubBookingService) DeleteBooking(ctx context.Context, actor domain.Actor, bookingID string) error {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, actor, bookingID)
	}
	return nil
}

func (s *stubBookingService) GetBooking(ctx context.Context, actor domain.Actor, bookingID string) (domain.Booking, error) {
	if s.getFn != nil {
		return s.getFn(ctx, actor, bookingID)
	}
	return domain.Booking{}, nil
}

type stubSlotEngine struct {
	availableFn func(context.Context, string, string) (domain.DaySchedule, error)
}

func (s *stubSlotEngine) AvailableSlots(ctx context.Context, doctorID, date string) (domain.DaySchedule, error) {
	if s.availableFn != nil {
		return s.availableFn(ctx, doctorID, date)
	}
	return domain.DaySchedule{}, nil
}

func (s *stubSlotEngine) ValidateRequestedSlot(context.Context, repositories.ScheduleReader, services.SlotRequest) (services.ValidatedSlot, error) {
	return services.ValidatedSlot{}, nil
}

type stubCatalogService struct {
	productFn   func(context.Context, domain.Actor, domain.Product) (domain.Product, error)
	promotionFn func(context.Context, domain.Actor, domain.Promotion) (domain.Promotion, error)
	clinicFn    func(context.Context, domain.Actor, domain.Clinic) (domain.Clinic, error)
	doctorFn    func(context.Context, domain.Actor, domain.Doctor) (domain.Doctor, error)
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, actor domain.Actor, product domain.Product) (domain.Product, error) {
	if s.productFn != nil {
		return s.productFn(ctx, actor, product)
	}
	return product, nil
}

func (s *stubCatalogService) UpsertPromotion(ctx context.Context, actor domain.Actor, promotion domain.Promotion) (domain.Promotion, error) {
	if s.promotionFn != nil {
		return s.promotionFn(ctx, actor, promotion)
	}
	return promotion, nil
}

func (s *stubCatalogService) UpsertClinic(ctx context.Context, actor domain.Actor, clinic domain.Clinic) (domain.Clinic, error) {
	if s.clinicFn != nil {
		return s.clinicFn(ctx, actor, clinic)
	}
	return clinic, nil
}

func (s *stubCatalogService) UpsertDoctor(ctx context.Context, actor domain.Actor, doctor domain.Doctor) (domain.Doctor, error) {
	if s.doctorFn != nil {
		return s.doctorFn(ctx, actor, doctor)
	}
	return doctor, nil
}

type stubPromotionLedger struct {
	sweepFn func(context.Context, time.Time) (services.PromotionSweepResult, error)
}

func (s *stubPromotionLedger) PriceFor(context.Context, repositories.LedgerReader, string, domain.Money, int, time.Time) (domain.PriceQuote, error) {
	return domain.PriceQuote{}, nil
}

func (s *stubPromotionLedger) RecordUsage(context.Context, repositories.Tx, []domain.CartItem, time.Time) error {
	return nil
}

func (s *stubPromotionLedger) Sweep(ctx context.Context, at time.Time) (services.PromotionSweepResult, error) {
	if s.sweepFn != nil {
		return s.sweepFn(ctx, at)
	}
	return services.PromotionSweepResult{}, nil
}

// withIdentity mounts routes behind a middleware that injects a fixed identity.
func withIdentity(uid string, roles []string, register func(chi.Router)) http.Handler {
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if uid != "" {
				r = r.WithContext(auth.WithIdentity(r.Context(), &auth.Identity{UID: uid, Roles: roles}))
			}
			next.ServeHTTP(w, r)
		})
	})
	register(router)
	return router
}

var (
	_ services.OrderSaga       = (*stubOrderSaga)(nil)
	_ services.BookingService  = (*stubBookingService)(nil)
	_ services.SlotEngine      = (*stubSlotEngine)(nil)
	_ services.CatalogService  = (*stubCatalogService)(nil)
	_ services.PromotionLedger = (*stubPromotionLedger)(nil)
)
