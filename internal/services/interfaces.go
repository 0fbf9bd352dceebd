package services

import (
	"context"
	"net/url"
	"time"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/payments"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
)

// InventoryLedger owns product and variant stock counters. Writes only happen inside a store
// transaction supplied by the caller.
type InventoryLedger interface {
	CheckAvailable(ctx context.Context, reader repositories.LedgerReader, item domain.CartItem) (bool, error)
	Reserve(ctx context.Context, tx repositories.Tx, items []domain.CartItem) error
	Release(ctx context.Context, tx repositories.Tx, items []domain.CartItem) error
}

// PromotionLedger prices products against the active promotion and tracks consumed allowance.
type PromotionLedger interface {
	PriceFor(ctx context.Context, reader repositories.LedgerReader, productID string, basePrice domain.Money, quantity int, at time.Time) (domain.PriceQuote, error)
	RecordUsage(ctx context.Context, tx repositories.Tx, items []domain.CartItem, at time.Time) error
	Sweep(ctx context.Context, at time.Time) (PromotionSweepResult, error)
}

// PricingEngine validates a cart against live stock and prices every line. It never writes.
type PricingEngine interface {
	Price(ctx context.Context, reader repositories.LedgerReader, cart []domain.CartItem, at time.Time) (PricedCart, error)
}

// OrderSaga orchestrates order placement across the payment flows and owns order status changes.
type OrderSaga interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (PlaceOrderResult, error)
	HandleRedirectReturn(ctx context.Context, cmd RedirectReturnCommand) (RedirectReturnResult, error)
	HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error)
	CancelOrder(ctx context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error)
	TransitionOrder(ctx context.Context, actor domain.Actor, orderID string, to domain.OrderStatus, reason string) (domain.Order, error)
	GetOrder(ctx context.Context, actor domain.Actor, orderID string) (domain.Order, error)
}

// SlotEngine derives bookable slots and is the authoritative gate for requested slots.
type SlotEngine interface {
	AvailableSlots(ctx context.Context, doctorID, date string) (domain.DaySchedule, error)
	ValidateRequestedSlot(ctx context.Context, reader repositories.ScheduleReader, req SlotRequest) (ValidatedSlot, error)
}

// BookingService owns the booking lifecycle.
type BookingService interface {
	CreateBooking(ctx context.Context, actor domain.Actor, cmd CreateBookingCommand) (domain.Booking, error)
	TransitionBooking(ctx context.Context, actor domain.Actor, bookingID string, to domain.BookingStatus, reason string) (domain.Booking, error)
	DeleteBooking(ctx context.Context, actor domain.Actor, bookingID string) error
	GetBooking(ctx context.Context, actor domain.Actor, bookingID string) (domain.Booking, error)
}

// CatalogService administers the reference data the ledgers and the slot engine read.
type CatalogService interface {
	UpsertProduct(ctx context.Context, actor domain.Actor, product domain.Product) (domain.Product, error)
	UpsertPromotion(ctx context.Context, actor domain.Actor, promotion domain.Promotion) (domain.Promotion, error)
	UpsertClinic(ctx context.Context, actor domain.Actor, clinic domain.Clinic) (domain.Clinic, error)
	UpsertDoctor(ctx context.Context, actor domain.Actor, doctor domain.Doctor) (domain.Doctor, error)
}

// SystemService exposes health information to operational endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier delivers fire-and-forget notifications after state changes commit.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// CheckoutGateway abstracts payments.Manager for hosted checkout sessions and webhooks.
type CheckoutGateway interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	ParseWebhook(ctx context.Context, providerKey string, payload []byte, signature string) (payments.WebhookEvent, error)
}

// RedirectGateway abstracts the bank redirect adapter. VerifyReturn authenticates the full set of
// return parameters, result code included.
type RedirectGateway interface {
	BuildRedirectURL(ctx context.Context, orderID string, amount int64, returnURL string) (string, error)
	VerifyReturn(ctx context.Context, params url.Values) (payments.RedirectReturn, error)
}

// Command and DTO definitions ------------------------------------------------

// PricedCart is the output of the pricing engine.
type PricedCart struct {
	Lines         []domain.OrderLine
	Quotes        []domain.PriceQuote
	TotalAmount   domain.Money
	DiscountTotal domain.Money
}

type PromotionSweepResult struct {
	Checked     int
	Deactivated []string
}

type PlaceOrderCommand struct {
	Actor           domain.Actor
	Items           []domain.CartItem
	PaymentMethod   domain.PaymentMethod
	ShippingAddress domain.Address
	ReturnURL       string
	CancelURL       string
	Currency        string
	IdempotencyKey  string
}

type PlaceOrderResult struct {
	// Order is set for COD and GATEWAY_REDIRECT flows.
	Order *domain.Order
	// Session is set for the GATEWAY_WEBHOOK flow.
	Session     *domain.PendingOrderSession
	RedirectURL string
}

// RedirectReturnCommand carries the query the bank appended to the return URL.
type RedirectReturnCommand struct {
	Params url.Values
}

type RedirectReturnResult struct {
	OrderID string
	Outcome string
	Order   *domain.Order
}

type WebhookCommand struct {
	Provider  string
	Payload   []byte
	Signature string
}

type WebhookResult struct {
	EventID   string
	Outcome   string
	SessionID string
	OrderID   string
}

type SlotRequest struct {
	DoctorID  string
	ClinicID  string
	Date      string
	StartTime string
	EndTime   string
	// Bookings, when non-nil, replaces the reader lookup of existing bookings for the day.
	Bookings []domain.Booking
}

type ValidatedSlot struct {
	Doctor   domain.Doctor
	Clinic   domain.Clinic
	Interval domain.TimeRange
}

type CreateBookingCommand struct {
	DoctorID  string
	ClinicID  string
	Date      string
	StartTime string
	EndTime   string
	Contact   domain.ContactSnapshot
}

type Notification struct {
	Type      string
	Subject   string
	SubjectID string
	UserID    string
	Status    string
	ActorID   string
	Data      map[string]string
	CreatedAt time.Time
}

// SystemHealthReport enriches the dependency report with build metadata.
type SystemHealthReport struct {
	domain.HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
}
