package services

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/payments"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
	"github.com/hanko-field/clinic-commerce/internal/repositories/memory"
)

var fixtureNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	store      *memory.Store
	inventory  InventoryLedger
	promotions PromotionLedger
	pricing    PricingEngine
	notifier   *recordingNotifier
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	store := memory.NewStore()
	inventory, err := NewInventoryLedger(InventoryLedgerDeps{})
	if err != nil {
		t.Fatalf("NewInventoryLedger: %v", err)
	}
	promotions, err := NewPromotionLedger(PromotionLedgerDeps{
		UnitOfWork: store,
		Catalog:    store.Catalog(),
		Clock:      func() time.Time { return fixtureNow },
	})
	if err != nil {
		t.Fatalf("NewPromotionLedger: %v", err)
	}
	pricing, err := NewPricingEngine(PricingEngineDeps{Promotions: promotions})
	if err != nil {
		t.Fatalf("NewPricingEngine: %v", err)
	}
	return &ledgerFixture{
		store:      store,
		inventory:  inventory,
		promotions: promotions,
		pricing:    pricing,
		notifier:   &recordingNotifier{},
	}
}

func (f *ledgerFixture) newSaga(t *testing.T, checkout CheckoutGateway, redirect RedirectGateway) OrderSaga {
	t.Helper()
	var seq atomic.Int64
	saga, err := NewOrderSaga(OrderSagaDeps{
		UnitOfWork: f.store,
		Pricing:    f.pricing,
		Inventory:  f.inventory,
		Promotions: f.promotions,
		Checkout:   checkout,
		Redirect:   redirect,
		Notifier:   f.notifier,
		Clock:      func() time.Time { return fixtureNow },
		IDGenerator: func() string {
			return fmt.Sprintf("ID%04d", seq.Add(1))
		},
	})
	if err != nil {
		t.Fatalf("NewOrderSaga: %v", err)
	}
	return saga
}

func (f *ledgerFixture) seedProduct(t *testing.T, product domain.Product) {
	t.Helper()
	if err := f.store.UpsertProduct(context.Background(), product); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (f *ledgerFixture) seedPromotion(t *testing.T, promotion domain.Promotion) {
	t.Helper()
	if err := f.store.UpsertPromotion(context.Background(), promotion); err != nil {
		t.Fatalf("seed promotion: %v", err)
	}
}

func (f *ledgerFixture) product(t *testing.T, id string) domain.Product {
	t.Helper()
	product, err := f.store.GetProduct(context.Background(), id)
	if err != nil {
		t.Fatalf("get product %s: %v", id, err)
	}
	return product
}

func (f *ledgerFixture) promotion(t *testing.T, id string) domain.Promotion {
	t.Helper()
	promotion, err := f.store.GetPromotion(context.Background(), id)
	if err != nil {
		t.Fatalf("get promotion %s: %v", id, err)
	}
	return promotion
}

func (f *ledgerFixture) order(t *testing.T, id string) (domain.Order, bool) {
	t.Helper()
	var (
		order domain.Order
		found bool
	)
	err := f.store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetOrder(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		order, found = current, true
		return nil
	})
	if err != nil {
		t.Fatalf("get order %s: %v", id, err)
	}
	return order, found
}

func (f *ledgerFixture) session(t *testing.T, id string) (domain.PendingOrderSession, bool) {
	t.Helper()
	var (
		session domain.PendingOrderSession
		found   bool
	)
	err := f.store.RunInTx(context.Background(), func(ctx context.Context, tx repositories.Tx) error {
		current, err := tx.GetPendingSession(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		session, found = current, true
		return nil
	})
	if err != nil {
		t.Fatalf("get session %s: %v", id, err)
	}
	return session, found
}

func singleUnitProduct(id string, price domain.Money, qty int) domain.Product {
	return domain.Product{ID: id, Name: id, Price: price, Enabled: true, TotalQuantity: qty}
}

func twentyPercentPromotion(productID string, maxQty, usedQty int) domain.Promotion {
	return domain.Promotion{
		ID:        "promo-spring",
		Name:      "Spring",
		StartDate: fixtureNow.Add(-24 * time.Hour),
		EndDate:   fixtureNow.Add(24 * time.Hour),
		Active:    true,
		Entries: []domain.PromotionEntry{{
			ProductID:          productID,
			DiscountPercentage: 20,
			MaxQty:             maxQty,
			UsedQty:            usedQty,
		}},
	}
}

type recordingNotifier struct {
	mu            sync.Mutex
	notifications []Notification
	err           error
}

func (n *recordingNotifier) Notify(_ context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifications = append(n.notifications, notification)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.notifications))
	for _, notification := range n.notifications {
		out = append(out, notification.Type)
	}
	return out
}

type stubCheckoutGateway struct {
	createFn func(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	parseFn  func(ctx context.Context, providerKey string, payload []byte, signature string) (payments.WebhookEvent, error)
}

func (s *stubCheckoutGateway) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createFn == nil {
		return payments.CheckoutSession{ID: "cs_test", RedirectURL: "https://checkout.example/cs_test"}, nil
	}
	return s.createFn(ctx, paymentCtx, req)
}

func (s *stubCheckoutGateway) ParseWebhook(ctx context.Context, providerKey string, payload []byte, signature string) (payments.WebhookEvent, error) {
	if s.parseFn == nil {
		return payments.WebhookEvent{}, payments.ErrInvalidSignature
	}
	return s.parseFn(ctx, providerKey, payload, signature)
}

type stubRedirectGateway struct {
	buildFn  func(ctx context.Context, orderID string, amount int64, returnURL string) (string, error)
	verifyFn func(ctx context.Context, params url.Values) (payments.RedirectReturn, error)
}

func (s *stubRedirectGateway) BuildRedirectURL(ctx context.Context, orderID string, amount int64, returnURL string) (string, error) {
	if s.buildFn == nil {
		return fmt.Sprintf("https://bank.example/pay?orderId=%s&amount=%d", orderID, amount), nil
	}
	return s.buildFn(ctx, orderID, amount, returnURL)
}

func (s *stubRedirectGateway) VerifyReturn(ctx context.Context, params url.Values) (payments.RedirectReturn, error) {
	if s.verifyFn == nil {
		return payments.RedirectReturn{}, payments.ErrInvalidSignature
	}
	return s.verifyFn(ctx, params)
}

func redirectReturn(token, code string) RedirectReturnCommand {
	return RedirectReturnCommand{Params: url.Values{"token": {token}, "code": {code}}}
}
