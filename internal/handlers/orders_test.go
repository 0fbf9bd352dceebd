package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/platform/idempotency"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

func orderRouter(saga services.OrderSaga, uid string, roles ...string) http.Handler {
	handlers := NewOrderHandlers(nil, saga)
	return withIdentity(uid, roles, func(r chi.Router) {
		r.Route("/orders", handlers.Routes)
	})
}

func TestOrderHandlers_PlaceOrderCOD(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	var captured services.PlaceOrderCommand
	saga := &stubOrderSaga{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			captured = cmd
			order := domain.Order{
				ID:            "ord_1",
				UserID:        cmd.Actor.ID,
				Status:        domain.OrderStatusPending,
				PaymentMethod: cmd.PaymentMethod,
				Lines:         []domain.OrderLine{{ProductID: "p1", VariantCode: "red", Quantity: 2, UnitPrice: 900, Subtotal: 1800}},
				TotalAmount:   1800,
				CreatedAt:     now,
			}
			return services.PlaceOrderResult{Order: &order}, nil
		},
	}

	body := `{"items":[{"productId":" p1 ","variant":"red","quantity":2}],"paymentMethod":"cod","shippingAddress":{"recipient":"Hana","line1":"1-1","city":"Tokyo","postalCode":"100-0001","country":"JP"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	req.Header.Set("Idempotency-Key", "key-1")
	rr := httptest.NewRecorder()

	orderRouter(saga, "user-1", auth.RoleUser).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Actor.ID != "user-1" || captured.Actor.Role != domain.RoleUser {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if captured.PaymentMethod != domain.PaymentMethodCOD || captured.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].ProductID != "p1" || captured.Items[0].VariantSelector != "red" {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
	if captured.ShippingAddress.City != "Tokyo" {
		t.Fatalf("unexpected address %+v", captured.ShippingAddress)
	}

	var resp placeOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order == nil || resp.Order.ID != "ord_1" || resp.Order.TotalAmount != 1800 || resp.Session != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlers_PlaceOrderWebhookFlowReturnsSession(t *testing.T) {
	saga := &stubOrderSaga{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			session := domain.PendingOrderSession{ID: "pos_1", PaymentMethod: cmd.PaymentMethod, CheckoutURL: "https://checkout.example/s/1", TotalAmount: 500}
			return services.PlaceOrderResult{Session: &session, RedirectURL: session.CheckoutURL}, nil
		},
	}

	body := `{"items":[{"productId":"p1","quantity":1}],"paymentMethod":"GATEWAY_WEBHOOK"}`
	rr := httptest.NewRecorder()
	orderRouter(saga, "user-1", auth.RoleUser).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body)))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var resp placeOrderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Session == nil || resp.Session.ID != "pos_1" || resp.RedirectURL != "https://checkout.example/s/1" || resp.Order != nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOrderHandlers_PlaceOrderStockErrorCarriesLines(t *testing.T) {
	saga := &stubOrderSaga{
		placeFn: func(context.Context, services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			return services.PlaceOrderResult{}, &services.StockError{Lines: []services.FieldError{{Field: "items[0]", Message: "only 1 left"}}}
		},
	}

	body := `{"items":[{"productId":"p1","quantity":3}],"paymentMethod":"COD"}`
	rr := httptest.NewRecorder()
	orderRouter(saga, "user-1", auth.RoleUser).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body)))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	var resp struct {
		Error  string                 `json:"error"`
		Fields []services.FieldError `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != string(services.KindInsufficientStock) || len(resp.Fields) != 1 || resp.Fields[0].Field != "items[0]" {
		t.Fatalf("unexpected error body %+v", resp)
	}
}

func TestOrderHandlers_RejectsBadRequests(t *testing.T) {
	saga := &stubOrderSaga{}
	tests := []struct {
		name   string
		uid    string
		body   string
		status int
	}{
		{name: "anonymous", body: `{}`, status: http.StatusUnauthorized},
		{name: "empty body", uid: "user-1", status: http.StatusBadRequest},
		{name: "malformed json", uid: "user-1", body: `{"items":`, status: http.StatusBadRequest},
		{name: "oversized", uid: "user-1", body: `{"pad":"` + strings.Repeat("x", maxPlaceOrderBodySize) + `"}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			orderRouter(saga, tc.uid, auth.RoleUser).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(tc.body)))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
		})
	}
}

func TestOrderHandlers_GetAndCancel(t *testing.T) {
	var cancelReason string
	saga := &stubOrderSaga{
		getFn: func(_ context.Context, actor domain.Actor, orderID string) (domain.Order, error) {
			if actor.ID != "user-1" {
				return domain.Order{}, fmt.Errorf("%w: order %s", services.ErrNotFound, orderID)
			}
			return domain.Order{ID: orderID, UserID: actor.ID, Status: domain.OrderStatusPending}, nil
		},
		cancelFn: func(_ context.Context, actor domain.Actor, orderID, reason string) (domain.Order, error) {
			cancelReason = reason
			return domain.Order{ID: orderID, UserID: actor.ID, Status: domain.OrderStatusCancelled, CancelReason: reason}, nil
		},
	}

	rr := httptest.NewRecorder()
	orderRouter(saga, "user-1", auth.RoleUser).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	orderRouter(saga, "user-2", auth.RoleUser).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	orderRouter(saga, "user-1", auth.RoleUser).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", strings.NewReader(`{"reason":"changed my mind"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cancelReason != "changed my mind" {
		t.Fatalf("unexpected reason %q", cancelReason)
	}
	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Order.Status != string(domain.OrderStatusCancelled) {
		t.Fatalf("unexpected status %s", resp.Order.Status)
	}
}

func TestOrderHandlers_InternalErrorsAreOpaque(t *testing.T) {
	saga := &stubOrderSaga{
		getFn: func(context.Context, domain.Actor, string) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("firestore: deadline exceeded on orders/ord_1")
		},
	}
	rr := httptest.NewRecorder()
	orderRouter(saga, "user-1", auth.RoleUser).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "firestore") {
		t.Fatalf("internal detail leaked: %s", rr.Body.String())
	}
}

func TestOrderHandlers_PlaceOrderReplaysIdempotentRetry(t *testing.T) {
	calls := 0
	saga := &stubOrderSaga{
		placeFn: func(_ context.Context, cmd services.PlaceOrderCommand) (services.PlaceOrderResult, error) {
			calls++
			order := domain.Order{ID: fmt.Sprintf("ord_%d", calls), UserID: cmd.Actor.ID, Status: domain.OrderStatusPending, TotalAmount: 900}
			return services.PlaceOrderResult{Order: &order}, nil
		},
	}
	guard := idempotency.NewGuard(idempotency.NewMemoryStore())
	handlers := NewOrderHandlers(nil, saga, WithPlaceOrderGuard(guard.Require("orders.create")))
	router := withIdentity("user-1", []string{auth.RoleUser}, func(r chi.Router) {
		r.Route("/orders", handlers.Routes)
	})

	body := `{"items":[{"productId":"p1","quantity":1}],"paymentMethod":"cod","shippingAddress":{"recipient":"Hana","line1":"1-1","city":"Tokyo","postalCode":"100-0001","country":"JP"}}`
	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "retry-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := send()
	second := send()
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected a single placement, got %d", calls)
	}
	if second.Header().Get(idempotency.ReplayedHeader) != "true" {
		t.Fatalf("expected replay marker on retry")
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical bodies, got %s and %s", first.Body.String(), second.Body.String())
	}
}
