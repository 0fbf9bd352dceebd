package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/clinic-commerce/internal/domain"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

func paymentRouter(saga services.OrderSaga) http.Handler {
	r := chi.NewRouter()
	r.Route("/payments", NewPaymentHandlers(saga).Routes)
	r.Route("/webhooks", NewWebhookHandlers(saga).Routes)
	return r
}

func TestPaymentHandlers_RedirectReturn(t *testing.T) {
	var captured services.RedirectReturnCommand
	saga := &stubOrderSaga{
		redirectFn: func(_ context.Context, cmd services.RedirectReturnCommand) (services.RedirectReturnResult, error) {
			captured = cmd
			order := domain.Order{ID: "ord_1", Status: domain.OrderStatusPending, InventoryReserved: true}
			return services.RedirectReturnResult{OrderID: "ord_1", Outcome: services.OutcomeConfirmed, Order: &order}, nil
		},
	}

	rr := httptest.NewRecorder()
	paymentRouter(saga).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/redirect/return?token=abc&code=00&signature=f00d", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Params.Get("token") != "abc" || captured.Params.Get("code") != "00" || captured.Params.Get("signature") != "f00d" {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp redirectReturnResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Outcome != services.OutcomeConfirmed || resp.Order == nil || resp.Order.ID != "ord_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestPaymentHandlers_RedirectReturnFailures(t *testing.T) {
	saga := &stubOrderSaga{
		redirectFn: func(context.Context, services.RedirectReturnCommand) (services.RedirectReturnResult, error) {
			return services.RedirectReturnResult{}, fmt.Errorf("%w: token expired", services.ErrPaymentVerificationFailed)
		},
	}

	rr := httptest.NewRecorder()
	paymentRouter(saga).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/redirect/return", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	paymentRouter(saga).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/payments/redirect/return?token=stale&code=00", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["error"] != string(services.KindPaymentVerificationFailed) {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestWebhookHandlers_Stripe(t *testing.T) {
	var captured services.WebhookCommand
	saga := &stubOrderSaga{
		webhookFn: func(_ context.Context, cmd services.WebhookCommand) (services.WebhookResult, error) {
			captured = cmd
			return services.WebhookResult{EventID: "evt_1", Outcome: services.OutcomeOrderCreated, SessionID: "pos_1", OrderID: "ord_9"}, nil
		},
	}

	payload := `{"id":"evt_1","type":"checkout.session.completed"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	paymentRouter(saga).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Provider != "stripe" || captured.Signature != "t=1,v1=abc" || string(captured.Payload) != payload {
		t.Fatalf("unexpected command %+v", captured)
	}
	var resp webhookResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OrderID != "ord_9" || resp.Outcome != services.OutcomeOrderCreated {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestWebhookHandlers_StripeRejections(t *testing.T) {
	saga := &stubOrderSaga{
		webhookFn: func(context.Context, services.WebhookCommand) (services.WebhookResult, error) {
			return services.WebhookResult{}, &services.StockError{Lines: []services.FieldError{{Field: "p1", Message: "sold out"}}}
		},
	}

	rr := httptest.NewRecorder()
	paymentRouter(saga).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without signature, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rr = httptest.NewRecorder()
	paymentRouter(saga).ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 so the provider retries, got %d", rr.Code)
	}
}
