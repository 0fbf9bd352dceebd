package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

func TestInternalHandlers_SweepPromotions(t *testing.T) {
	now := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	var sweptAt time.Time
	ledger := &stubPromotionLedger{
		sweepFn: func(_ context.Context, at time.Time) (services.PromotionSweepResult, error) {
			sweptAt = at
			return services.PromotionSweepResult{Checked: 3, Deactivated: []string{"promo_1"}}, nil
		},
	}
	r := chi.NewRouter()
	r.Route("/internal", NewInternalHandlers(ledger, WithInternalClock(func() time.Time { return now })).Routes)

	req := httptest.NewRequest(http.MethodPost, "/internal/promotions:sweep", nil)
	req = req.WithContext(auth.WithServiceCaller(req.Context(), auth.ServiceCaller{Email: "scheduler@clinic-prod.iam.gserviceaccount.com"}))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !sweptAt.Equal(now) {
		t.Fatalf("expected sweep at %s, got %s", now, sweptAt)
	}
	var resp sweepResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Checked != 3 || len(resp.Deactivated) != 1 || resp.Deactivated[0] != "promo_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.TriggeredBy != "scheduler@clinic-prod.iam.gserviceaccount.com" {
		t.Fatalf("expected scheduler caller, got %q", resp.TriggeredBy)
	}
}
