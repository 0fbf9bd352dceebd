package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
)

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

// createHandler answers like the order endpoint and counts how often it ran.
func createHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/orders/ord_"+string(rune('0'+*calls)))
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]int{"attempt": *calls})
	})
}

func signedIn(uid string, req *http.Request) *http.Request {
	identity := &auth.Identity{UID: uid, Roles: []string{auth.RoleUser}}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func placeOrder(t *testing.T, h http.Handler, uid, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	if key != "" {
		req.Header.Set(DefaultHeader, key)
	}
	if uid != "" {
		req = signedIn(uid, req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if payload["error"] != code {
		t.Fatalf("expected error %q, got %v", code, payload["error"])
	}
}

func TestGuardReplaysFirstResponseForSameCaller(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	guard := NewGuard(NewMemoryStore(), WithClock(clock.Now))
	calls := 0
	h := guard.Require("orders.create")(createHandler(&calls, http.StatusCreated))

	first := placeOrder(t, h, "user-1", "key-1", `{"items":[{"productId":"p1","quantity":1}]}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := placeOrder(t, h, "user-1", "key-1", `{"items":[{"productId":"p1","quantity":1}]}`)
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical body, got %q vs %q", second.Body.String(), first.Body.String())
	}
	if second.Header().Get("Location") != first.Header().Get("Location") {
		t.Fatalf("expected Location %q, got %q", first.Header().Get("Location"), second.Header().Get("Location"))
	}
	if second.Header().Get(ReplayedHeader) != "true" {
		t.Fatalf("expected replay marker")
	}
	if first.Header().Get(ReplayedHeader) != "" {
		t.Fatalf("first response must not carry the replay marker")
	}
}

func TestGuardScopesKeysToCallerAndOperation(t *testing.T) {
	store := NewMemoryStore()
	guard := NewGuard(store)
	orderCalls, bookingCalls := 0, 0
	orders := guard.Require("orders.create")(createHandler(&orderCalls, http.StatusCreated))
	bookings := guard.Require("bookings.create")(createHandler(&bookingCalls, http.StatusCreated))

	placeOrder(t, orders, "user-1", "shared", `{}`)
	placeOrder(t, orders, "user-2", "shared", `{}`)
	placeOrder(t, bookings, "user-1", "shared", `{}`)

	if orderCalls != 2 {
		t.Fatalf("expected each customer to place their own order, got %d calls", orderCalls)
	}
	if bookingCalls != 1 {
		t.Fatalf("expected booking creation to run, got %d calls", bookingCalls)
	}
}

func TestGuardRejectsKeyReusedWithDifferentBody(t *testing.T) {
	guard := NewGuard(NewMemoryStore())
	calls := 0
	h := guard.Require("orders.create")(createHandler(&calls, http.StatusCreated))

	placeOrder(t, h, "user-1", "key-1", `{"quantity":1}`)
	rr := placeOrder(t, h, "user-1", "key-1", `{"quantity":2}`)

	assertErrorCode(t, rr, http.StatusConflict, "idempotency_key_reused")
	if calls != 1 {
		t.Fatalf("expected handler to run once, ran %d times", calls)
	}
}

func TestGuardRejectsConcurrentAttempt(t *testing.T) {
	store := NewMemoryStore()
	guard := NewGuard(store)
	calls := 0
	h := guard.Require("orders.create")(createHandler(&calls, http.StatusCreated))

	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`))
	key := Key{Operation: "orders.create", Caller: "user-1", Value: "key-1", Fingerprint: fingerprint(req, []byte(`{}`))}
	if _, _, err := store.Claim(context.Background(), key, time.Now(), time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	rr := placeOrder(t, h, "user-1", "key-1", `{}`)
	assertErrorCode(t, rr, http.StatusConflict, "idempotency_in_progress")
	if calls != 0 {
		t.Fatalf("expected handler not to run")
	}
}

func TestGuardLeavesServerFaultsRetryable(t *testing.T) {
	guard := NewGuard(NewMemoryStore())
	calls := 0
	status := http.StatusServiceUnavailable
	h := guard.Require("orders.create")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		createHandler(&calls, status).ServeHTTP(w, r)
	}))

	if rr := placeOrder(t, h, "user-1", "key-1", `{}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	status = http.StatusCreated
	if rr := placeOrder(t, h, "user-1", "key-1", `{}`); rr.Code != http.StatusCreated {
		t.Fatalf("expected retry to succeed, got %d", rr.Code)
	}
	if calls != 2 {
		t.Fatalf("expected two executions, got %d", calls)
	}
}

func TestGuardStoresClientErrors(t *testing.T) {
	guard := NewGuard(NewMemoryStore())
	calls := 0
	h := guard.Require("orders.create")(createHandler(&calls, http.StatusConflict))

	placeOrder(t, h, "user-1", "key-1", `{}`)
	rr := placeOrder(t, h, "user-1", "key-1", `{}`)
	if rr.Code != http.StatusConflict || calls != 1 {
		t.Fatalf("expected stored 409 replay, got %d after %d calls", rr.Code, calls)
	}
}

func TestGuardExpiredKeyRunsAgain(t *testing.T) {
	clock := &fixedClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	guard := NewGuard(NewMemoryStore(), WithClock(clock.Now), WithTTL(time.Hour))
	calls := 0
	h := guard.Require("orders.create")(createHandler(&calls, http.StatusCreated))

	placeOrder(t, h, "user-1", "key-1", `{}`)
	clock.now = clock.now.Add(2 * time.Hour)
	rr := placeOrder(t, h, "user-1", "key-1", `{}`)

	if calls != 2 {
		t.Fatalf("expected expired key to run again, got %d calls", calls)
	}
	if rr.Header().Get(ReplayedHeader) != "" {
		t.Fatalf("expected fresh response")
	}
}

func TestGuardPassThroughAndValidation(t *testing.T) {
	guard := NewGuard(NewMemoryStore(), WithHeader("X-Request-Key"))
	calls := 0
	h := guard.Require("orders.create")(createHandler(&calls, http.StatusCreated))

	// no key means no guard
	req := signedIn("user-1", httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`)))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("expected pass through, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`))
	req.Header.Set("X-Request-Key", "key-1")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assertErrorCode(t, rr, http.StatusUnauthorized, "unauthenticated")

	req = signedIn("user-1", httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`)))
	req.Header.Set("X-Request-Key", strings.Repeat("k", maxKeyLength+1))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assertErrorCode(t, rr, http.StatusBadRequest, "invalid_idempotency_key")

	if calls != 1 {
		t.Fatalf("expected rejected requests not to reach the handler, got %d calls", calls)
	}
}

func TestMemoryStoreAbandonKeepsCompletedResponses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	key := Key{Operation: "bookings.create", Caller: "user-1", Value: "k", Fingerprint: "fp"}

	if _, _, err := store.Claim(ctx, key, now, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Complete(ctx, key, Response{StatusCode: http.StatusCreated, Body: []byte(`{}`)}, now, time.Minute); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Abandon(ctx, key); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	outcome, record, err := store.Claim(ctx, key, now, time.Minute)
	if err != nil || outcome != OutcomeReplay || record.StatusCode != http.StatusCreated {
		t.Fatalf("expected replay after abandon, got %v %+v %v", outcome, record, err)
	}

	removed, err := store.PurgeExpired(ctx, now.Add(2*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one purged record, got %d (%v)", removed, err)
	}
}
