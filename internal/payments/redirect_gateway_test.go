package payments

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"
)

const testRedirectKey = "0123456789abcdef"

func newTestRedirectGateway(t *testing.T, key string, ttl time.Duration, now time.Time) *RedirectGateway {
	t.Helper()
	gateway, err := NewRedirectGateway(RedirectGatewayConfig{
		BaseURL:    "https://bank.example/pay",
		SigningKey: []byte(key),
		TokenTTL:   ttl,
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new redirect gateway: %v", err)
	}
	return gateway
}

// bankReturn builds the query the bank appends to the return URL after processing rawURL.
func bankReturn(t *testing.T, key, rawURL, code string) url.Values {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	request := parsed.Query()
	params := url.Values{}
	params.Set(RedirectParamOrderID, request.Get(RedirectParamOrderID))
	params.Set(RedirectParamAmount, request.Get(RedirectParamAmount))
	params.Set(RedirectParamToken, request.Get(RedirectParamToken))
	params.Set(RedirectParamCode, code)
	params.Set(RedirectParamTxnRef, "bank-txn-1")
	params.Set(RedirectParamSignature, RedirectSignature([]byte(key), RedirectScopeReturn, params))
	return params
}

func TestRedirectGatewayRoundTrip(t *testing.T) {
	ctx := context.Background()
	gateway := newTestRedirectGateway(t, testRedirectKey, 0, time.Now())

	raw, err := gateway.BuildRedirectURL(ctx, "ord_1", 4200, "https://shop.example/return")
	if err != nil {
		t.Fatalf("build url: %v", err)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	query := parsed.Query()
	if query.Get("orderId") != "ord_1" || query.Get("amount") != "4200" {
		t.Fatalf("unexpected query %v", query)
	}
	if got := query.Get(RedirectParamSignature); got != RedirectSignature([]byte(testRedirectKey), RedirectScopeRequest, query) {
		t.Fatalf("expected signed request, got %q", got)
	}

	ret, err := gateway.VerifyReturn(ctx, bankReturn(t, testRedirectKey, raw, "SUCCESS"))
	if err != nil {
		t.Fatalf("verify return: %v", err)
	}
	if ret.OrderID != "ord_1" || ret.Amount != 4200 || ret.Code != "success" || ret.TransactionRef != "bank-txn-1" {
		t.Fatalf("unexpected return %#v", ret)
	}
}

func TestRedirectGatewayRejectsUnsignedReturn(t *testing.T) {
	ctx := context.Background()
	gateway := newTestRedirectGateway(t, testRedirectKey, 0, time.Now())

	raw, err := gateway.BuildRedirectURL(ctx, "ord_1", 4200, "https://shop.example/return")
	if err != nil {
		t.Fatalf("build url: %v", err)
	}
	parsed, _ := url.Parse(raw)
	request := parsed.Query()

	tests := []struct {
		name   string
		params func() url.Values
	}{
		{
			name: "token and code only",
			params: func() url.Values {
				return url.Values{RedirectParamToken: {request.Get(RedirectParamToken)}, RedirectParamCode: {"success"}}
			},
		},
		{
			name: "request signature reused",
			params: func() url.Values {
				params := url.Values{}
				for k, v := range request {
					params[k] = v
				}
				params.Set(RedirectParamCode, "success")
				return params
			},
		},
		{
			name: "code altered after signing",
			params: func() url.Values {
				params := bankReturn(t, testRedirectKey, raw, "declined")
				params.Set(RedirectParamCode, "success")
				return params
			},
		},
		{
			name: "signed by another key",
			params: func() url.Values {
				return bankReturn(t, "fedcba9876543210", raw, "success")
			},
		},
		{
			name: "amount differs from token",
			params: func() url.Values {
				params := bankReturn(t, testRedirectKey, raw, "success")
				params.Set(RedirectParamAmount, "1")
				params.Set(RedirectParamSignature, RedirectSignature([]byte(testRedirectKey), RedirectScopeReturn, params))
				return params
			},
		},
		{
			name: "duplicated code",
			params: func() url.Values {
				params := bankReturn(t, testRedirectKey, raw, "success")
				params.Add(RedirectParamCode, "declined")
				return params
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := gateway.VerifyReturn(ctx, tc.params()); !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected invalid signature, got %v", err)
			}
		})
	}
}

func TestRedirectGatewayRejectsForeignToken(t *testing.T) {
	ctx := context.Background()
	issuer := newTestRedirectGateway(t, testRedirectKey, 0, time.Now())
	verifier := newTestRedirectGateway(t, "fedcba9876543210", 0, time.Now())

	raw, err := issuer.BuildRedirectURL(ctx, "ord_1", 100, "")
	if err != nil {
		t.Fatalf("build url: %v", err)
	}
	params := bankReturn(t, "fedcba9876543210", raw, "success")
	if _, err := verifier.VerifyReturn(ctx, params); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
}

func TestRedirectGatewayHonoursTTL(t *testing.T) {
	ctx := context.Background()
	gateway := newTestRedirectGateway(t, testRedirectKey, time.Minute, time.Now().Add(-time.Hour))

	raw, err := gateway.BuildRedirectURL(ctx, "ord_1", 100, "")
	if err != nil {
		t.Fatalf("build url: %v", err)
	}
	if _, err := gateway.VerifyReturn(ctx, bankReturn(t, testRedirectKey, raw, "success")); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestNewRedirectGatewayValidatesConfig(t *testing.T) {
	if _, err := NewRedirectGateway(RedirectGatewayConfig{BaseURL: "not a url", SigningKey: []byte(testRedirectKey)}); err == nil {
		t.Fatalf("expected invalid url error")
	}
	if _, err := NewRedirectGateway(RedirectGatewayConfig{BaseURL: "https://bank.example", SigningKey: []byte("short")}); err == nil {
		t.Fatalf("expected short key error")
	}
}
