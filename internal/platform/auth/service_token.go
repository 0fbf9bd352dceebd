package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/hanko-field/clinic-commerce/internal/platform/httpx"
)

const (
	metricServiceTokenChecks  = "auth.service_token.verifications"
	metricServiceTokenLatency = "auth.service_token.duration"

	iapAssertionHeader = "X-Goog-Iap-Jwt-Assertion"
)

// ServiceCaller is the Google service account that called an internal route, typically Cloud
// Scheduler triggering the promotion sweep.
type ServiceCaller struct {
	Subject string
	Email   string
	Issuer  string
}

type serviceCallerKey struct{}

// WithServiceCaller stores the verified caller for internal handlers.
func WithServiceCaller(ctx context.Context, caller ServiceCaller) context.Context {
	return context.WithValue(ctx, serviceCallerKey{}, caller)
}

// ServiceCallerFromContext returns the caller verified by ServiceTokenVerifier.
func ServiceCallerFromContext(ctx context.Context) (ServiceCaller, bool) {
	caller, ok := ctx.Value(serviceCallerKey{}).(ServiceCaller)
	return caller, ok
}

// ServiceTokenVerifier admits Google-signed OIDC tokens minted for this service.
type ServiceTokenVerifier struct {
	keys     *KeySet
	audience string
	issuers  map[string]bool
	logger   *zap.Logger
	checks   metric.Int64Counter
	latency  metric.Float64Histogram
	now      func() time.Time
}

// ServiceTokenOption customises a ServiceTokenVerifier.
type ServiceTokenOption func(*ServiceTokenVerifier)

// WithServiceTokenLogger logs rejected tokens.
func WithServiceTokenLogger(logger *zap.Logger) ServiceTokenOption {
	return func(v *ServiceTokenVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithServiceTokenMeter records each verification outcome and its latency.
func WithServiceTokenMeter(meter metric.Meter) ServiceTokenOption {
	return func(v *ServiceTokenVerifier) {
		if meter != nil {
			v.instrument(meter)
		}
	}
}

// NewServiceTokenVerifier constructs a verifier for tokens whose aud is audience and whose iss
// is one of issuers.
func NewServiceTokenVerifier(keys *KeySet, audience string, issuers []string, opts ...ServiceTokenOption) *ServiceTokenVerifier {
	v := &ServiceTokenVerifier{
		keys:     keys,
		audience: strings.TrimSpace(audience),
		issuers:  make(map[string]bool, len(issuers)),
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, issuer := range issuers {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuers[issuer] = true
		}
	}
	v.instrument(otel.GetMeterProvider().Meter("github.com/hanko-field/clinic-commerce/internal/platform/auth"))
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

func (v *ServiceTokenVerifier) instrument(meter metric.Meter) {
	if counter, err := meter.Int64Counter(metricServiceTokenChecks,
		metric.WithDescription("Service token verifications on internal routes, by outcome")); err == nil {
		v.checks = counter
	}
	if histogram, err := meter.Float64Histogram(metricServiceTokenLatency,
		metric.WithDescription("Service token verification latency"), metric.WithUnit("ms")); err == nil {
		v.latency = histogram
	}
}

// Require rejects requests that do not carry a valid service token. The token is read from the
// Authorization bearer or from the IAP assertion header.
func (v *ServiceTokenVerifier) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()

			caller, outcome, err := v.verify(ctx, r)
			v.record(ctx, outcome, start)
			if err != nil {
				v.logger.Warn("service token rejected", zap.String("outcome", outcome), zap.Error(err))
				httpx.WriteError(ctx, w, rejection(outcome))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithServiceCaller(ctx, caller)))
		})
	}
}

var errServiceToken = errors.New("auth: service token rejected")

func (v *ServiceTokenVerifier) verify(ctx context.Context, r *http.Request) (ServiceCaller, string, error) {
	if v.audience == "" || len(v.issuers) == 0 || v.keys == nil {
		return ServiceCaller{}, "not_configured", errServiceToken
	}
	raw, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		raw = strings.TrimSpace(r.Header.Get(iapAssertionHeader))
	}
	if raw == "" {
		return ServiceCaller{}, "token_missing", errServiceToken
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	_, err := parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrSigningKeyUnknown
		}
		return v.keys.Lookup(ctx, kid)
	})
	switch {
	case errors.Is(err, ErrKeysUnavailable):
		return ServiceCaller{}, "keys_unavailable", err
	case err != nil:
		return ServiceCaller{}, "token_invalid", err
	}

	issuer, _ := claims["iss"].(string)
	if !v.issuers[issuer] {
		return ServiceCaller{}, "issuer_mismatch", errServiceToken
	}
	if !claims.VerifyAudience(v.audience, true) {
		return ServiceCaller{}, "audience_mismatch", errServiceToken
	}

	caller := ServiceCaller{Issuer: issuer}
	caller.Subject, _ = claims["sub"].(string)
	caller.Email, _ = claims["email"].(string)
	return caller, "ok", nil
}

func (v *ServiceTokenVerifier) record(ctx context.Context, outcome string, start time.Time) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if v.checks != nil {
		v.checks.Add(ctx, 1, attrs)
	}
	if v.latency != nil {
		v.latency.Record(ctx, float64(v.now().Sub(start).Microseconds())/1000, attrs)
	}
}

func rejection(outcome string) httpx.Error {
	switch outcome {
	case "not_configured", "keys_unavailable":
		return httpx.NewError("verification_unavailable", "service token verification unavailable", http.StatusServiceUnavailable)
	case "token_missing":
		return httpx.NewError("unauthenticated", "service token missing", http.StatusUnauthorized)
	default:
		return httpx.NewError("invalid_token", "service token verification failed", http.StatusUnauthorized)
	}
}
