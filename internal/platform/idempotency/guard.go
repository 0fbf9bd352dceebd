package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/platform/httpx"
	"github.com/hanko-field/clinic-commerce/internal/platform/requestctx"
)

const (
	// DefaultHeader carries the client supplied key.
	DefaultHeader = "Idempotency-Key"

	// ReplayedHeader marks responses served from the store.
	ReplayedHeader = "Idempotent-Replayed"

	maxKeyLength       = 255
	maxFingerprintBody = 64 * 1024
)

// Guard replays the first response of a create operation when the client retries it with the same
// key. Keys are scoped to the operation and to the authenticated caller.
type Guard struct {
	store  Store
	header string
	ttl    time.Duration
	now    func() time.Time
}

// GuardOption customises a Guard.
type GuardOption func(*Guard)

// WithHeader overrides the request header holding the key.
func WithHeader(name string) GuardOption {
	return func(g *Guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = http.CanonicalHeaderKey(name)
		}
	}
}

// WithTTL sets how long completed responses are replayed.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard constructs a Guard over the store.
func NewGuard(store Store, opts ...GuardOption) *Guard {
	g := &Guard{
		store:  store,
		header: DefaultHeader,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Require wraps the handler of one create operation. It must run after authentication. Requests
// without a key go straight through.
func (g *Guard) Require(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if g == nil || g.store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			value := strings.TrimSpace(r.Header.Get(g.header))
			if value == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			logger := requestctx.Logger(ctx).With(zap.String("operation", operation))

			if len(value) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", g.header+" must be at most "+strconv.Itoa(maxKeyLength)+" characters", http.StatusBadRequest))
				return
			}
			actor, ok := auth.ActorFromContext(ctx)
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body could not be read", http.StatusBadRequest))
				return
			}
			if len(body) > maxFingerprintBody {
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			key := Key{
				Operation:   operation,
				Caller:      actor.ID,
				Value:       value,
				Fingerprint: fingerprint(r, body),
			}
			now := g.now().UTC()

			outcome, record, err := g.store.Claim(ctx, key, now, g.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "idempotency key was already used with a different request", http.StatusConflict))
				return
			case err != nil:
				logger.Error("idempotency claim failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "idempotency store unavailable", http.StatusServiceUnavailable))
				return
			case outcome == OutcomeReplay:
				logger.Info("idempotent replay", zap.String("caller", actor.ID), zap.Int("status", record.StatusCode))
				replay(w, record)
				return
			case outcome == OutcomeInFlight:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "a request with this idempotency key is still being processed", http.StatusConflict))
				return
			}

			var captured bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Discard()
			ww.Tee(&captured)

			completed := false
			defer func() {
				if completed {
					return
				}
				if err := g.store.Abandon(ctx, key); err != nil {
					logger.Warn("idempotency abandon failed", zap.Error(err))
				}
			}()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			// Server faults stay retryable under the same key.
			if status < http.StatusInternalServerError {
				resp := Response{StatusCode: status, Header: w.Header().Clone(), Body: captured.Bytes()}
				if err := g.store.Complete(ctx, key, resp, g.now().UTC(), g.ttl); err != nil {
					logger.Error("idempotency complete failed", zap.Error(err))
				} else {
					completed = true
				}
			}

			w.WriteHeader(status)
			_, _ = w.Write(captured.Bytes())
		})
	}
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(ReplayedHeader, "true")
	status := record.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

func fingerprint(r *http.Request, body []byte) string {
	h := sha256.New()
	_, _ = io.WriteString(h, r.Method)
	_, _ = io.WriteString(h, "\n")
	_, _ = io.WriteString(h, r.URL.EscapedPath())
	_, _ = io.WriteString(h, "\n")
	_, _ = h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}
