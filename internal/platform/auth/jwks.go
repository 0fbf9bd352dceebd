package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
)

var (
	// ErrSigningKeyUnknown is returned when no published key matches a token's kid.
	ErrSigningKeyUnknown = errors.New("auth: signing key unknown")
	// ErrKeysUnavailable wraps failures to fetch or decode the published key set.
	ErrKeysUnavailable = errors.New("auth: signing keys unavailable")
)

const (
	defaultKeySetTTL = time.Hour
	keySetTimeout    = 5 * time.Second
	// Unknown kids force a refetch at most this often, so forged kids cannot hammer the issuer.
	minForcedRefresh = 30 * time.Second
)

// KeySet holds the issuer's published RSA keys. It refetches when the Cache-Control lifetime
// lapses or when a token names a kid it has not seen.
type KeySet struct {
	url    string
	client *http.Client
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	fetchMu   sync.Mutex
	mu        sync.RWMutex
	keys      map[string]jose.JSONWebKey
	expires   time.Time
	lastFetch time.Time
}

// KeySetOption customises a KeySet.
type KeySetOption func(*KeySet)

// WithKeySetLogger logs refreshes.
func WithKeySetLogger(logger *zap.Logger) KeySetOption {
	return func(k *KeySet) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithKeySetTTL is the lifetime used when the issuer sends no max-age.
func WithKeySetTTL(ttl time.Duration) KeySetOption {
	return func(k *KeySet) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

// NewKeySet constructs a KeySet for the JWKS document at url.
func NewKeySet(url string, opts ...KeySetOption) *KeySet {
	k := &KeySet{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: keySetTimeout},
		logger: zap.NewNop(),
		ttl:    defaultKeySetTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Lookup returns the public key published under kid.
func (k *KeySet) Lookup(ctx context.Context, kid string) (any, error) {
	now := k.now()
	key, found, fresh := k.cached(kid, now)
	if found && fresh {
		return key, nil
	}
	if err := k.fetch(ctx, found); err != nil {
		if found {
			// keep serving a known key while the issuer is unreachable
			k.logger.Warn("jwks refresh failed; serving cached key", zap.Error(err))
			return key, nil
		}
		return nil, err
	}
	if key, found, _ = k.cached(kid, now); found {
		return key, nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrSigningKeyUnknown, kid)
}

func (k *KeySet) cached(kid string, now time.Time) (any, bool, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	jwk, ok := k.keys[kid]
	if !ok {
		return nil, false, false
	}
	return jwk.Key, true, now.Before(k.expires)
}

// fetch reloads the document. A kid miss (stale == false) is throttled by minForcedRefresh.
func (k *KeySet) fetch(ctx context.Context, stale bool) error {
	k.fetchMu.Lock()
	defer k.fetchMu.Unlock()

	now := k.now()
	k.mu.RLock()
	recent := !k.lastFetch.IsZero() && now.Sub(k.lastFetch) < minForcedRefresh
	k.mu.RUnlock()
	if recent && !stale {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	resp, err := k.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var doc jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrKeysUnavailable, err)
	}
	keys := make(map[string]jose.JSONWebKey, len(doc.Keys))
	for _, jwk := range doc.Keys {
		if jwk.KeyID != "" && jwk.Valid() && jwk.IsPublic() {
			keys[jwk.KeyID] = jwk
		}
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: no usable keys", ErrKeysUnavailable)
	}

	ttl := k.ttl
	if maxAge, ok := maxAge(resp.Header.Get("Cache-Control")); ok {
		ttl = maxAge
	}

	k.mu.Lock()
	k.keys = keys
	k.expires = now.Add(ttl)
	k.lastFetch = now
	k.mu.Unlock()

	k.logger.Info("jwks refreshed", zap.Int("keys", len(keys)), zap.Duration("ttl", ttl))
	return nil
}

func maxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
