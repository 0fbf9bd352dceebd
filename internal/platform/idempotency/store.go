package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"time"
)

// DefaultTTL bounds how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrKeyReused is returned when a key comes back with a different request body.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

// Key identifies one client attempt at a guarded operation. Keys are namespaced by operation and
// caller, so two customers may send the same header value without colliding.
type Key struct {
	Operation   string
	Caller      string
	Value       string
	Fingerprint string
}

// ID is the storage identifier. The fingerprint is left out so that a reused key with another
// body is reported instead of being treated as a fresh attempt.
func (k Key) ID() string {
	sum := sha256.Sum256([]byte(k.Operation + "\x00" + k.Caller + "\x00" + k.Value))
	return hex.EncodeToString(sum[:])
}

// State is the lifecycle position of a stored key.
type State string

const (
	StatePending   State = "pending"
	StateCompleted State = "completed"
)

// Record is the persisted state of a key.
type Record struct {
	Operation   string
	Caller      string
	Fingerprint string
	State       State
	StatusCode  int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Outcome tells the guard how to treat a claimed key.
type Outcome int

const (
	// OutcomeProceed means the caller owns the key and should run the operation.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a stored response exists for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Response is the handler output captured for replay.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Store persists claims and completed responses.
type Store interface {
	Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Outcome, Record, error)
	Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error
	Abandon(ctx context.Context, key Key) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

func pendingRecord(key Key, now time.Time, ttl time.Duration) Record {
	return Record{
		Operation:   key.Operation,
		Caller:      key.Caller,
		Fingerprint: key.Fingerprint,
		State:       StatePending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttlOrDefault(ttl)),
	}
}

// outcomeFor applies the claim rules to a live record held under the same key.
func outcomeFor(existing Record, key Key) (Outcome, error) {
	if existing.Fingerprint != key.Fingerprint {
		return OutcomeInFlight, ErrKeyReused
	}
	if existing.State == StateCompleted {
		return OutcomeReplay, nil
	}
	return OutcomeInFlight, nil
}

// completedRecord builds the replayable record. prev is the live record, if any.
func completedRecord(prev *Record, key Key, resp Response, now time.Time, ttl time.Duration) (Record, error) {
	record := pendingRecord(key, now, ttl)
	if prev != nil {
		if prev.Fingerprint != key.Fingerprint {
			return Record{}, ErrKeyReused
		}
		record.CreatedAt = prev.CreatedAt
	}
	record.State = StateCompleted
	record.StatusCode = resp.StatusCode
	record.Header = replayableHeader(resp.Header)
	if len(resp.Body) > 0 {
		record.Body = append([]byte(nil), resp.Body...)
	}
	return record, nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

// hopHeaders describe the original connection and are never replayed.
var hopHeaders = map[string]bool{
	"Connection":          true,
	"Content-Length":      true,
	"Date":                true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

func replayableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		name = http.CanonicalHeaderKey(name)
		if hopHeaders[name] || len(values) == 0 {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
