package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency:"

// ErrRedisContention is returned when optimistic updates keep losing to concurrent writers.
var ErrRedisContention = errors.New("idempotency: redis record contended")

// RedisOption customises the RedisStore behaviour.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the namespace prepended to every key.
func WithKeyPrefix(prefix string) RedisOption {
	return func(store *RedisStore) {
		if prefix != "" {
			store.prefix = prefix
		}
	}
}

// RedisStore keeps keys on a shared Redis instance. Expiry is delegated to key TTLs.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	maxAttempts int
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore constructs a Redis-backed store.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client:      client,
		prefix:      defaultRedisPrefix,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// Claim takes the key with SETNX and falls back to the stored record when it already exists.
func (s *RedisStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	now = now.UTC()
	pending := pendingRecord(key, now, ttl)
	data, err := json.Marshal(documentFor(pending))
	if err != nil {
		return OutcomeInFlight, Record{}, err
	}
	id := s.prefix + key.ID()

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		created, err := s.client.SetNX(ctx, id, data, ttlOrDefault(ttl)).Result()
		if err != nil {
			return OutcomeInFlight, Record{}, err
		}
		if created {
			return OutcomeProceed, pending, nil
		}
		existing, err := loadKeyDocument(ctx, s.client, id)
		if errors.Is(err, redis.Nil) {
			// lapsed between SETNX and GET
			continue
		}
		if err != nil {
			return OutcomeInFlight, Record{}, err
		}
		record := existing.record()
		outcome, err := outcomeFor(record, key)
		return outcome, record, err
	}
	return OutcomeInFlight, Record{}, ErrRedisContention
}

// Complete stores the response under WATCH so a concurrent claim with another body is never
// overwritten.
func (s *RedisStore) Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	id := s.prefix + key.ID()
	return s.watch(ctx, id, func(tx *redis.Tx) error {
		var prev *Record
		existing, err := loadKeyDocument(ctx, tx, id)
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			live := existing.record()
			prev = &live
		}
		record, err := completedRecord(prev, key, resp, now, ttl)
		if err != nil {
			return err
		}
		data, err := json.Marshal(documentFor(record))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, id, data, ttlOrDefault(ttl))
			return nil
		})
		return err
	})
}

// Abandon deletes a pending claim so the client may retry.
func (s *RedisStore) Abandon(ctx context.Context, key Key) error {
	id := s.prefix + key.ID()
	return s.watch(ctx, id, func(tx *redis.Tx) error {
		existing, err := loadKeyDocument(ctx, tx, id)
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if State(existing.State) != StatePending || existing.Fingerprint != key.Fingerprint {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, id)
			return nil
		})
		return err
	})
}

// PurgeExpired is a no-op: Redis evicts keys when their TTL lapses.
func (s *RedisStore) PurgeExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (s *RedisStore) watch(ctx context.Context, id string, fn func(*redis.Tx) error) error {
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		err := s.client.Watch(ctx, fn, id)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrRedisContention
}

func loadKeyDocument(ctx context.Context, getter redis.Cmdable, id string) (keyDocument, error) {
	raw, err := getter.Get(ctx, id).Bytes()
	if err != nil {
		return keyDocument{}, err
	}
	var doc keyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return keyDocument{}, err
	}
	return doc, nil
}
