package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotency_keys"
	defaultMaxAttempts = 5
	defaultPurgeBatch  = 100
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding idempotency keys.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// FirestoreStore keeps keys in Firestore, one document per Key.ID.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	now = now.UTC()
	ref := s.doc(key)

	var (
		outcome Outcome
		record  Record
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := readKeyDocument(tx, ref)
		if err != nil {
			return err
		}
		if found && !existing.record().expired(now) {
			record = existing.record()
			outcome, err = outcomeFor(record, key)
			return err
		}
		record = pendingRecord(key, now, ttl)
		outcome = OutcomeProceed
		return tx.Set(ref, documentFor(record))
	}, firestore.MaxAttempts(s.maxAttempts))
	return outcome, record, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref := s.doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := readKeyDocument(tx, ref)
		if err != nil {
			return err
		}
		var prev *Record
		if found && !existing.record().expired(now) {
			live := existing.record()
			prev = &live
		}
		record, err := completedRecord(prev, key, resp, now, ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, documentFor(record))
	}, firestore.MaxAttempts(s.maxAttempts))
}

// Abandon deletes a pending claim. Completed documents survive until they expire.
func (s *FirestoreStore) Abandon(ctx context.Context, key Key) error {
	ref := s.doc(key)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := readKeyDocument(tx, ref)
		if err != nil || !found {
			return err
		}
		if State(existing.State) != StatePending || existing.Fingerprint != key.Fingerprint {
			return nil
		}
		return tx.Delete(ref)
	}, firestore.MaxAttempts(s.maxAttempts))
}

func (s *FirestoreStore) PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeBatch
	}
	docs, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil || len(docs) == 0 {
		return 0, err
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *FirestoreStore) doc(key Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.ID())
}

func readKeyDocument(tx *firestore.Transaction, ref *firestore.DocumentRef) (keyDocument, bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return keyDocument{}, false, nil
	}
	if err != nil {
		return keyDocument{}, false, err
	}
	var doc keyDocument
	if err := snap.DataTo(&doc); err != nil {
		return keyDocument{}, false, err
	}
	return doc, true, nil
}

// keyDocument is the stored shape shared by the Firestore and Redis stores.
type keyDocument struct {
	Operation   string              `firestore:"operation" json:"operation"`
	Caller      string              `firestore:"caller" json:"caller"`
	Fingerprint string              `firestore:"fingerprint" json:"fingerprint"`
	State       string              `firestore:"state" json:"state"`
	StatusCode  int                 `firestore:"statusCode,omitempty" json:"statusCode,omitempty"`
	Header      map[string][]string `firestore:"header,omitempty" json:"header,omitempty"`
	Body        []byte              `firestore:"body,omitempty" json:"body,omitempty"`
	CreatedAt   time.Time           `firestore:"createdAt" json:"createdAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt" json:"expiresAt"`
}

func documentFor(r Record) keyDocument {
	return keyDocument{
		Operation:   r.Operation,
		Caller:      r.Caller,
		Fingerprint: r.Fingerprint,
		State:       string(r.State),
		StatusCode:  r.StatusCode,
		Header:      r.Header,
		Body:        r.Body,
		CreatedAt:   r.CreatedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func (d keyDocument) record() Record {
	return Record{
		Operation:   d.Operation,
		Caller:      d.Caller,
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		StatusCode:  d.StatusCode,
		Header:      d.Header,
		Body:        d.Body,
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
