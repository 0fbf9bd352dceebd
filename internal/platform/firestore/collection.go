package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Snapshot pairs a decoded document with its id.
type Snapshot[T any] struct {
	ID   string
	Data T
}

// Collection is a typed view over one top-level collection, used for catalog documents that are
// written outside ledger transactions.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a collection name to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: name}
}

// Set overwrites the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.name+".set", err)
}

// Get loads one document. A missing document is a StoreError with IsNotFound.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var value T
	ref, err := c.doc(ctx, id)
	if err != nil {
		return value, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return value, WrapError(c.name+".get", err)
	}
	if err := snap.DataTo(&value); err != nil {
		return value, fmt.Errorf("firestore: decode %s/%s: %w", c.name, id, err)
	}
	return value, nil
}

// Query returns the documents selected by build, in query order.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]Snapshot[T], error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(c.name).Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []Snapshot[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(c.name+".query", err)
		}
		var value T
		if err := snap.DataTo(&value); err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
		}
		out = append(out, Snapshot[T]{ID: snap.Ref.ID, Data: value})
	}
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if id == "" {
		return nil, fmt.Errorf("firestore: %s document id is required", c.name)
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}
