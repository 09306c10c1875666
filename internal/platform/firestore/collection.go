package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot.
type Document[T any] struct {
	ID         string
	Data       T
	UpdateTime time.Time
}

// Collection gives typed access to one collection path. T is decoded with firestore struct tags.
// Every call made with a context from RunTransaction goes through that transaction.
type Collection[T any] struct {
	provider *Provider
	path     string
}

func NewCollection[T any](provider *Provider, path string) *Collection[T] {
	return &Collection[T]{provider: provider, path: strings.Trim(path, "/ ")}
}

func (c *Collection[T]) op(action string) string {
	return c.path + "." + action
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c.path == "" {
		return nil, errors.New("firestore: collection path is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.path), nil
}

func (c *Collection[T]) doc(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("firestore: %s: document id is required", c.path)
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{ID: snap.Ref.ID, Data: data, UpdateTime: snap.UpdateTime}, nil
}

// Get returns a not-found Error when the document is absent.
func (c *Collection[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return Document[T]{}, WrapError(c.op("get"), err)
	}
	return decode[T](snap)
}

// GetAll reads ids in one round trip. Absent documents are left out of the map.
func (c *Collection[T]) GetAll(ctx context.Context, ids []string) (map[string]Document[T], error) {
	out := make(map[string]Document[T], len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	refs := make([]*firestore.DocumentRef, len(ids))
	for i, id := range ids {
		ref, err := c.doc(ctx, id)
		if err != nil {
			return nil, err
		}
		refs[i] = ref
	}

	var snaps []*firestore.DocumentSnapshot
	var err error
	if tx, ok := TxFromContext(ctx); ok {
		snaps, err = tx.GetAll(refs)
	} else {
		var client *firestore.Client
		if client, err = c.provider.Client(ctx); err == nil {
			snaps, err = client.GetAll(ctx, refs)
		}
	}
	if err != nil {
		return nil, WrapError(c.op("get_all"), err)
	}

	for _, snap := range snaps {
		if snap == nil || !snap.Exists() {
			continue
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		out[doc.ID] = doc
	}
	return out, nil
}

// Query runs the query built by shape, or the whole collection when shape is nil.
func (c *Collection[T]) Query(ctx context.Context, shape func(firestore.Query) firestore.Query) ([]Document[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	q := coll.Query
	if shape != nil {
		q = shape(q)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		iter = tx.Documents(q)
	} else {
		iter = q.Documents(ctx)
	}
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// Set writes value, replacing the document unless merge options are given.
func (c *Collection[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = tx.Set(ref, value, opts...)
	} else {
		_, err = ref.Set(ctx, value, opts...)
	}
	return WrapError(c.op("set"), err)
}

// Create fails with a conflict Error when id is taken.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = tx.Create(ref, value)
	} else {
		_, err = ref.Create(ctx, value)
	}
	return WrapError(c.op("create"), err)
}

// Update applies field updates; a missing document is a not-found Error.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update, preconds ...firestore.Precondition) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = tx.Update(ref, updates, preconds...)
	} else {
		_, err = ref.Update(ctx, updates, preconds...)
	}
	return WrapError(c.op("update"), err)
}

// Delete is idempotent.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.doc(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		err = tx.Delete(ref)
	} else {
		_, err = ref.Delete(ctx)
	}
	return WrapError(c.op("delete"), err)
}
