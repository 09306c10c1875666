package idempotency

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultFirestoreCollection = "idempotencyKeys"

// FirestoreStore keeps one document per key. Expired documents are removed by Purge or by a
// Firestore TTL policy on expiresAt.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

var _ Store = (*FirestoreStore)(nil)

// FirestoreOption customises the Firestore store.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries on contention.
func WithMaxAttempts(n int) FirestoreOption {
	return func(s *FirestoreStore) {
		if n > 0 {
			s.attempts = n
		}
	}
}

func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: firestore client is required")
	}
	s := &FirestoreStore{client: client, collection: defaultFirestoreCollection, attempts: 5}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

type keyDocument struct {
	Scope       string              `firestore:"scope"`
	Value       string              `firestore:"value"`
	Fingerprint string              `firestore:"fingerprint"`
	State       string              `firestore:"state"`
	Status      int                 `firestore:"status,omitempty"`
	Headers     map[string][]string `firestore:"headers,omitempty"`
	Body        []byte              `firestore:"body,omitempty"`
	ClaimedAt   time.Time           `firestore:"claimedAt"`
	ExpiresAt   time.Time           `firestore:"expiresAt"`
}

func documentFromEntry(e Entry) keyDocument {
	return keyDocument{
		Scope:       e.Scope,
		Value:       e.Value,
		Fingerprint: e.Fingerprint,
		State:       string(e.State),
		Status:      e.Response.Status,
		Headers:     e.Response.Headers,
		Body:        e.Response.Body,
		ClaimedAt:   e.ClaimedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (d keyDocument) entry() Entry {
	return Entry{
		Scope:       d.Scope,
		Value:       d.Value,
		Fingerprint: d.Fingerprint,
		State:       State(d.State),
		Response:    Response{Status: d.Status, Headers: http.Header(d.Headers), Body: d.Body},
		ClaimedAt:   d.ClaimedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}

func (s *FirestoreStore) doc(key Key) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(key.ID())
}

// load reads the stored entry inside tx; ok is false when the document does not exist.
func load(tx *firestore.Transaction, ref *firestore.DocumentRef) (Entry, bool, error) {
	snap, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var doc keyDocument
	if err := snap.DataTo(&doc); err != nil {
		return Entry{}, false, fmt.Errorf("idempotency: decode %s: %w", ref.ID, err)
	}
	return doc.entry(), true, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key Key, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	ref := s.doc(key)

	var claim Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, found, err := load(tx, ref)
		if err != nil {
			return err
		}
		if found && !existing.expired(now) {
			claim, err = resolve(existing, key)
			return err
		}
		entry := newInFlight(key, now, effectiveTTL(ttl))
		claim = Claim{Outcome: Acquired, Entry: entry}
		return tx.Set(ref, documentFromEntry(entry))
	}, firestore.MaxAttempts(s.attempts))
	if err != nil {
		return Claim{}, err
	}
	return claim, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key Key, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ref := s.doc(key)
	response := Response{
		Status:  resp.Status,
		Headers: replayableHeaders(resp.Headers),
		Body:    append([]byte(nil), resp.Body...),
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		entry, found, err := load(tx, ref)
		if err != nil {
			return err
		}
		if found && entry.Fingerprint != key.Fingerprint {
			return ErrKeyReused
		}
		if !found {
			entry = newInFlight(key, now, 0)
		}
		entry.State = StateDone
		entry.Response = response
		entry.ExpiresAt = now.Add(effectiveTTL(ttl))
		return tx.Set(ref, documentFromEntry(entry))
	}, firestore.MaxAttempts(s.attempts))
}

func (s *FirestoreStore) Abandon(ctx context.Context, key Key) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// Purge deletes up to limit expired documents in one batch.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	docs, err := s.client.Collection(s.collection).
		Where("expiresAt", "<=", now.UTC()).
		OrderBy("expiresAt", firestore.Asc).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("idempotency: query expired keys: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return 0, fmt.Errorf("idempotency: delete %s: %w", doc.Ref.ID, err)
		}
	}
	bw.End()
	return len(docs), nil
}
