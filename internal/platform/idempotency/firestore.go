package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "idempotency_keys"
	defaultTxAttempts  = 5
	defaultSweepLimit  = 100
	expiresAtFieldPath = "expires_at"
)

// FirestoreOption configures a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection names the collection holding entries.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts bounds transaction retries.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// FirestoreStore shares entries between replicas. Each key maps to one
// document whose id is the hashed key.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

var _ Store = (*FirestoreStore)(nil)

// NewFirestoreStore wraps client.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: firestore client is required")
	}
	s := &FirestoreStore{client: client, collection: defaultCollection, attempts: defaultTxAttempts}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error) {
	var result Claim
	err := s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, current *Entry) error {
		c, write, err := claim(current, key, fingerprint, now.UTC(), ttl)
		if err != nil {
			return err
		}
		result = c
		if write == nil {
			return nil
		}
		return tx.Set(ref, encodeEntry(*write))
	})
	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	return s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, current *Entry) error {
		entry, err := finish(current, key, fingerprint, resp, now.UTC(), ttl)
		if err != nil {
			return err
		}
		return tx.Set(ref, encodeEntry(entry))
	})
}

// Release deletes the document only while fingerprint still owns it.
func (s *FirestoreStore) Release(ctx context.Context, key, fingerprint string) error {
	return s.inTx(ctx, key, func(tx *firestore.Transaction, ref *firestore.DocumentRef, current *Entry) error {
		if current == nil || current.Fingerprint != fingerprint {
			return nil
		}
		return tx.Delete(ref)
	})
}

// Sweep batch-deletes up to limit expired documents.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	docs, err := s.client.Collection(s.collection).
		Where(expiresAtFieldPath, "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).
		GetAll()
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

func (s *FirestoreStore) inTx(ctx context.Context, key string, fn func(*firestore.Transaction, *firestore.DocumentRef, *Entry) error) error {
	ref := s.client.Collection(s.collection).Doc(entryID(key))
	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			return fn(tx, ref, nil)
		case err != nil:
			return err
		}
		var doc entryDocument
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		entry := doc.decode()
		return fn(tx, ref, &entry)
	}, firestore.MaxAttempts(s.attempts))
}

type entryDocument struct {
	Key         string              `firestore:"key"`
	Fingerprint string              `firestore:"fingerprint"`
	Done        bool                `firestore:"done"`
	Status      int                 `firestore:"response_status,omitempty"`
	Headers     map[string][]string `firestore:"response_headers,omitempty"`
	Body        []byte              `firestore:"response_body,omitempty"`
	CreatedAt   time.Time           `firestore:"created_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func encodeEntry(e Entry) entryDocument {
	return entryDocument{
		Key:         e.Key,
		Fingerprint: e.Fingerprint,
		Done:        e.Done,
		Status:      e.Response.Status,
		Headers:     e.Response.Headers,
		Body:        e.Response.Body,
		CreatedAt:   e.CreatedAt,
		ExpiresAt:   e.ExpiresAt,
	}
}

func (d entryDocument) decode() Entry {
	return Entry{
		Key:         d.Key,
		Fingerprint: d.Fingerprint,
		Done:        d.Done,
		Response:    Response{Status: d.Status, Headers: d.Headers, Body: d.Body},
		CreatedAt:   d.CreatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
