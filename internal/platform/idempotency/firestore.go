package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection   = "idempotency_keys"
	defaultTxAttempts   = 5
	defaultCleanupLimit = 100
)

// FirestoreStore implements Store on a Firestore collection. Claims run in
// transactions so concurrent requests with the same key serialise on the
// document.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	txAttempts int
}

// FirestoreOption configures a FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the backing collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts sets the transaction retry budget.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.txAttempts = attempts
		}
	}
}

// NewFirestoreStore builds a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	s := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		txAttempts: defaultTxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FirestoreStore) doc(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(docID(key))
}

func (s *FirestoreStore) Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	var (
		outcome Outcome
		record  Record
	)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(key)
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		var doc keyDoc
		fresh := err != nil
		if !fresh {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			// An expired record is claimable again.
			fresh = !doc.ExpiresAt.IsZero() && !now.Before(doc.ExpiresAt)
		}

		if fresh {
			doc = keyDoc{
				Key:         key,
				Fingerprint: fingerprint,
				Status:      string(StatusPending),
				CreatedAt:   now,
				UpdatedAt:   now,
				ExpiresAt:   now.Add(ttl),
			}
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			outcome, record = OutcomeNew, doc.record()
			return nil
		}

		if doc.Status == string(StatusCompleted) {
			outcome, record = OutcomeReplay, doc.record()
		} else {
			outcome, record = OutcomeInFlight, doc.record()
		}
		return nil
	}, firestore.MaxAttempts(s.txAttempts))
	if err != nil {
		return 0, Record{}, err
	}
	return outcome, record, nil
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	headers := storableHeaders(resp.Headers)
	body := append([]byte(nil), resp.Body...)

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.doc(key)
		snap, err := tx.Get(ref)

		var doc keyDoc
		switch {
		case err == nil:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
		case status.Code(err) == codes.NotFound:
			doc = keyDoc{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		default:
			return err
		}
		if doc.CreatedAt.IsZero() {
			doc.CreatedAt = now
		}

		doc.Status = string(StatusCompleted)
		doc.ResponseStatus = resp.Status
		doc.ResponseHeaders = headers
		doc.ResponseBody = body
		doc.UpdatedAt = now
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	}, firestore.MaxAttempts(s.txAttempts))
}

func (s *FirestoreStore) Forget(ctx context.Context, key, _ string) error {
	_, err := s.doc(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = defaultCleanupLimit
	}

	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
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

type keyDoc struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func (d keyDoc) record() Record {
	return Record{
		Key:             d.Key,
		Fingerprint:     d.Fingerprint,
		Status:          Status(d.Status),
		ResponseStatus:  d.ResponseStatus,
		ResponseHeaders: d.ResponseHeaders,
		ResponseBody:    d.ResponseBody,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		ExpiresAt:       d.ExpiresAt,
	}
}
