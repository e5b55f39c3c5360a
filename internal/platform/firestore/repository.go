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

// Document pairs a decoded entity with its Firestore metadata.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
	ReadTime   time.Time
}

// MutationResult reports the server timestamp of a write.
type MutationResult struct {
	UpdateTime time.Time
}

// Encoder converts an entity to its persisted representation.
type Encoder[T any] func(ctx context.Context, value T) (any, error)

// Decoder hydrates an entity from a document snapshot.
type Decoder[T any] func(ctx context.Context, snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder shapes a collection query before it runs.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository gives repositories typed access to one collection. Passing
// nil for encode or decode selects struct-tag based (de)serialisation.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
	encode     Encoder[T]
	decode     Decoder[T]
}

// NewBaseRepository binds a repository to a collection on the provider.
func NewBaseRepository[T any](provider *Provider, collection string, encode Encoder[T], decode Decoder[T]) *BaseRepository[T] {
	if encode == nil {
		encode = func(_ context.Context, value T) (any, error) { return value, nil }
	}
	if decode == nil {
		decode = func(_ context.Context, snap *firestore.DocumentSnapshot) (T, error) {
			var entity T
			err := snap.DataTo(&entity)
			return entity, err
		}
	}
	return &BaseRepository[T]{
		provider:   provider,
		collection: strings.TrimSpace(collection),
		encode:     encode,
		decode:     decode,
	}
}

// Set writes the value under the given document ID, creating or replacing it.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) (MutationResult, error) {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}
	payload, err := r.encode(ctx, value)
	if err != nil {
		return MutationResult{}, fmt.Errorf("firestore: encode %s/%s: %w", r.collection, id, err)
	}
	result, err := ref.Set(ctx, payload, opts...)
	if err != nil {
		return MutationResult{}, WrapError(r.op("set"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Update applies field-level updates to an existing document.
func (r *BaseRepository[T]) Update(ctx context.Context, id string, updates []firestore.Update, opts ...firestore.Precondition) (MutationResult, error) {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return MutationResult{}, err
	}
	result, err := ref.Update(ctx, updates, opts...)
	if err != nil {
		return MutationResult{}, WrapError(r.op("update"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Get loads and decodes a single document.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return r.wrap(ctx, snap)
}

// Query runs a query over the collection and decodes every result.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var out []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		doc, err := r.wrap(ctx, snap)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", r.collection, snap.Ref.ID, err)
		}
		out = append(out, doc)
	}
}

// DocumentRef exposes the raw reference for transactional reads and writes.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) wrap(ctx context.Context, snap *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(ctx, snap)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       entity,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
		ReadTime:   snap.ReadTime,
	}, nil
}

func (r *BaseRepository[T]) op(action string) string {
	if r == nil || r.collection == "" {
		return "firestore." + action
	}
	return r.collection + "." + action
}
