package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/seoulthread/api/internal/domain"
	pfirestore "github.com/seoulthread/api/internal/platform/firestore"
	"github.com/seoulthread/api/internal/repositories"
)

const cartsCollection = "carts"

type cartItemDocument struct {
	UserID    string    `firestore:"userId"`
	ProductID string    `firestore:"productId"`
	Quantity  int       `firestore:"quantity"`
	Size      string    `firestore:"size,omitempty"`
	Color     string    `firestore:"color,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CartRepository implements repositories.CartRepository backed by Firestore.
// Every read and delete double-checks the owning user so a row can never leak
// across accounts.
type CartRepository struct {
	provider *pfirestore.Provider
	items    *pfirestore.BaseRepository[cartItemDocument]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		provider: provider,
		items:    pfirestore.NewBaseRepository[cartItemDocument](provider, cartsCollection, nil, nil),
	}, nil
}

// Insert creates a new cart row.
func (r *CartRepository) Insert(ctx context.Context, item domain.CartItem) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	ref, err := r.items.DocumentRef(ctx, item.ID)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, encodeCartItem(item))
	return pfirestore.WrapError("carts.insert", err)
}

// Update replaces an existing cart row after verifying ownership.
func (r *CartRepository) Update(ctx context.Context, item domain.CartItem) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	if _, err := r.FindByID(ctx, item.UserID, item.ID); err != nil {
		return err
	}
	ref, err := r.items.DocumentRef(ctx, item.ID)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, encodeCartItem(item))
	return pfirestore.WrapError("carts.update", err)
}

// Delete removes one cart row owned by the user.
func (r *CartRepository) Delete(ctx context.Context, userID string, itemID string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	if _, err := r.FindByID(ctx, userID, itemID); err != nil {
		return err
	}
	ref, err := r.items.DocumentRef(ctx, itemID)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return pfirestore.WrapError("carts.delete", err)
}

// DeleteByIDs removes the listed rows for the user. Inside a transaction
// every row is read and ownership-checked before the first delete is
// buffered; Firestore rejects reads issued after a transactional write. A row
// owned by anyone else aborts with not found.
func (r *CartRepository) DeleteByIDs(ctx context.Context, userID string, itemIDs []string) error {
	if r == nil || r.provider == nil {
		return errors.New("cart repository not initialised")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return pfirestore.WrapError("carts.delete_by_ids", errors.New("user id is required"))
	}

	if tx, ok := txFromContext(ctx); ok {
		refs := make([]*firestore.DocumentRef, 0, len(itemIDs))
		for _, itemID := range itemIDs {
			ref, err := r.items.DocumentRef(ctx, itemID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				return pfirestore.WrapError("carts.delete_by_ids", err)
			}
			var doc cartItemDocument
			if err := snap.DataTo(&doc); err != nil {
				return pfirestore.WrapError("carts.delete_by_ids", err)
			}
			if doc.UserID != userID {
				return pfirestore.WrapError("carts.delete_by_ids", status.Error(codes.NotFound, "cart item not found for user"))
			}
			refs = append(refs, ref)
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return pfirestore.WrapError("carts.delete_by_ids", err)
			}
		}
		return nil
	}

	for _, itemID := range itemIDs {
		if err := r.Delete(ctx, userID, itemID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAll clears the user's cart and reports how many rows were removed.
func (r *CartRepository) DeleteAll(ctx context.Context, userID string) (int, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("cart repository not initialised")
	}
	items, err := r.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		ref, err := r.items.DocumentRef(ctx, item.ID)
		if err != nil {
			return 0, err
		}
		if _, err := ref.Delete(ctx); err != nil {
			return 0, pfirestore.WrapError("carts.delete_all", err)
		}
	}
	return len(items), nil
}

// FindByID fetches one cart row, failing with not found when the row belongs
// to a different user.
func (r *CartRepository) FindByID(ctx context.Context, userID string, itemID string) (domain.CartItem, error) {
	if r == nil || r.provider == nil {
		return domain.CartItem{}, errors.New("cart repository not initialised")
	}

	var (
		id  string
		doc cartItemDocument
	)

	if tx, ok := txFromContext(ctx); ok {
		ref, err := r.items.DocumentRef(ctx, itemID)
		if err != nil {
			return domain.CartItem{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.CartItem{}, pfirestore.WrapError("carts.get", err)
		}
		if err := snap.DataTo(&doc); err != nil {
			return domain.CartItem{}, pfirestore.WrapError("carts.get", err)
		}
		id = snap.Ref.ID
	} else {
		fetched, err := r.items.Get(ctx, itemID)
		if err != nil {
			return domain.CartItem{}, err
		}
		id = fetched.ID
		doc = fetched.Data
	}

	if doc.UserID != strings.TrimSpace(userID) {
		return domain.CartItem{}, pfirestore.WrapError("carts.get", status.Error(codes.NotFound, "cart item not found for user"))
	}
	return decodeCartItem(id, doc), nil
}

// FindByIDs fetches the listed rows for the user, preserving input order.
func (r *CartRepository) FindByIDs(ctx context.Context, userID string, itemIDs []string) ([]domain.CartItem, error) {
	items := make([]domain.CartItem, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		item, err := r.FindByID(ctx, userID, itemID)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// FindBySelection locates the row matching the (product, size, color)
// selection for the user, if one exists.
func (r *CartRepository) FindBySelection(ctx context.Context, userID string, productID string, size domain.Size, color string) (domain.CartItem, error) {
	if r == nil || r.provider == nil {
		return domain.CartItem{}, errors.New("cart repository not initialised")
	}

	docs, err := r.items.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("userId", "==", strings.TrimSpace(userID)).
			Where("productId", "==", strings.TrimSpace(productID)).
			Where("size", "==", string(size)).
			Where("color", "==", color).
			Limit(1)
	})
	if err != nil {
		return domain.CartItem{}, err
	}
	if len(docs) == 0 {
		return domain.CartItem{}, pfirestore.WrapError("carts.selection", status.Error(codes.NotFound, "no matching cart item"))
	}
	return decodeCartItem(docs[0].ID, docs[0].Data), nil
}

// ListByUser returns every cart row owned by the user, oldest first.
func (r *CartRepository) ListByUser(ctx context.Context, userID string) ([]domain.CartItem, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("cart repository not initialised")
	}

	docs, err := r.items.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("userId", "==", strings.TrimSpace(userID)).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}

	items := make([]domain.CartItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeCartItem(doc.ID, doc.Data))
	}
	return items, nil
}

func encodeCartItem(item domain.CartItem) cartItemDocument {
	return cartItemDocument{
		UserID:    item.UserID,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		Size:      string(item.Size),
		Color:     item.Color,
		CreatedAt: item.CreatedAt,
		UpdatedAt: item.UpdatedAt,
	}
}

func decodeCartItem(id string, doc cartItemDocument) domain.CartItem {
	return domain.CartItem{
		ID:        id,
		UserID:    doc.UserID,
		ProductID: doc.ProductID,
		Quantity:  doc.Quantity,
		Size:      domain.Size(doc.Size),
		Color:     doc.Color,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

var _ repositories.CartRepository = (*CartRepository)(nil)
