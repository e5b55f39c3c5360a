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
	"github.com/seoulthread/api/internal/platform/textutil"
	"github.com/seoulthread/api/internal/repositories"
)

const (
	productsCollection    = "products"
	productSkusCollection = "productSkus"

	// keywordRangeCeiling closes the prefix range for keyword search.
	keywordRangeCeiling = ""
)

type productDocument struct {
	SKU           string    `firestore:"sku"`
	NormalizedSKU string    `firestore:"normalizedSku"`
	Name          string    `firestore:"name"`
	NameLower     string    `firestore:"nameLower"`
	Price         int64     `firestore:"price"`
	Category      string    `firestore:"category"`
	Generation    string    `firestore:"generation"`
	Image         string    `firestore:"image,omitempty"`
	Description   string    `firestore:"description,omitempty"`
	Sizes         []string  `firestore:"sizes,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
	UpdatedAt     time.Time `firestore:"updatedAt"`
}

// productSKUClaim reserves a normalized SKU, created alongside the product so
// two concurrent writers cannot share a SKU.
type productSKUClaim struct {
	ProductID string    `firestore:"productId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// ProductRepository implements repositories.ProductRepository backed by
// Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
	skus     *pfirestore.BaseRepository[productSKUClaim]
}

// NewProductRepository constructs a Firestore-backed catalog repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil),
		skus:     pfirestore.NewBaseRepository[productSKUClaim](provider, productSkusCollection, nil, nil),
	}, nil
}

// Insert creates the product and claims its SKU in one transaction. A taken
// SKU fails with a conflict.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}

	normalized := domain.NormalizeSKU(product.SKU)
	if normalized == "" {
		return pfirestore.WrapError("products.insert", errors.New("sku is required"))
	}

	productRef, err := r.products.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}
	skuRef, err := r.skus.DocumentRef(ctx, normalized)
	if err != nil {
		return err
	}
	claim := productSKUClaim{ProductID: product.ID, ClaimedAt: product.CreatedAt}

	write := func(tx *firestore.Transaction) error {
		if err := tx.Create(skuRef, claim); err != nil {
			return err
		}
		return tx.Create(productRef, encodeProduct(product))
	}

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("products.insert", write(tx))
	}
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return write(tx)
	})
	return pfirestore.WrapError("products.insert", err)
}

// Update replaces the product document. When the SKU changed, the old claim
// is released and the new one created in the same transaction.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}

	current, err := r.FindByID(ctx, product.ID)
	if err != nil {
		return err
	}

	productRef, err := r.products.DocumentRef(ctx, product.ID)
	if err != nil {
		return err
	}

	oldSKU := domain.NormalizeSKU(current.SKU)
	newSKU := domain.NormalizeSKU(product.SKU)
	if oldSKU == newSKU {
		_, err = productRef.Set(ctx, encodeProduct(product))
		return pfirestore.WrapError("products.update", err)
	}

	oldRef, err := r.skus.DocumentRef(ctx, oldSKU)
	if err != nil {
		return err
	}
	newRef, err := r.skus.DocumentRef(ctx, newSKU)
	if err != nil {
		return err
	}
	claim := productSKUClaim{ProductID: product.ID, ClaimedAt: product.UpdatedAt}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(newRef, claim); err != nil {
			return err
		}
		if err := tx.Delete(oldRef); err != nil {
			return err
		}
		return tx.Set(productRef, encodeProduct(product))
	})
	return pfirestore.WrapError("products.update", err)
}

// Delete removes the product and releases its SKU claim.
func (r *ProductRepository) Delete(ctx context.Context, productID string) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}

	current, err := r.FindByID(ctx, productID)
	if err != nil {
		return err
	}

	productRef, err := r.products.DocumentRef(ctx, productID)
	if err != nil {
		return err
	}
	skuRef, err := r.skus.DocumentRef(ctx, domain.NormalizeSKU(current.SKU))
	if err != nil {
		return err
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Delete(skuRef); err != nil {
			return err
		}
		return tx.Delete(productRef)
	})
	return pfirestore.WrapError("products.delete", err)
}

// FindByID fetches one product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	if tx, ok := txFromContext(ctx); ok {
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return domain.Product{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Product{}, pfirestore.WrapError("products.get", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Product{}, pfirestore.WrapError("products.get", err)
		}
		return decodeProduct(snap.Ref.ID, doc), nil
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return decodeProduct(doc.ID, doc.Data), nil
}

// FindBySKU resolves a product by its normalized SKU.
func (r *ProductRepository) FindBySKU(ctx context.Context, normalizedSKU string) (domain.Product, error) {
	if r == nil || r.provider == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	docs, err := r.products.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("normalizedSku", "==", domain.NormalizeSKU(normalizedSKU)).Limit(1)
	})
	if err != nil {
		return domain.Product{}, err
	}
	if len(docs) == 0 {
		return domain.Product{}, pfirestore.WrapError("products.by_sku", status.Error(codes.NotFound, "product not found"))
	}
	return decodeProduct(docs[0].ID, docs[0].Data), nil
}

// FindByIDs fetches the listed products, keyed by id. Missing ids are simply
// absent from the result; callers decide whether that is an error.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("product repository not initialised")
	}

	products := make(map[string]domain.Product, len(productIDs))
	for _, productID := range productIDs {
		if _, seen := products[productID]; seen {
			continue
		}
		product, err := r.FindByID(ctx, productID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		products[productID] = product
	}
	return products, nil
}

// List returns one page of products. Keyword filters by lowercased name
// prefix; with a keyword the page is ordered by name, otherwise newest first.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) (domain.Page[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.Product]{}, errors.New("product repository not initialised")
	}

	pager := normalisePagination(filter.Pagination, defaultOrderPageSize, maxOrderPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}

	base := client.Collection(productsCollection).Query
	if filter.Category != "" {
		base = base.Where("category", "==", string(filter.Category))
	}
	if filter.Generation != "" {
		base = base.Where("generation", "==", string(filter.Generation))
	}

	keyword := textutil.NormalizeSearchText(filter.Keyword)
	if keyword != "" {
		base = base.
			Where("nameLower", ">=", keyword).
			Where("nameLower", "<", keyword+keywordRangeCeiling)
	}

	total, err := aggregateCount(ctx, base, "products.count")
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}

	if keyword != "" {
		base = base.OrderBy("nameLower", firestore.Asc)
	} else {
		base = base.OrderBy("createdAt", firestore.Desc)
	}
	query := base.Offset(pager.Offset()).Limit(pager.PageSize)

	docs, err := r.products.Query(ctx, func(firestore.Query) firestore.Query { return query })
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}

	items := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeProduct(doc.ID, doc.Data))
	}

	return domain.Page[domain.Product]{
		Items:      items,
		Page:       pager.Page,
		PageSize:   pager.PageSize,
		TotalCount: total,
		HasMore:    int64(pager.Offset()+len(items)) < total,
	}, nil
}

// Count returns the all-time number of products.
func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("product repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	return aggregateCount(ctx, client.Collection(productsCollection).Query, "products.count")
}

// CountCreatedIn counts products added to the catalog inside [Start, End).
func (r *ProductRepository) CountCreatedIn(ctx context.Context, window repositories.SalesWindow) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("product repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(productsCollection).Query.
		Where("createdAt", ">=", window.Start).
		Where("createdAt", "<", window.End)
	return aggregateCount(ctx, query, "products.count_created_in")
}

func encodeProduct(product domain.Product) productDocument {
	sizes := make([]string, 0, len(product.Sizes))
	for _, size := range product.Sizes {
		sizes = append(sizes, string(size))
	}
	name := strings.TrimSpace(product.Name)
	return productDocument{
		SKU:           strings.TrimSpace(product.SKU),
		NormalizedSKU: domain.NormalizeSKU(product.SKU),
		Name:          name,
		NameLower:     textutil.NormalizeSearchText(name),
		Price:         product.Price,
		Category:      string(product.Category),
		Generation:    string(product.Generation),
		Image:         product.Image,
		Description:   product.Description,
		Sizes:         sizes,
		CreatedAt:     product.CreatedAt,
		UpdatedAt:     product.UpdatedAt,
	}
}

func decodeProduct(id string, doc productDocument) domain.Product {
	sizes := make([]domain.Size, 0, len(doc.Sizes))
	for _, size := range doc.Sizes {
		sizes = append(sizes, domain.Size(size))
	}
	return domain.Product{
		ID:          id,
		SKU:         doc.SKU,
		Name:        doc.Name,
		Price:       doc.Price,
		Category:    domain.ProductCategory(doc.Category),
		Generation:  domain.GenerationTag(doc.Generation),
		Image:       doc.Image,
		Description: doc.Description,
		Sizes:       sizes,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)
