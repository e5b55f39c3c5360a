package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/seoulthread/api/internal/domain"
	pstorage "github.com/seoulthread/api/internal/platform/storage"
	"github.com/seoulthread/api/internal/repositories"
)

const (
	productIDPrefix = "prd_"

	maxProductNameLength        = 200
	maxProductDescriptionLength = 10000

	productImageUploadExpiry = 15 * time.Minute
	productImageMaxSize      = 10 << 20
)

var productImageContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

var (
	// ErrCatalogInvalidInput indicates the caller supplied invalid catalog data.
	ErrCatalogInvalidInput = errors.New("catalog: invalid input")
	// ErrCatalogNotFound indicates the product does not exist.
	ErrCatalogNotFound = errors.New("catalog: not found")
	// ErrCatalogConflict indicates a duplicate SKU or concurrent modification.
	ErrCatalogConflict = errors.New("catalog: conflict")
)

// UploadURLSigner mints signed URLs for direct browser uploads.
type UploadURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts pstorage.SignedURLOptions) (pstorage.SignedURLResult, error)
}

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Products     repositories.ProductRepository
	Signer       UploadURLSigner
	AssetsBucket string
	Clock        func() time.Time
	IDGenerator  func() string
}

type catalogService struct {
	products  repositories.ProductRepository
	signer    UploadURLSigner
	bucket    string
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	newID     func() string
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Products == nil {
		return nil, errors.New("catalog service: product repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	return &catalogService{
		products:  deps.Products,
		signer:    deps.Signer,
		bucket:    strings.TrimSpace(deps.AssetsBucket),
		sanitizer: bluemonday.UGCPolicy(),
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
	}, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter ProductListFilter) (domain.Page[Product], error) {
	category := domain.ProductCategory(strings.TrimSpace(filter.Category))
	if category != "" && !category.Valid() {
		return domain.Page[Product]{}, fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, filter.Category)
	}
	generation := domain.GenerationTag(strings.TrimSpace(filter.Generation))
	if generation != "" && !generation.Valid() {
		return domain.Page[Product]{}, fmt.Errorf("%w: unknown generation %q", ErrCatalogInvalidInput, filter.Generation)
	}

	page, err := s.products.List(ctx, repositories.ProductListFilter{
		Category:   category,
		Generation: generation,
		Keyword:    filter.Keyword,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.Page[Product]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *catalogService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	product, err := s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}

	now := s.clock()
	product.ID = productIDPrefix + s.newID()
	product.CreatedAt = now
	product.UpdatedAt = now

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}

	current, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	product, err := s.buildProduct(cmd)
	if err != nil {
		return Product{}, err
	}
	product.ID = current.ID
	product.CreatedAt = current.CreatedAt
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, productID string) error {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.products.Delete(ctx, productID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// CreateImageUploadURL mints a signed PUT URL so the console uploads product
// images straight to the assets bucket.
func (s *catalogService) CreateImageUploadURL(ctx context.Context, cmd ImageUploadCommand) (ImageUpload, error) {
	if s.signer == nil || s.bucket == "" {
		return ImageUpload{}, errors.New("catalog service: upload signer is not configured")
	}

	fileName := path.Base(strings.TrimSpace(cmd.FileName))
	if fileName == "" || fileName == "." || fileName == "/" {
		return ImageUpload{}, fmt.Errorf("%w: file name is required", ErrCatalogInvalidInput)
	}
	contentType := strings.TrimSpace(cmd.ContentType)
	if contentType == "" {
		return ImageUpload{}, fmt.Errorf("%w: content type is required", ErrCatalogInvalidInput)
	}

	object := fmt.Sprintf("products/%s/%s", s.newID(), fileName)
	result, err := s.signer.SignedURL(ctx, s.bucket, object, pstorage.SignedURLOptions{
		Upload: &pstorage.UploadOptions{
			Method:              "PUT",
			ContentType:         contentType,
			AllowedContentTypes: productImageContentTypes,
			MaxSize:             productImageMaxSize,
			ExpiresIn:           productImageUploadExpiry,
		},
	})
	if err != nil {
		return ImageUpload{}, fmt.Errorf("%w: %v", ErrCatalogInvalidInput, err)
	}

	return ImageUpload{
		UploadURL: result.URL,
		PublicURL: fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, object),
		ExpiresAt: result.ExpiresAt,
	}, nil
}

// buildProduct validates the command and assembles the domain record. The
// description passes through an HTML sanitizer before storage.
func (s *catalogService) buildProduct(cmd UpsertProductCommand) (Product, error) {
	sku := domain.NormalizeSKU(cmd.SKU)
	if sku == "" {
		return Product{}, fmt.Errorf("%w: sku is required", ErrCatalogInvalidInput)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" || len(name) > maxProductNameLength {
		return Product{}, fmt.Errorf("%w: name is required and at most %d characters", ErrCatalogInvalidInput, maxProductNameLength)
	}
	if cmd.Price <= 0 {
		return Product{}, fmt.Errorf("%w: price must be positive", ErrCatalogInvalidInput)
	}
	category := domain.ProductCategory(strings.TrimSpace(cmd.Category))
	if !category.Valid() {
		return Product{}, fmt.Errorf("%w: unknown category %q", ErrCatalogInvalidInput, cmd.Category)
	}
	generation := domain.GenerationTag(strings.TrimSpace(cmd.Generation))
	if !generation.Valid() {
		return Product{}, fmt.Errorf("%w: unknown generation %q", ErrCatalogInvalidInput, cmd.Generation)
	}

	sizes := make([]domain.Size, 0, len(cmd.Sizes))
	for _, raw := range cmd.Sizes {
		size := domain.Size(strings.TrimSpace(raw))
		if size == "" {
			continue
		}
		if !size.Valid() {
			return Product{}, fmt.Errorf("%w: unknown size %q", ErrCatalogInvalidInput, raw)
		}
		sizes = append(sizes, size)
	}

	description := strings.TrimSpace(cmd.Description)
	if len(description) > maxProductDescriptionLength {
		return Product{}, fmt.Errorf("%w: description is at most %d characters", ErrCatalogInvalidInput, maxProductDescriptionLength)
	}
	description = s.sanitizer.Sanitize(description)

	return Product{
		SKU:         strings.TrimSpace(cmd.SKU),
		Name:        name,
		Price:       cmd.Price,
		Category:    category,
		Generation:  generation,
		Image:       strings.TrimSpace(cmd.Image),
		Description: description,
		Sizes:       sizes,
	}, nil
}

func (s *catalogService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCatalogNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCatalogConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("catalog: repository unavailable: %w", err)
		}
	}

	return err
}
