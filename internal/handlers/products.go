package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/platform/httpx"
	"github.com/seoulthread/api/internal/services"
)

// ProductHandlers exposes the public storefront catalog endpoints.
type ProductHandlers struct {
	catalog services.CatalogService
}

// NewProductHandlers wires the catalog endpoints with their dependencies.
func NewProductHandlers(catalog services.CatalogService) *ProductHandlers {
	return &ProductHandlers{catalog: catalog}
}

// Routes registers the /products endpoints on the provided router.
func (h *ProductHandlers) Routes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{productID}", h.handleGet)
}

type productListResponse struct {
	Items      []productPayload `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalCount int64            `json:"total_count"`
	HasMore    bool             `json:"has_more"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID          string   `json:"id"`
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Price       int64    `json:"price"`
	Category    string   `json:"category"`
	Generation  string   `json:"generation"`
	Image       string   `json:"image,omitempty"`
	Description string   `json:"description,omitempty"`
	Sizes       []string `json:"sizes"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at,omitempty"`
}

func (h *ProductHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := services.ProductListFilter{
		Category:   strings.TrimSpace(r.URL.Query().Get("category")),
		Generation: strings.TrimSpace(r.URL.Query().Get("generation")),
		Keyword:    strings.TrimSpace(r.URL.Query().Get("keyword")),
		Pagination: parseListPagination(r),
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildProductListResponse(page))
}

func (h *ProductHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func buildProductListResponse(page domain.Page[services.Product]) productListResponse {
	response := productListResponse{
		Items:      make([]productPayload, 0, len(page.Items)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
	}
	for _, product := range page.Items {
		response.Items = append(response.Items, buildProductPayload(product))
	}
	return response
}

func buildProductPayload(product services.Product) productPayload {
	sizes := make([]string, 0, len(product.Sizes))
	for _, size := range product.Sizes {
		sizes = append(sizes, string(size))
	}
	return productPayload{
		ID:          strings.TrimSpace(product.ID),
		SKU:         strings.TrimSpace(product.SKU),
		Name:        strings.TrimSpace(product.Name),
		Price:       product.Price,
		Category:    string(product.Category),
		Generation:  string(product.Generation),
		Image:       strings.TrimSpace(product.Image),
		Description: product.Description,
		Sizes:       sizes,
		CreatedAt:   formatTime(product.CreatedAt),
		UpdatedAt:   formatTime(product.UpdatedAt),
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogConflict):
		httpx.WriteError(ctx, w, httpx.NewError("product_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}

func parseListPagination(r *http.Request) domain.Pagination {
	query := r.URL.Query()
	pagination := domain.Pagination{}
	if raw := strings.TrimSpace(query.Get("page")); raw != "" {
		if page, err := strconv.Atoi(raw); err == nil && page > 0 {
			pagination.Page = page
		}
	}
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			pagination.PageSize = size
		}
	}
	return pagination
}
