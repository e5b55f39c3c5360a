package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/platform/httpx"
	"github.com/seoulthread/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers wires the cart endpoints with their dependencies.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/", h.handleList)
	r.Delete("/", h.handleClear)
	r.Post("/items", h.handleAdd)
	r.Patch("/items/{itemID}", h.handleUpdate)
	r.Delete("/items/{itemID}", h.handleRemove)
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

// updateCartItemRequest carries a partial cart-row update. Absent fields are
// left untouched.
type updateCartItemRequest struct {
	Quantity *int    `json:"quantity"`
	Size     *string `json:"size"`
	Color    *string `json:"color"`
}

type cartListResponse struct {
	Items []cartLinePayload `json:"items"`
	Total int64             `json:"total"`
}

type cartItemResponse struct {
	Item cartItemPayload `json:"item"`
}

type cartClearResponse struct {
	Removed int `json:"removed"`
}

type cartItemPayload struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	Item     cartItemPayload `json:"item"`
	Product  productPayload  `json:"product"`
	Subtotal int64           `json:"subtotal"`
}

func (h *CartHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	lines, err := h.carts.ListItems(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	response := cartListResponse{Items: make([]cartLinePayload, 0, len(lines))}
	for _, line := range lines {
		subtotal := line.Product.Price * int64(line.Item.Quantity)
		response.Items = append(response.Items, cartLinePayload{
			Item:     buildCartItemPayload(line.Item),
			Product:  buildProductPayload(line.Product),
			Subtotal: subtotal,
		})
		response.Total += subtotal
	}

	writeJSONResponse(w, http.StatusOK, response)
}

func (h *CartHandlers) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req addCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	item, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:    identity.UID,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		Size:      req.Size,
		Color:     req.Color,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, cartItemResponse{Item: buildCartItemPayload(item)})
}

func (h *CartHandlers) handleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart item id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateCartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	item, err := h.carts.UpdateItem(ctx, services.UpdateCartItemCommand{
		UserID:   identity.UID,
		ItemID:   itemID,
		Quantity: req.Quantity,
		Size:     req.Size,
		Color:    req.Color,
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartItemResponse{Item: buildCartItemPayload(item)})
}

func (h *CartHandlers) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "cart item id is required", http.StatusBadRequest))
		return
	}

	if err := h.carts.RemoveItem(ctx, identity.UID, itemID); err != nil {
		writeCartError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	removed, err := h.carts.ClearCart(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, cartClearResponse{Removed: removed})
}

func buildCartItemPayload(item services.CartItem) cartItemPayload {
	return cartItemPayload{
		ID:        strings.TrimSpace(item.ID),
		ProductID: strings.TrimSpace(item.ProductID),
		Quantity:  item.Quantity,
		Size:      string(item.Size),
		Color:     strings.TrimSpace(item.Color),
		CreatedAt: formatTime(item.CreatedAt),
		UpdatedAt: formatTime(item.UpdatedAt),
	}
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to process cart request", http.StatusInternalServerError))
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}
