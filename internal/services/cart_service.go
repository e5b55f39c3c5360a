package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/repositories"
)

const (
	cartItemIDPrefix = "cit_"

	maxCartQuantity = 99
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart: invalid input")
	// ErrCartNotFound indicates the cart row or referenced product does not exist.
	ErrCartNotFound = errors.New("cart: not found")
	// ErrCartConflict indicates a concurrent modification clashed.
	ErrCartConflict = errors.New("cart: conflict")
)

// CartServiceDeps wires the repositories backing cart operations.
type CartServiceDeps struct {
	Carts       repositories.CartRepository
	Products    repositories.ProductRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type cartService struct {
	carts    repositories.CartRepository
	products repositories.ProductRepository
	clock    func() time.Time
	newID    func() string
}

// NewCartService wires dependencies into a concrete CartService implementation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Carts == nil {
		return nil, errors.New("cart service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
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

	return &cartService{
		carts:    deps.Carts,
		products: deps.Products,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

// AddItem inserts a new cart row, or bumps the quantity when the same
// (product, size, color) selection is already in the cart.
func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (CartItem, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	if userID == "" {
		return CartItem{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	if productID == "" {
		return CartItem{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 || cmd.Quantity > maxCartQuantity {
		return CartItem{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartQuantity)
	}
	size := domain.Size(strings.TrimSpace(cmd.Size))
	if !size.Valid() {
		return CartItem{}, fmt.Errorf("%w: unknown size %q", ErrCartInvalidInput, cmd.Size)
	}

	if _, err := s.products.FindByID(ctx, productID); err != nil {
		return CartItem{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	color := strings.TrimSpace(cmd.Color)

	existing, err := s.carts.FindBySelection(ctx, userID, productID, size, color)
	switch {
	case err == nil:
		existing.Quantity += cmd.Quantity
		if existing.Quantity > maxCartQuantity {
			existing.Quantity = maxCartQuantity
		}
		existing.UpdatedAt = now
		if err := s.carts.Update(ctx, existing); err != nil {
			return CartItem{}, s.mapRepositoryError(err)
		}
		return existing, nil
	case errors.Is(s.mapRepositoryError(err), ErrCartNotFound):
		// fresh selection, fall through to insert
	default:
		return CartItem{}, s.mapRepositoryError(err)
	}

	item := CartItem{
		ID:        cartItemIDPrefix + s.newID(),
		UserID:    userID,
		ProductID: productID,
		Quantity:  cmd.Quantity,
		Size:      size,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.carts.Insert(ctx, item); err != nil {
		return CartItem{}, s.mapRepositoryError(err)
	}
	return item, nil
}

// ListItems returns the cart joined with current product data. Rows whose
// product has since been deleted are dropped from the listing.
func (s *cartService) ListItems(ctx context.Context, userID string) ([]CartLine, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	items, err := s.carts.ListByUser(ctx, userID)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	if len(items) == 0 {
		return []CartLine{}, nil
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	lines := make([]CartLine, 0, len(items))
	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			continue
		}
		lines = append(lines, CartLine{Item: item, Product: product})
	}
	return lines, nil
}

// UpdateItem applies the provided quantity, size, and color changes to one
// cart row. A size or color change that lands on another row's selection is
// rejected so the (product, size, color) uniqueness invariant holds.
func (s *cartService) UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (CartItem, error) {
	if cmd.Quantity == nil && cmd.Size == nil && cmd.Color == nil {
		return CartItem{}, fmt.Errorf("%w: nothing to update", ErrCartInvalidInput)
	}
	if cmd.Quantity != nil && (*cmd.Quantity <= 0 || *cmd.Quantity > maxCartQuantity) {
		return CartItem{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, maxCartQuantity)
	}
	var size domain.Size
	if cmd.Size != nil {
		size = domain.Size(strings.TrimSpace(*cmd.Size))
		if !size.Valid() {
			return CartItem{}, fmt.Errorf("%w: unknown size %q", ErrCartInvalidInput, *cmd.Size)
		}
	}

	item, err := s.carts.FindByID(ctx, strings.TrimSpace(cmd.UserID), strings.TrimSpace(cmd.ItemID))
	if err != nil {
		return CartItem{}, s.mapRepositoryError(err)
	}

	selectionChanged := false
	if cmd.Size != nil && size != item.Size {
		item.Size = size
		selectionChanged = true
	}
	if cmd.Color != nil {
		if color := strings.TrimSpace(*cmd.Color); color != item.Color {
			item.Color = color
			selectionChanged = true
		}
	}
	if cmd.Quantity != nil {
		item.Quantity = *cmd.Quantity
	}

	if selectionChanged {
		existing, err := s.carts.FindBySelection(ctx, item.UserID, item.ProductID, item.Size, item.Color)
		switch {
		case err == nil && existing.ID != item.ID:
			return CartItem{}, fmt.Errorf("%w: selection already in cart", ErrCartConflict)
		case err == nil:
		case errors.Is(s.mapRepositoryError(err), ErrCartNotFound):
		default:
			return CartItem{}, s.mapRepositoryError(err)
		}
	}

	item.UpdatedAt = s.clock()
	if err := s.carts.Update(ctx, item); err != nil {
		return CartItem{}, s.mapRepositoryError(err)
	}
	return item, nil
}

func (s *cartService) RemoveItem(ctx context.Context, userID string, itemID string) error {
	if err := s.carts.Delete(ctx, strings.TrimSpace(userID), strings.TrimSpace(itemID)); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

func (s *cartService) ClearCart(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}
	removed, err := s.carts.DeleteAll(ctx, userID)
	if err != nil {
		return 0, s.mapRepositoryError(err)
	}
	return removed, nil
}

func (s *cartService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrCartNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrCartConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("cart: repository unavailable: %w", err)
		}
	}

	return err
}
