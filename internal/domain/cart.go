package domain

import (
	"time"
)

// CartItem is a user's pending selection of a product. The tuple
// (UserID, ProductID, Size, Color) is unique; adding the same selection again
// increments Quantity instead of creating a second row.
type CartItem struct {
	ID        string
	UserID    string
	ProductID string
	Quantity  int
	Size      Size
	Color     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SelectionKey returns the deduplication key used to detect an identical
// selection already present in the cart.
func (c CartItem) SelectionKey() string {
	return c.ProductID + "|" + string(c.Size) + "|" + c.Color
}

// CartLine pairs a cart item with its resolved product for display and for
// snapshotting at checkout.
type CartLine struct {
	Item    CartItem
	Product Product
}
