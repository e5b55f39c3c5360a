package repositories

import (
	"context"
	"time"

	domain "github.com/seoulthread/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Users() UserRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductRepository persists catalog records. SKU uniqueness is enforced at
// write time against the normalized SKU.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySKU(ctx context.Context, normalizedSKU string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.Page[domain.Product], error)
	Count(ctx context.Context) (int64, error)
	CountCreatedIn(ctx context.Context, window SalesWindow) (int64, error)
}

// ProductListFilter narrows catalog listings. Keyword is matched as a prefix
// against the NFC-normalized product name.
type ProductListFilter struct {
	Category   domain.ProductCategory
	Generation domain.GenerationTag
	Keyword    string
	Pagination domain.Pagination
}

// CartRepository owns per-user cart rows. All lookups are scoped by user so
// one shopper can never touch another shopper's rows.
type CartRepository interface {
	Insert(ctx context.Context, item domain.CartItem) error
	Update(ctx context.Context, item domain.CartItem) error
	Delete(ctx context.Context, userID string, itemID string) error
	DeleteByIDs(ctx context.Context, userID string, itemIDs []string) error
	DeleteAll(ctx context.Context, userID string) (int, error)
	FindByID(ctx context.Context, userID string, itemID string) (domain.CartItem, error)
	FindByIDs(ctx context.Context, userID string, itemIDs []string) ([]domain.CartItem, error)
	FindBySelection(ctx context.Context, userID string, productID string, size domain.Size, color string) (domain.CartItem, error)
	ListByUser(ctx context.Context, userID string) ([]domain.CartItem, error)
}

// OrderRepository persists order aggregates. Insert claims the order number
// atomically with the order write and reports a conflict when the number is
// already taken, so callers can regenerate and retry.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.Page[domain.Order], error)
	Count(ctx context.Context) (int64, error)
	CountCreatedIn(ctx context.Context, window SalesWindow) (int64, error)
	SalesTotal(ctx context.Context, window SalesWindow) (int64, error)
}

// OrderListFilter narrows order listings. An empty UserID lists across all
// users and is reserved for admin callers.
type OrderListFilter struct {
	UserID     string
	Status     domain.OrderStatus
	Pagination domain.Pagination
}

// SalesWindow bounds a windowed aggregation to [Start, End). Sales totals
// cover orders with a completed payment and a status other than cancelled,
// keyed by the settlement time (paidAt when present, otherwise createdAt);
// windowed counts are keyed by createdAt.
type SalesWindow struct {
	Start time.Time
	End   time.Time
}

// UserRepository persists accounts. Email uniqueness is enforced at write time.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) (domain.Page[domain.User], error)
	CountCustomers(ctx context.Context) (int64, error)
	CountCustomersCreatedIn(ctx context.Context, window SalesWindow) (int64, error)
}

// UserListFilter narrows account listings for the admin console.
type UserListFilter struct {
	Role       domain.Role
	Pagination domain.Pagination
}
