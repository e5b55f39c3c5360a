package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/seoulthread/api/internal/platform/firestore"
	"github.com/seoulthread/api/internal/repositories"
)

type txContextKey struct{}

// withTx stores the active transaction on the context so repository methods
// invoked inside RunInTx participate in it.
func withTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txContextKey{}, tx)
}

func txFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// Registry wires the Firestore-backed repositories behind the
// repositories.Registry contract.
type Registry struct {
	provider *pfirestore.Provider

	products *ProductRepository
	carts    *CartRepository
	orders   *OrderRepository
	users    *UserRepository
}

// NewRegistry constructs the repository registry on top of a shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider: provider,
		products: products,
		carts:    carts,
		orders:   orders,
		users:    users,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Products returns the catalog repository.
func (r *Registry) Products() repositories.ProductRepository { return r.products }

// Carts returns the cart repository.
func (r *Registry) Carts() repositories.CartRepository { return r.carts }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Users returns the account repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// RunInTx executes fn inside a single Firestore transaction. Repository calls
// made with the derived context join the transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if r == nil || r.provider == nil {
		return errors.New("registry not initialised")
	}
	if fn == nil {
		return errors.New("transaction function is required")
	}
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(withTx(ctx, tx))
	})
}

var _ repositories.Registry = (*Registry)(nil)
