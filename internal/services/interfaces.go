package services

import (
	"context"
	"time"

	domain "github.com/seoulthread/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination      = domain.Pagination
	Product         = domain.Product
	CartItem        = domain.CartItem
	CartLine        = domain.CartLine
	Order           = domain.Order
	OrderItem       = domain.OrderItem
	OrderStatus     = domain.OrderStatus
	Payment         = domain.Payment
	ShippingAddress = domain.ShippingAddress
	PricingQuote    = domain.PricingQuote
	User            = domain.User
)

// CatalogService manages the product catalog for the storefront and the
// admin console.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductListFilter) (domain.Page[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpsertProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
	CreateImageUploadURL(ctx context.Context, cmd ImageUploadCommand) (ImageUpload, error)
}

// ProductListFilter narrows storefront catalog listings.
type ProductListFilter struct {
	Category   string
	Generation string
	Keyword    string
	Pagination Pagination
}

// UpsertProductCommand carries the catalog fields accepted from the admin
// console. ProductID is empty on creation.
type UpsertProductCommand struct {
	ProductID   string
	SKU         string
	Name        string
	Price       int64
	Category    string
	Generation  string
	Image       string
	Description string
	Sizes       []string
	ActorID     string
}

// ImageUploadCommand requests a signed URL for uploading a product image.
type ImageUploadCommand struct {
	FileName    string
	ContentType string
	ActorID     string
}

// ImageUpload is a time-limited signed upload slot in the assets bucket.
type ImageUpload struct {
	UploadURL string
	PublicURL string
	ExpiresAt time.Time
}

// CartService manages per-user cart rows. Adding an already-present
// selection increments its quantity instead of duplicating the row.
type CartService interface {
	AddItem(ctx context.Context, cmd AddCartItemCommand) (CartItem, error)
	ListItems(ctx context.Context, userID string) ([]CartLine, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (CartItem, error)
	RemoveItem(ctx context.Context, userID string, itemID string) error
	ClearCart(ctx context.Context, userID string) (int, error)
}

// AddCartItemCommand adds a product selection to the caller's cart.
type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
	Size      string
	Color     string
}

// UpdateCartItemCommand changes one cart row. Nil fields are left untouched;
// at least one must be set. Changing the size or color re-checks the
// (product, size, color) uniqueness invariant.
type UpdateCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity *int
	Size     *string
	Color    *string
}

// OrderService owns the checkout workflow: creation with frozen product
// snapshots and server-side pricing, payment reconciliation, cancellation,
// and admin fulfilment updates.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error)
	GetOrder(ctx context.Context, query OrderQuery) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
}

// CreateOrderCommand creates an order either from cart rows (CartItemIDs) or
// from an explicit item list. Exactly one of the two sources must be set.
// All monetary amounts are computed on the server; the command carries none.
type CreateOrderCommand struct {
	UserID          string
	CartItemIDs     []string
	Items           []OrderItemInput
	Channel         string
	ShippingAddress ShippingAddress
	Payment         PaymentInput
	OrderNote       string
}

// OrderItemInput is one explicit order line. Only the product reference and
// the selection are trusted; price and name are resolved from the catalog.
type OrderItemInput struct {
	ProductID string
	Quantity  int
	Size      string
	Color     string
}

// PaymentInput carries the gateway result supplied at checkout. Completed is
// set when the client already holds a gateway confirmation; the order is then
// marked paid inline.
type PaymentInput struct {
	Method        string
	Completed     bool
	TransactionID string
	MerchantUID   string
}

// OrderQuery fetches one order on behalf of an actor. Non-admin actors may
// only read their own orders.
type OrderQuery struct {
	OrderID string
	ActorID string
	Admin   bool
}

// OrderListFilter narrows order listings. UserID is forced to the caller for
// non-admin requests.
type OrderListFilter struct {
	UserID     string
	Status     string
	Pagination Pagination
}

// CancelOrderCommand cancels an order on behalf of its owner or an admin.
type CancelOrderCommand struct {
	OrderID string
	ActorID string
	Admin   bool
	Reason  string
}

// CompletePaymentCommand reconciles a deferred payment with the gateway
// confirmation. Replays with the same transaction id succeed without effect.
type CompletePaymentCommand struct {
	OrderID       string
	ActorID       string
	Admin         bool
	TransactionID string
	MerchantUID   string
}

// UpdateOrderStatusCommand is the admin fulfilment update. Any target status
// is accepted; the console is trusted to fix operational mistakes, including
// moving an order backwards.
type UpdateOrderStatusCommand struct {
	OrderID         string
	ActorID         string
	Status          string
	TrackingNumber  string
	ShippingCompany string
}

// UserService owns account signup, login, and the admin account listing.
type UserService interface {
	SignUp(ctx context.Context, cmd SignUpCommand) (AuthSession, error)
	Login(ctx context.Context, cmd LoginCommand) (AuthSession, error)
	GetProfile(ctx context.Context, userID string) (User, error)
	ListUsers(ctx context.Context, filter UserListFilter) (domain.Page[User], error)
}

// SignUpCommand registers a new shopper account.
type SignUpCommand struct {
	Email    string
	Password string
	Name     string
	Phone    string
}

// LoginCommand authenticates an existing account.
type LoginCommand struct {
	Email    string
	Password string
}

// AuthSession is the issued token plus the authenticated account.
type AuthSession struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// UserListFilter narrows the admin account listing.
type UserListFilter struct {
	Role       string
	Pagination Pagination
}

// DashboardService aggregates the admin console landing metrics.
type DashboardService interface {
	Summary(ctx context.Context, query DashboardQuery) (DashboardSummary, error)
}

// DashboardQuery selects the calendar month to report on. Zero values default
// to the current year and month.
type DashboardQuery struct {
	Year  int
	Month int
}

// DashboardSummary bundles all-time counts with the selected month's
// activity and each metric's change against the previous month.
type DashboardSummary struct {
	TotalOrders    int64
	TotalProducts  int64
	TotalCustomers int64

	MonthlyOrders    int64
	MonthlyProducts  int64
	MonthlyCustomers int64
	MonthlySales     int64
	PreviousSales    int64

	OrdersChangePercent    float64
	ProductsChangePercent  float64
	CustomersChangePercent float64
	SalesChangePercent     float64

	Period      DashboardPeriod
	GeneratedAt time.Time
}

// DashboardPeriod echoes the reporting window the summary covers. End is
// clipped to the generation time when the window is still running.
type DashboardPeriod struct {
	Year  int
	Month int
	Start time.Time
	End   time.Time
}
