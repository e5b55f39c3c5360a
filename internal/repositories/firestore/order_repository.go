package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	"github.com/seoulthread/api/internal/domain"
	pfirestore "github.com/seoulthread/api/internal/platform/firestore"
	"github.com/seoulthread/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"

	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

type orderItemDocument struct {
	ProductID    string `firestore:"productId"`
	ProductName  string `firestore:"productName"`
	ProductPrice int64  `firestore:"productPrice"`
	ProductImage string `firestore:"productImage"`
	Quantity     int    `firestore:"quantity"`
	Size         string `firestore:"size,omitempty"`
	Color        string `firestore:"color,omitempty"`
	Subtotal     int64  `firestore:"subtotal"`
}

type shippingAddressDocument struct {
	RecipientName string `firestore:"recipientName"`
	Phone         string `firestore:"phone"`
	Address       string `firestore:"address"`
	AddressDetail string `firestore:"addressDetail,omitempty"`
	PostalCode    string `firestore:"postalCode,omitempty"`
	DeliveryNote  string `firestore:"deliveryNote,omitempty"`
}

type paymentDocument struct {
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	Amount        int64      `firestore:"amount"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	TransactionID string     `firestore:"transactionId,omitempty"`
	MerchantUID   string     `firestore:"merchantUid,omitempty"`
}

type orderDocument struct {
	OrderNumber     string                  `firestore:"orderNumber"`
	UserID          string                  `firestore:"userId"`
	Items           []orderItemDocument     `firestore:"items"`
	Status          string                  `firestore:"status"`
	Channel         string                  `firestore:"channel"`
	ShippingAddress shippingAddressDocument `firestore:"shippingAddress"`
	Payment         paymentDocument         `firestore:"payment"`
	TotalAmount     int64                   `firestore:"totalAmount"`
	ShippingFee     int64                   `firestore:"shippingFee"`
	DiscountAmount  int64                   `firestore:"discountAmount"`
	FinalAmount     int64                   `firestore:"finalAmount"`
	TrackingNumber  string                  `firestore:"trackingNumber,omitempty"`
	ShippingCompany string                  `firestore:"shippingCompany,omitempty"`
	OrderNote       string                  `firestore:"orderNote,omitempty"`
	// SettledAt keys the dashboard sales window: paidAt when the payment
	// completed, otherwise createdAt.
	SettledAt time.Time `firestore:"settledAt"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

type orderNumberClaim struct {
	OrderID   string    `firestore:"orderId"`
	ClaimedAt time.Time `firestore:"claimedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
// Inserting an order claims its order number in the same transaction, so a
// duplicate number surfaces as a conflict instead of a silent overwrite.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
	numbers  *pfirestore.BaseRepository[orderNumberClaim]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
		numbers:  pfirestore.NewBaseRepository[orderNumberClaim](provider, orderNumbersCollection, nil, nil),
	}, nil
}

// Insert persists the order and claims its number atomically. When the
// context already carries a transaction the writes join it; otherwise a
// dedicated transaction wraps them.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" || strings.TrimSpace(order.OrderNumber) == "" {
		return pfirestore.WrapError("orders.insert", errors.New("order id and number are required"))
	}

	doc := encodeOrder(order)
	claim := orderNumberClaim{OrderID: order.ID, ClaimedAt: order.CreatedAt}

	orderRef, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	numberRef, err := r.numbers.DocumentRef(ctx, order.OrderNumber)
	if err != nil {
		return err
	}

	write := func(tx *firestore.Transaction) error {
		if err := tx.Create(numberRef, claim); err != nil {
			return err
		}
		return tx.Create(orderRef, doc)
	}

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("orders.insert", write(tx))
	}
	return r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		return write(tx)
	})
}

// Update replaces the stored order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	ref, err := r.orders.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)

	if tx, ok := txFromContext(ctx); ok {
		return pfirestore.WrapError("orders.update", tx.Set(ref, doc))
	}
	_, err = ref.Set(ctx, doc)
	return pfirestore.WrapError("orders.update", err)
}

// FindByID fetches a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	if tx, ok := txFromContext(ctx); ok {
		ref, err := r.orders.DocumentRef(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.Order{}, pfirestore.WrapError("orders.get", err)
		}
		return decodeOrder(snap.Ref.ID, doc), nil
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// List returns one page of orders, newest first, with a total count for
// pagination metadata.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.Page[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.Page[domain.Order]{}, errors.New("order repository not initialised")
	}

	pager := normalisePagination(filter.Pagination, defaultOrderPageSize, maxOrderPageSize)

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	base := client.Collection(ordersCollection).Query
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		base = base.Where("userId", "==", userID)
	}
	if filter.Status != "" {
		base = base.Where("status", "==", string(filter.Status))
	}

	total, err := aggregateCount(ctx, base, "orders.count")
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	query := base.OrderBy("createdAt", firestore.Desc).
		Offset(pager.Offset()).
		Limit(pager.PageSize)

	docs, err := r.orders.Query(ctx, func(firestore.Query) firestore.Query { return query })
	if err != nil {
		return domain.Page[domain.Order]{}, err
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrder(doc.ID, doc.Data))
	}

	return domain.Page[domain.Order]{
		Items:      items,
		Page:       pager.Page,
		PageSize:   pager.PageSize,
		TotalCount: total,
		HasMore:    int64(pager.Offset()+len(items)) < total,
	}, nil
}

// Count returns the all-time number of orders.
func (r *OrderRepository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	return aggregateCount(ctx, client.Collection(ordersCollection).Query, "orders.count")
}

// CountCreatedIn counts orders created inside [Start, End).
func (r *OrderRepository) CountCreatedIn(ctx context.Context, window repositories.SalesWindow) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	query := client.Collection(ordersCollection).Query.
		Where("createdAt", ">=", window.Start).
		Where("createdAt", "<", window.End)
	return aggregateCount(ctx, query, "orders.count_created_in")
}

// SalesTotal sums finalAmount over settled orders inside [Start, End).
// Settled means the payment completed and the order was not cancelled.
func (r *OrderRepository) SalesTotal(ctx context.Context, window repositories.SalesWindow) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("order repository not initialised")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}

	query := client.Collection(ordersCollection).Query.
		Where("payment.status", "==", string(domain.PaymentStatusCompleted)).
		Where("status", "!=", string(domain.OrderStatusCancelled)).
		Where("settledAt", ">=", window.Start).
		Where("settledAt", "<", window.End)

	results, err := query.NewAggregationQuery().
		WithSum("finalAmount", "total").
		Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError("orders.sales_total", err)
	}
	return aggregationInt64(results["total"]), nil
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductPrice: item.ProductPrice,
			ProductImage: item.ProductImage,
			Quantity:     item.Quantity,
			Size:         string(item.Size),
			Color:        item.Color,
			Subtotal:     item.Subtotal,
		})
	}

	settledAt := order.CreatedAt
	if order.Payment.PaidAt != nil {
		settledAt = *order.Payment.PaidAt
	}

	return orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Items:       items,
		Status:      string(order.Status),
		Channel:     string(order.Channel),
		ShippingAddress: shippingAddressDocument{
			RecipientName: order.ShippingAddress.RecipientName,
			Phone:         order.ShippingAddress.Phone,
			Address:       order.ShippingAddress.Address,
			AddressDetail: order.ShippingAddress.AddressDetail,
			PostalCode:    order.ShippingAddress.PostalCode,
			DeliveryNote:  order.ShippingAddress.DeliveryNote,
		},
		Payment: paymentDocument{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			Amount:        order.Payment.Amount,
			PaidAt:        order.Payment.PaidAt,
			TransactionID: order.Payment.TransactionID,
			MerchantUID:   order.Payment.MerchantUID,
		},
		TotalAmount:     order.TotalAmount,
		ShippingFee:     order.ShippingFee,
		DiscountAmount:  order.DiscountAmount,
		FinalAmount:     order.FinalAmount,
		TrackingNumber:  order.TrackingNumber,
		ShippingCompany: order.ShippingCompany,
		OrderNote:       order.OrderNote,
		SettledAt:       settledAt,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductPrice: item.ProductPrice,
			ProductImage: item.ProductImage,
			Quantity:     item.Quantity,
			Size:         domain.Size(item.Size),
			Color:        item.Color,
			Subtotal:     item.Subtotal,
		})
	}

	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		Items:       items,
		Status:      domain.OrderStatus(doc.Status),
		Channel:     domain.FulfilmentChannel(doc.Channel),
		ShippingAddress: domain.ShippingAddress{
			RecipientName: doc.ShippingAddress.RecipientName,
			Phone:         doc.ShippingAddress.Phone,
			Address:       doc.ShippingAddress.Address,
			AddressDetail: doc.ShippingAddress.AddressDetail,
			PostalCode:    doc.ShippingAddress.PostalCode,
			DeliveryNote:  doc.ShippingAddress.DeliveryNote,
		},
		Payment: domain.Payment{
			Method:        domain.PaymentMethod(doc.Payment.Method),
			Status:        domain.PaymentStatus(doc.Payment.Status),
			Amount:        doc.Payment.Amount,
			PaidAt:        doc.Payment.PaidAt,
			TransactionID: doc.Payment.TransactionID,
			MerchantUID:   doc.Payment.MerchantUID,
		},
		TotalAmount:     doc.TotalAmount,
		ShippingFee:     doc.ShippingFee,
		DiscountAmount:  doc.DiscountAmount,
		FinalAmount:     doc.FinalAmount,
		TrackingNumber:  doc.TrackingNumber,
		ShippingCompany: doc.ShippingCompany,
		OrderNote:       doc.OrderNote,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

func normalisePagination(p domain.Pagination, fallback, max int) domain.Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = fallback
	}
	if p.PageSize > max {
		p.PageSize = max
	}
	return p
}

func aggregateCount(ctx context.Context, query firestore.Query, op string) (int64, error) {
	results, err := query.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, pfirestore.WrapError(op, err)
	}
	return aggregationInt64(results["count"]), nil
}

func aggregationInt64(raw any) int64 {
	value, ok := raw.(*firestorepb.Value)
	if !ok || value == nil {
		return 0
	}
	switch v := value.ValueType.(type) {
	case *firestorepb.Value_IntegerValue:
		return v.IntegerValue
	case *firestorepb.Value_DoubleValue:
		return int64(v.DoubleValue)
	default:
		return 0
	}
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)
