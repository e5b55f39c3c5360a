package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/payments"
	"github.com/seoulthread/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	orderNumberPrefix      = "ORD"
	orderNumberSuffixLen   = 6
	orderNumberMaxAttempts = 5
)

const orderNumberAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order or a referenced record could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor may not touch the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the order's current status rejects the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates a duplicate or concurrent-write conflict.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderEventPublisher publishes order lifecycle events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// PaymentVerifier checks the gateway's record of a charge before an order is
// marked paid.
type PaymentVerifier interface {
	VerifyCharge(ctx context.Context, method string, transactionID string, expectedAmount int64) error
}

// OrderEvent captures metadata for emitted order lifecycle events.
type OrderEvent struct {
	Type           domain.OrderEventType
	OrderID        string
	OrderNumber    string
	UserID         string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Carts        repositories.CartRepository
	Products     repositories.ProductRepository
	UnitOfWork   repositories.UnitOfWork
	Pricing      *PricingEngine
	Verifier     PaymentVerifier
	Clock        func() time.Time
	IDGenerator  func() string
	NumberSuffix func() string
	Events       OrderEventPublisher
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	products   repositories.ProductRepository
	unitOfWork repositories.UnitOfWork
	pricing    *PricingEngine
	verifier   PaymentVerifier
	clock      func() time.Time
	newID      func() string
	suffix     func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
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

	suffix := deps.NumberSuffix
	if suffix == nil {
		suffix = randomOrderSuffix
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		products:   deps.Products,
		unitOfWork: unit,
		pricing:    deps.Pricing,
		verifier:   deps.Verifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		suffix: suffix,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}

	fromCart := len(cmd.CartItemIDs) > 0
	if fromCart == (len(cmd.Items) > 0) {
		return Order{}, fmt.Errorf("%w: exactly one of cartItemIds or items must be provided", ErrOrderInvalidInput)
	}

	channel := domain.FulfilmentChannel(strings.TrimSpace(cmd.Channel))
	if channel == "" {
		channel = domain.FulfilmentDelivery
	}
	if channel != domain.FulfilmentDelivery && channel != domain.FulfilmentPickup {
		return Order{}, fmt.Errorf("%w: unknown fulfilment channel %q", ErrOrderInvalidInput, cmd.Channel)
	}

	method := domain.PaymentMethod(strings.TrimSpace(cmd.Payment.Method))
	if !method.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.Payment.Method)
	}

	if channel == domain.FulfilmentDelivery {
		if strings.TrimSpace(cmd.ShippingAddress.RecipientName) == "" || strings.TrimSpace(cmd.ShippingAddress.Address) == "" {
			return Order{}, fmt.Errorf("%w: shipping address is required for delivery", ErrOrderInvalidInput)
		}
	}

	var (
		items []OrderItem
		err   error
	)
	if fromCart {
		items, err = s.itemsFromCart(ctx, userID, cmd.CartItemIDs)
	} else {
		items, err = s.itemsFromInputs(ctx, cmd.Items)
	}
	if err != nil {
		return Order{}, err
	}

	quote := s.pricing.Quote(orderItemsTotal(items), channel)
	now := s.now()

	payment := Payment{
		Method:        method,
		Status:        domain.PaymentStatusPending,
		Amount:        quote.FinalAmount,
		TransactionID: strings.TrimSpace(cmd.Payment.TransactionID),
		MerchantUID:   strings.TrimSpace(cmd.Payment.MerchantUID),
	}
	status := domain.OrderStatusPending
	if cmd.Payment.Completed {
		if err := s.verifyCharge(ctx, method, payment.TransactionID, quote.FinalAmount); err != nil {
			return Order{}, err
		}
		payment.Status = domain.PaymentStatusCompleted
		payment.PaidAt = &now
		status = domain.OrderStatusPaid
	}

	order := Order{
		UserID:          userID,
		Items:           items,
		Status:          status,
		Channel:         channel,
		ShippingAddress: cmd.ShippingAddress,
		Payment:         payment,
		TotalAmount:     quote.TotalAmount,
		ShippingFee:     quote.ShippingFee,
		DiscountAmount:  quote.DiscountAmount,
		FinalAmount:     quote.FinalAmount,
		OrderNote:       strings.TrimSpace(cmd.OrderNote),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// The order number claim lives in the same transaction as the order
	// write, so a duplicate number surfaces as a conflict here and a fresh
	// number is tried. The claim conflict is detected at commit, so the
	// transaction's own error must be classified too, not just errors from
	// inside the callback. Cart rows go first: Firestore forbids reads after
	// buffered writes in a transaction, and deleting a cart row reads it to
	// verify ownership.
	for attempt := 0; attempt < orderNumberMaxAttempts; attempt++ {
		order.ID = orderIDPrefix + s.newID()
		order.OrderNumber = s.generateOrderNumber(now)

		err = s.mapRepositoryError(s.runInTx(ctx, func(txCtx context.Context) error {
			if fromCart {
				if err := s.carts.DeleteByIDs(txCtx, userID, cmd.CartItemIDs); err != nil {
					return s.mapRepositoryError(err)
				}
			}
			if err := s.orders.Insert(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			return nil
		}))
		if err == nil {
			break
		}
		if !errors.Is(err, ErrOrderConflict) {
			return Order{}, err
		}
		s.logger(ctx, "order.number.collision", map[string]any{
			"orderNumber": order.OrderNumber,
			"attempt":     attempt + 1,
		})
	}
	if err != nil {
		return Order{}, fmt.Errorf("%w: could not allocate a unique order number", ErrOrderConflict)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          domain.OrderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       userID,
		OccurredAt:    now,
	})
	if order.Paid() {
		s.publishEvent(ctx, OrderEvent{
			Type:          domain.OrderEventPaid,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			UserID:        order.UserID,
			CurrentStatus: string(order.Status),
			ActorID:       userID,
			OccurredAt:    now,
		})
	}

	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.Page[Order], error) {
	status := domain.OrderStatus(strings.TrimSpace(filter.Status))
	if status != "" && !status.Valid() {
		return domain.Page[Order]{}, fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, filter.Status)
	}

	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     strings.TrimSpace(filter.UserID),
		Status:     status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.Page[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, query OrderQuery) (Order, error) {
	order, err := s.loadOrder(ctx, query.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := authoriseOrderAccess(order, query.ActorID, query.Admin); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := authoriseOrderAccess(order, cmd.ActorID, cmd.Admin); err != nil {
		return Order{}, err
	}

	if !order.Status.Cancellable() {
		return Order{}, fmt.Errorf("%w: order in status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	prev := order.Status
	order.Status = domain.OrderStatusCancelled
	// A settled charge is voided with the order so the payment never counts
	// towards sales totals after cancellation.
	if order.Payment.Status == domain.PaymentStatusCompleted {
		order.Payment.Status = domain.PaymentStatusCancelled
	}
	order.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           domain.OrderEventCancelled,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	return order, nil
}

func (s *orderService) CompletePayment(ctx context.Context, cmd CompletePaymentCommand) (Order, error) {
	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if err := authoriseOrderAccess(order, cmd.ActorID, cmd.Admin); err != nil {
		return Order{}, err
	}

	txnID := strings.TrimSpace(cmd.TransactionID)
	if txnID == "" {
		return Order{}, fmt.Errorf("%w: transaction id is required", ErrOrderInvalidInput)
	}

	if order.Paid() {
		// Replays of the same gateway confirmation are harmless; a second
		// confirmation with a different transaction id is not.
		if order.Payment.TransactionID == txnID {
			return order, nil
		}
		return Order{}, fmt.Errorf("%w: order already paid with transaction %q", ErrOrderConflict, order.Payment.TransactionID)
	}

	if order.Status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: order in status %q cannot accept payment", ErrOrderInvalidState, order.Status)
	}

	if err := s.verifyCharge(ctx, order.Payment.Method, txnID, order.FinalAmount); err != nil {
		return Order{}, err
	}

	now := s.now()
	prev := order.Status
	order.Payment.Status = domain.PaymentStatusCompleted
	order.Payment.PaidAt = &now
	order.Payment.TransactionID = txnID
	if uid := strings.TrimSpace(cmd.MerchantUID); uid != "" {
		order.Payment.MerchantUID = uid
	}
	order.Status = domain.OrderStatusPaid
	order.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           domain.OrderEventPaid,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(prev),
		CurrentStatus:  string(order.Status),
		ActorID:        cmd.ActorID,
		OccurredAt:     now,
	})

	return order, nil
}

// UpdateStatus applies a console fulfilment update. Operators may move an
// order to any status, including backwards, to fix operational mistakes.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	target := domain.OrderStatus(strings.TrimSpace(cmd.Status))
	if !target.Valid() {
		return Order{}, fmt.Errorf("%w: unknown order status %q", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.loadOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	prev := order.Status
	order.Status = target
	if target == domain.OrderStatusPaid && !order.Paid() {
		order.Payment.Status = domain.PaymentStatusCompleted
		order.Payment.PaidAt = &now
	}
	if tracking := strings.TrimSpace(cmd.TrackingNumber); tracking != "" {
		order.TrackingNumber = tracking
	}
	if company := strings.TrimSpace(cmd.ShippingCompany); company != "" {
		order.ShippingCompany = company
	}
	order.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	if prev != order.Status {
		s.publishEvent(ctx, OrderEvent{
			Type:           domain.OrderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			UserID:         order.UserID,
			PreviousStatus: string(prev),
			CurrentStatus:  string(order.Status),
			ActorID:        cmd.ActorID,
			OccurredAt:     now,
		})
	}

	return order, nil
}

func (s *orderService) itemsFromCart(ctx context.Context, userID string, cartItemIDs []string) ([]OrderItem, error) {
	cartItems, err := s.carts.FindByIDs(ctx, userID, cartItemIDs)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	inputs := make([]OrderItemInput, 0, len(cartItems))
	for _, item := range cartItems {
		inputs = append(inputs, OrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      string(item.Size),
			Color:     item.Color,
		})
	}
	return s.itemsFromInputs(ctx, inputs)
}

// itemsFromInputs resolves each line against the catalog and freezes the
// product name, price, and image into the order snapshot.
func (s *orderService) itemsFromInputs(ctx context.Context, inputs []OrderItemInput) ([]OrderItem, error) {
	ids := make([]string, 0, len(inputs))
	for _, input := range inputs {
		if strings.TrimSpace(input.ProductID) == "" {
			return nil, fmt.Errorf("%w: product id is required on every item", ErrOrderInvalidInput)
		}
		if input.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity must be positive", ErrOrderInvalidInput)
		}
		if !domain.Size(input.Size).Valid() {
			return nil, fmt.Errorf("%w: unknown size %q", ErrOrderInvalidInput, input.Size)
		}
		ids = append(ids, strings.TrimSpace(input.ProductID))
	}

	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	items := make([]OrderItem, 0, len(inputs))
	for _, input := range inputs {
		product, ok := products[strings.TrimSpace(input.ProductID)]
		if !ok {
			return nil, fmt.Errorf("%w: product %q", ErrOrderNotFound, input.ProductID)
		}
		items = append(items, OrderItem{
			ProductID:    product.ID,
			ProductName:  product.Name,
			ProductPrice: product.Price,
			ProductImage: product.Image,
			Quantity:     input.Quantity,
			Size:         domain.Size(input.Size),
			Color:        strings.TrimSpace(input.Color),
			Subtotal:     product.Price * int64(input.Quantity),
		})
	}
	return items, nil
}

// verifyCharge consults the gateway when a verifier is configured. The store
// never marks an order paid on a confirmation the gateway disowns.
func (s *orderService) verifyCharge(ctx context.Context, method domain.PaymentMethod, transactionID string, expectedAmount int64) error {
	if s.verifier == nil || strings.TrimSpace(transactionID) == "" {
		return nil
	}
	err := s.verifier.VerifyCharge(ctx, string(method), transactionID, expectedAmount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payments.ErrChargeNotFound):
		return fmt.Errorf("%w: gateway has no record of transaction %q", ErrOrderInvalidInput, transactionID)
	case errors.Is(err, payments.ErrChargeNotSettled):
		return fmt.Errorf("%w: %v", ErrOrderInvalidState, err)
	case errors.Is(err, payments.ErrAmountMismatch):
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	default:
		return fmt.Errorf("order: verify charge: %w", err)
	}
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) generateOrderNumber(now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", orderNumberPrefix, now.Format("20060102"), s.suffix())
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  string(event.Type),
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func authoriseOrderAccess(order Order, actorID string, admin bool) error {
	if admin {
		return nil
	}
	if strings.TrimSpace(actorID) == "" || order.UserID != strings.TrimSpace(actorID) {
		return fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
	}
	return nil
}

func orderItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.Subtotal
	}
	return total
}

func randomOrderSuffix() string {
	buf := make([]byte, orderNumberSuffixLen)
	if _, err := rand.Read(buf); err != nil {
		// time-derived fallback when the platform entropy source is broken
		stamp := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(stamp >> (i * 8))
		}
	}
	out := make([]byte, orderNumberSuffixLen)
	for i, b := range buf {
		out[i] = orderNumberAlphabet[int(b)%len(orderNumberAlphabet)]
	}
	return string(out)
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
