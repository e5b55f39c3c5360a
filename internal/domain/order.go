package domain

import (
	"time"
)

// OrderStatus tracks the fulfilment pipeline position of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment completed and fulfilment may begin.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPreparing indicates the order is being picked and packed.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusShipping indicates the parcel was handed to a carrier.
	OrderStatusShipping OrderStatus = "shipping"
	// OrderStatusDelivered indicates the parcel reached the recipient.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before fulfilment.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the order was refunded after payment.
	OrderStatusRefunded OrderStatus = "refunded"
)

// Valid reports whether the status is one of the known pipeline states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusPreparing,
		OrderStatusShipping, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Cancellable reports whether an order in this status may still be cancelled.
// Delivered and refunded orders are final; cancelling twice is rejected.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusRefunded, OrderStatusCancelled:
		return false
	default:
		return true
	}
}

// PaymentMethod enumerates the checkout methods accepted by the store.
type PaymentMethod string

const (
	// PaymentMethodCard is a direct credit or debit card charge.
	PaymentMethodCard PaymentMethod = "card"
	// PaymentMethodBank is a bank transfer.
	PaymentMethodBank PaymentMethod = "bank"
	// PaymentMethodKakao is KakaoPay.
	PaymentMethodKakao PaymentMethod = "kakao"
	// PaymentMethodNaver is NaverPay.
	PaymentMethodNaver PaymentMethod = "naver"
	// PaymentMethodToss is Toss Payments.
	PaymentMethodToss PaymentMethod = "toss"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodBank, PaymentMethodKakao,
		PaymentMethodNaver, PaymentMethodToss:
		return true
	default:
		return false
	}
}

// PaymentStatus reflects the state of the payment attached to an order.
type PaymentStatus string

const (
	// PaymentStatusPending indicates no confirmation has been received yet.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusCompleted indicates the gateway confirmed the charge.
	PaymentStatusCompleted PaymentStatus = "completed"
	// PaymentStatusFailed indicates the gateway rejected the charge.
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCancelled indicates the charge was voided after completion.
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Valid reports whether the payment status is a known value.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// FulfilmentChannel selects how the buyer receives the goods.
type FulfilmentChannel string

const (
	// FulfilmentDelivery ships the order to the supplied address.
	FulfilmentDelivery FulfilmentChannel = "delivery"
	// FulfilmentPickup hands the order over in store; shipping is free.
	FulfilmentPickup FulfilmentChannel = "pickup"
)

// OrderItem is the immutable line snapshot embedded in an order. Product
// name, price, and image are frozen at creation time so later catalog edits
// never alter historical orders.
type OrderItem struct {
	ProductID    string
	ProductName  string
	ProductPrice int64
	ProductImage string
	Quantity     int
	Size         Size
	Color        string
	Subtotal     int64
}

// ShippingAddress captures the recipient details collected at checkout.
type ShippingAddress struct {
	RecipientName string
	Phone         string
	Address       string
	AddressDetail string
	PostalCode    string
	DeliveryNote  string
}

// Payment groups the monetary state and gateway correlation identifiers of
// an order. TransactionID is assigned by the gateway, MerchantUID by the
// caller that initiated the checkout attempt.
type Payment struct {
	Method        PaymentMethod
	Status        PaymentStatus
	Amount        int64
	PaidAt        *time.Time
	TransactionID string
	MerchantUID   string
}

// Order is the core aggregate produced by the checkout workflow.
type Order struct {
	ID              string
	OrderNumber     string
	UserID          string
	Items           []OrderItem
	Status          OrderStatus
	Channel         FulfilmentChannel
	ShippingAddress ShippingAddress
	Payment         Payment
	TotalAmount     int64
	ShippingFee     int64
	DiscountAmount  int64
	FinalAmount     int64
	TrackingNumber  string
	ShippingCompany string
	OrderNote       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Paid reports whether the order payment invariant holds: completed payment
// with a recorded timestamp.
func (o Order) Paid() bool {
	return o.Payment.Status == PaymentStatusCompleted && o.Payment.PaidAt != nil
}

// OrderEventType labels lifecycle notifications published for downstream
// consumers.
type OrderEventType string

const (
	// OrderEventCreated fires after an order is first persisted.
	OrderEventCreated OrderEventType = "order.created"
	// OrderEventPaid fires when payment reconciliation marks the order paid.
	OrderEventPaid OrderEventType = "order.paid"
	// OrderEventCancelled fires after a successful cancellation.
	OrderEventCancelled OrderEventType = "order.cancelled"
	// OrderEventStatusChanged fires on admin fulfilment updates.
	OrderEventStatusChanged OrderEventType = "order.status_changed"
)
