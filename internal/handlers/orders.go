package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/platform/httpx"
	"github.com/seoulthread/api/internal/services"
)

const (
	maxOrderBodySize       = 256 * 1024
	maxOrderCancelBodySize = 16 * 1024
)

// OrderHandlers exposes the authenticated checkout and order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises order handler construction.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order creation with the given idempotency middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers wires the order endpoints with their dependencies.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}

	if h.idempotency != nil {
		r.With(h.idempotency).Post("/", h.handleCreate)
	} else {
		r.Post("/", h.handleCreate)
	}
	r.Get("/", h.handleList)
	r.Get("/{orderID}", h.handleGet)
	r.Post("/{orderID}/cancel", h.handleCancel)
	r.Post("/{orderID}/payment", h.handleCompletePayment)
}

type createOrderRequest struct {
	CartItemIDs     []string               `json:"cart_item_ids"`
	Items           []orderItemRequest     `json:"items"`
	Channel         string                 `json:"channel"`
	ShippingAddress shippingAddressPayload `json:"shipping_address"`
	Payment         paymentRequest         `json:"payment"`
	OrderNote       string                 `json:"order_note"`
}

type orderItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size"`
	Color     string `json:"color"`
}

type paymentRequest struct {
	Method        string `json:"method"`
	Completed     bool   `json:"completed"`
	TransactionID string `json:"transaction_id"`
	MerchantUID   string `json:"merchant_uid"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type completePaymentRequest struct {
	TransactionID string `json:"transaction_id"`
	MerchantUID   string `json:"merchant_uid"`
}

type orderListResponse struct {
	Items      []orderSummaryPayload `json:"items"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalCount int64                 `json:"total_count"`
	HasMore    bool                  `json:"has_more"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	ItemCount   int    `json:"item_count"`
	FinalAmount int64  `json:"final_amount"`
	CreatedAt   string `json:"created_at"`
}

type orderPayload struct {
	ID              string                 `json:"id"`
	OrderNumber     string                 `json:"order_number"`
	UserID          string                 `json:"user_id"`
	Status          string                 `json:"status"`
	Channel         string                 `json:"channel"`
	Items           []orderItemPayload     `json:"items"`
	ShippingAddress shippingAddressPayload `json:"shipping_address"`
	Payment         paymentPayload         `json:"payment"`
	TotalAmount     int64                  `json:"total_amount"`
	ShippingFee     int64                  `json:"shipping_fee"`
	DiscountAmount  int64                  `json:"discount_amount"`
	FinalAmount     int64                  `json:"final_amount"`
	TrackingNumber  string                 `json:"tracking_number,omitempty"`
	ShippingCompany string                 `json:"shipping_company,omitempty"`
	OrderNote       string                 `json:"order_note,omitempty"`
	CreatedAt       string                 `json:"created_at"`
	UpdatedAt       string                 `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID    string `json:"product_id"`
	ProductName  string `json:"product_name"`
	ProductPrice int64  `json:"product_price"`
	ProductImage string `json:"product_image,omitempty"`
	Quantity     int    `json:"quantity"`
	Size         string `json:"size,omitempty"`
	Color        string `json:"color,omitempty"`
	Subtotal     int64  `json:"subtotal"`
}

type shippingAddressPayload struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	AddressDetail string `json:"address_detail,omitempty"`
	PostalCode    string `json:"postal_code"`
	DeliveryNote  string `json:"delivery_note,omitempty"`
}

type paymentPayload struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	PaidAt        string `json:"paid_at,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	MerchantUID   string `json:"merchant_uid,omitempty"`
}

func (h *OrderHandlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:      identity.UID,
		CartItemIDs: req.CartItemIDs,
		Channel:     req.Channel,
		ShippingAddress: domain.ShippingAddress{
			RecipientName: req.ShippingAddress.RecipientName,
			Phone:         req.ShippingAddress.Phone,
			Address:       req.ShippingAddress.Address,
			AddressDetail: req.ShippingAddress.AddressDetail,
			PostalCode:    req.ShippingAddress.PostalCode,
			DeliveryNote:  req.ShippingAddress.DeliveryNote,
		},
		Payment: services.PaymentInput{
			Method:        req.Payment.Method,
			Completed:     req.Payment.Completed,
			TransactionID: req.Payment.TransactionID,
			MerchantUID:   req.Payment.MerchantUID,
		},
		OrderNote: req.OrderNote,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}

	order, err := h.orders.Create(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	filter := services.OrderListFilter{
		UserID:     identity.UID,
		Status:     strings.TrimSpace(r.URL.Query().Get("status")),
		Pagination: parseListPagination(r),
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *OrderHandlers) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, services.OrderQuery{
		OrderID: orderID,
		ActorID: identity.UID,
		Admin:   identity.IsAdmin(),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	switch {
	case errors.Is(err, errEmptyBody):
		// Cancellation reason is optional.
	case err != nil:
		writeBodyError(ctx, w, err)
		return
	default:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		ActorID: identity.UID,
		Admin:   identity.IsAdmin(),
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) handleCompletePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxOrderCancelBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req completePaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	order, err := h.orders.CompletePayment(ctx, services.CompletePaymentCommand{
		OrderID:       orderID,
		ActorID:       identity.UID,
		Admin:         identity.IsAdmin(),
		TransactionID: req.TransactionID,
		MerchantUID:   req.MerchantUID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func buildOrderListResponse(page domain.Page[services.Order]) orderListResponse {
	response := orderListResponse{
		Items:      make([]orderSummaryPayload, 0, len(page.Items)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
	}
	for _, order := range page.Items {
		response.Items = append(response.Items, buildOrderSummary(order))
	}
	return response
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      string(order.Status),
		ItemCount:   len(order.Items),
		FinalAmount: order.FinalAmount,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		UserID:      strings.TrimSpace(order.UserID),
		Status:      string(order.Status),
		Channel:     string(order.Channel),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: shippingAddressPayload{
			RecipientName: order.ShippingAddress.RecipientName,
			Phone:         order.ShippingAddress.Phone,
			Address:       order.ShippingAddress.Address,
			AddressDetail: order.ShippingAddress.AddressDetail,
			PostalCode:    order.ShippingAddress.PostalCode,
			DeliveryNote:  order.ShippingAddress.DeliveryNote,
		},
		Payment: paymentPayload{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			Amount:        order.Payment.Amount,
			PaidAt:        formatTime(pointerTime(order.Payment.PaidAt)),
			TransactionID: strings.TrimSpace(order.Payment.TransactionID),
			MerchantUID:   strings.TrimSpace(order.Payment.MerchantUID),
		},
		TotalAmount:     order.TotalAmount,
		ShippingFee:     order.ShippingFee,
		DiscountAmount:  order.DiscountAmount,
		FinalAmount:     order.FinalAmount,
		TrackingNumber:  strings.TrimSpace(order.TrackingNumber),
		ShippingCompany: strings.TrimSpace(order.ShippingCompany),
		OrderNote:       order.OrderNote,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:    strings.TrimSpace(item.ProductID),
			ProductName:  item.ProductName,
			ProductPrice: item.ProductPrice,
			ProductImage: strings.TrimSpace(item.ProductImage),
			Quantity:     item.Quantity,
			Size:         string(item.Size),
			Color:        strings.TrimSpace(item.Color),
			Subtotal:     item.Subtotal,
		})
	}

	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("order_forbidden", "order belongs to another user", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
