package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/platform/httpx"
	"github.com/seoulthread/api/internal/services"
)

const maxAdminBodySize = 256 * 1024

// AdminHandlers exposes the console endpoints: dashboard metrics, order
// fulfilment, account listing, and catalog management.
type AdminHandlers struct {
	authn     *auth.Authenticator
	dashboard services.DashboardService
	orders    services.OrderService
	users     services.UserService
	catalog   services.CatalogService
}

// AdminHandlersDeps bundles the service dependencies of the admin console.
type AdminHandlersDeps struct {
	Authn     *auth.Authenticator
	Dashboard services.DashboardService
	Orders    services.OrderService
	Users     services.UserService
	Catalog   services.CatalogService
}

// NewAdminHandlers wires the console endpoints with their dependencies.
func NewAdminHandlers(deps AdminHandlersDeps) *AdminHandlers {
	return &AdminHandlers{
		authn:     deps.Authn,
		dashboard: deps.Dashboard,
		orders:    deps.Orders,
		users:     deps.Users,
		catalog:   deps.Catalog,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}

	r.Get("/dashboard", h.handleDashboard)

	r.Get("/orders", h.handleListOrders)
	r.Get("/orders/{orderID}", h.handleGetOrder)
	r.Patch("/orders/{orderID}/status", h.handleUpdateOrderStatus)

	r.Get("/users", h.handleListUsers)

	r.Post("/products", h.handleCreateProduct)
	r.Put("/products/{productID}", h.handleUpdateProduct)
	r.Delete("/products/{productID}", h.handleDeleteProduct)
	r.Post("/products/upload-url", h.handleCreateUploadURL)
}

type dashboardResponse struct {
	TotalOrders    int64 `json:"total_orders"`
	TotalProducts  int64 `json:"total_products"`
	TotalCustomers int64 `json:"total_customers"`

	MonthlyOrders    int64 `json:"monthly_orders"`
	MonthlyProducts  int64 `json:"monthly_products"`
	MonthlyCustomers int64 `json:"monthly_customers"`
	MonthlySales     int64 `json:"monthly_sales"`
	PreviousSales    int64 `json:"previous_sales"`

	OrdersChangePercent    float64 `json:"orders_change_percent"`
	ProductsChangePercent  float64 `json:"products_change_percent"`
	CustomersChangePercent float64 `json:"customers_change_percent"`
	SalesChangePercent     float64 `json:"sales_change_percent"`

	Period      dashboardPeriodPayload `json:"period"`
	GeneratedAt string                 `json:"generated_at"`
}

type dashboardPeriodPayload struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type updateOrderStatusRequest struct {
	Status          string `json:"status"`
	TrackingNumber  string `json:"tracking_number"`
	ShippingCompany string `json:"shipping_company"`
}

type userListResponse struct {
	Items      []userPayload `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalCount int64         `json:"total_count"`
	HasMore    bool          `json:"has_more"`
}

type upsertProductRequest struct {
	SKU         string   `json:"sku"`
	Name        string   `json:"name"`
	Price       int64    `json:"price"`
	Category    string   `json:"category"`
	Generation  string   `json:"generation"`
	Image       string   `json:"image"`
	Description string   `json:"description"`
	Sizes       []string `json:"sizes"`
}

type uploadURLRequest struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
}

type uploadURLResponse struct {
	UploadURL string `json:"upload_url"`
	PublicURL string `json:"public_url"`
	ExpiresAt string `json:"expires_at"`
}

func (h *AdminHandlers) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var query services.DashboardQuery
	year, ok := parseIntParam(ctx, w, r, "year")
	if !ok {
		return
	}
	month, ok := parseIntParam(ctx, w, r, "month")
	if !ok {
		return
	}
	query.Year, query.Month = year, month

	summary, err := h.dashboard.Summary(ctx, query)
	if err != nil {
		if errors.Is(err, services.ErrDashboardInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("dashboard_unavailable", "failed to compute dashboard metrics", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, dashboardResponse{
		TotalOrders:    summary.TotalOrders,
		TotalProducts:  summary.TotalProducts,
		TotalCustomers: summary.TotalCustomers,

		MonthlyOrders:    summary.MonthlyOrders,
		MonthlyProducts:  summary.MonthlyProducts,
		MonthlyCustomers: summary.MonthlyCustomers,
		MonthlySales:     summary.MonthlySales,
		PreviousSales:    summary.PreviousSales,

		OrdersChangePercent:    summary.OrdersChangePercent,
		ProductsChangePercent:  summary.ProductsChangePercent,
		CustomersChangePercent: summary.CustomersChangePercent,
		SalesChangePercent:     summary.SalesChangePercent,

		Period: dashboardPeriodPayload{
			Year:      summary.Period.Year,
			Month:     summary.Period.Month,
			StartDate: formatTime(summary.Period.Start),
			EndDate:   formatTime(summary.Period.End),
		},
		GeneratedAt: formatTime(summary.GeneratedAt),
	})
}

// parseIntParam reads an optional integer query parameter, writing a 400
// response when the value is present but not a number.
func parseIntParam(ctx context.Context, w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", name+" must be a number", http.StatusBadRequest))
		return 0, false
	}
	return value, true
}

func (h *AdminHandlers) handleListOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := services.OrderListFilter{
		UserID:     strings.TrimSpace(r.URL.Query().Get("user_id")),
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

func (h *AdminHandlers) handleGetOrder(w http.ResponseWriter, r *http.Request) {
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
		Admin:   true,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req updateOrderStatusRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	order, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID:         orderID,
		ActorID:         identity.UID,
		Status:          req.Status,
		TrackingNumber:  req.TrackingNumber,
		ShippingCompany: req.ShippingCompany,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := services.UserListFilter{
		Role:       strings.TrimSpace(r.URL.Query().Get("role")),
		Pagination: parseListPagination(r),
	}

	page, err := h.users.ListUsers(ctx, filter)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildUserListResponse(page))
}

func (h *AdminHandlers) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	req, ok := h.readProductRequest(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.CreateProduct(ctx, buildProductCommand("", identity.UID, req))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	req, ok := h.readProductRequest(w, r)
	if !ok {
		return
	}

	product, err := h.catalog.UpdateProduct(ctx, buildProductCommand(productID, identity.UID, req))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminHandlers) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	if err := h.catalog.DeleteProduct(ctx, productID); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandlers) handleCreateUploadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req uploadURLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	upload, err := h.catalog.CreateImageUploadURL(ctx, services.ImageUploadCommand{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		ActorID:     identity.UID,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, uploadURLResponse{
		UploadURL: upload.UploadURL,
		PublicURL: upload.PublicURL,
		ExpiresAt: formatTime(upload.ExpiresAt),
	})
}

func (h *AdminHandlers) readProductRequest(w http.ResponseWriter, r *http.Request) (upsertProductRequest, bool) {
	ctx := r.Context()

	var req upsertProductRequest
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return req, false
	}
	return req, true
}

func buildProductCommand(productID, actorID string, req upsertProductRequest) services.UpsertProductCommand {
	return services.UpsertProductCommand{
		ProductID:   productID,
		SKU:         req.SKU,
		Name:        req.Name,
		Price:       req.Price,
		Category:    req.Category,
		Generation:  req.Generation,
		Image:       req.Image,
		Description: req.Description,
		Sizes:       req.Sizes,
		ActorID:     actorID,
	}
}

func buildUserListResponse(page domain.Page[services.User]) userListResponse {
	response := userListResponse{
		Items:      make([]userPayload, 0, len(page.Items)),
		Page:       page.Page,
		PageSize:   page.PageSize,
		TotalCount: page.TotalCount,
		HasMore:    page.HasMore,
	}
	for _, user := range page.Items {
		response.Items = append(response.Items, buildUserPayload(user))
	}
	return response
}
