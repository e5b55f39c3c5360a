package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/seoulthread/api/internal/domain"
	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/services"
)

type stubDashboardService struct {
	summaryFn func(context.Context, services.DashboardQuery) (services.DashboardSummary, error)
}

func (s *stubDashboardService) Summary(ctx context.Context, query services.DashboardQuery) (services.DashboardSummary, error) {
	if s.summaryFn != nil {
		return s.summaryFn(ctx, query)
	}
	return services.DashboardSummary{}, errors.New("not implemented")
}

func newAdminRouter(t *testing.T, authn *auth.Authenticator, deps AdminHandlersDeps) chi.Router {
	t.Helper()
	deps.Authn = authn
	router := chi.NewRouter()
	router.Route("/admin", NewAdminHandlers(deps).Routes)
	return router
}

func TestAdminRejectsCustomers(t *testing.T) {
	authn, mint := newTestAuthenticator(t)
	router := newAdminRouter(t, authn, AdminHandlersDeps{Dashboard: &stubDashboardService{}})

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.Header.Set("Authorization", mint("usr_1", "customer"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "insufficient_role" {
		t.Fatalf("expected insufficient_role, got %v", body["error"])
	}
}

func TestAdminRejectsAnonymous(t *testing.T) {
	authn, _ := newTestAuthenticator(t)
	router := newAdminRouter(t, authn, AdminHandlersDeps{Dashboard: &stubDashboardService{}})

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestAdminDashboardPayload(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	authn, mint := newTestAuthenticator(t)

	dashboard := &stubDashboardService{
		summaryFn: func(ctx context.Context, query services.DashboardQuery) (services.DashboardSummary, error) {
			return services.DashboardSummary{
				TotalOrders:            42,
				TotalProducts:          17,
				TotalCustomers:         88,
				MonthlyOrders:          12,
				MonthlyProducts:        3,
				MonthlyCustomers:       5,
				MonthlySales:           1500000,
				PreviousSales:          1000000,
				OrdersChangePercent:    20,
				ProductsChangePercent:  -25,
				CustomersChangePercent: 0,
				SalesChangePercent:     50,
				Period: services.DashboardPeriod{
					Year:  2025,
					Month: 3,
					Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
					End:   now,
				},
				GeneratedAt: now,
			}, nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Dashboard: dashboard})

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body dashboardResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.TotalOrders != 42 || body.TotalProducts != 17 || body.TotalCustomers != 88 {
		t.Fatalf("unexpected counts: %+v", body)
	}
	if body.MonthlyOrders != 12 || body.MonthlyProducts != 3 || body.MonthlyCustomers != 5 {
		t.Fatalf("unexpected monthly counts: %+v", body)
	}
	if body.MonthlySales != 1500000 || body.SalesChangePercent != 50 {
		t.Fatalf("unexpected sales: %+v", body)
	}
	if body.OrdersChangePercent != 20 || body.ProductsChangePercent != -25 || body.CustomersChangePercent != 0 {
		t.Fatalf("unexpected change percents: %+v", body)
	}
	if body.Period.Year != 2025 || body.Period.Month != 3 {
		t.Fatalf("unexpected period: %+v", body.Period)
	}
	if body.Period.StartDate != "2025-03-01T00:00:00Z" || body.Period.EndDate != "2025-03-15T10:00:00Z" {
		t.Fatalf("unexpected period bounds: %+v", body.Period)
	}
}

func TestAdminDashboardForwardsWindowParams(t *testing.T) {
	authn, mint := newTestAuthenticator(t)

	var captured services.DashboardQuery
	dashboard := &stubDashboardService{
		summaryFn: func(ctx context.Context, query services.DashboardQuery) (services.DashboardSummary, error) {
			captured = query
			return services.DashboardSummary{}, nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Dashboard: dashboard})

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard?year=2024&month=12", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Year != 2024 || captured.Month != 12 {
		t.Fatalf("window params not forwarded: %+v", captured)
	}
}

func TestAdminDashboardRejectsNonNumericMonth(t *testing.T) {
	authn, mint := newTestAuthenticator(t)
	router := newAdminRouter(t, authn, AdminHandlersDeps{Dashboard: &stubDashboardService{}})

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard?month=march", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "invalid_request" {
		t.Fatalf("expected invalid_request, got %v", body["error"])
	}
}

func TestAdminDashboardRejectsOutOfRangeWindow(t *testing.T) {
	authn, mint := newTestAuthenticator(t)
	dashboard := &stubDashboardService{
		summaryFn: func(ctx context.Context, query services.DashboardQuery) (services.DashboardSummary, error) {
			return services.DashboardSummary{}, fmt.Errorf("%w: month must be between 1 and 12", services.ErrDashboardInvalidInput)
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Dashboard: dashboard})

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard?month=13", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminDashboardUnavailable(t *testing.T) {
	authn, mint := newTestAuthenticator(t)
	dashboard := &stubDashboardService{
		summaryFn: func(ctx context.Context, query services.DashboardQuery) (services.DashboardSummary, error) {
			return services.DashboardSummary{}, fmt.Errorf("%w: count orders", services.ErrDashboardUnavailable)
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Dashboard: dashboard})

	req := httptest.NewRequest(http.MethodGet, "/admin/dashboard", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestAdminListOrdersForwardsFilter(t *testing.T) {
	authn, mint := newTestAuthenticator(t)

	var captured services.OrderListFilter
	orders := &stubOrderService{
		listFn: func(ctx context.Context, filter services.OrderListFilter) (domain.Page[services.Order], error) {
			captured = filter
			return domain.Page[services.Order]{}, nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Orders: orders})

	req := httptest.NewRequest(http.MethodGet, "/admin/orders?user_id=usr_7&status=shipping&page=3&page_size=25", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "usr_7" || captured.Status != "shipping" {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	if captured.Pagination.Page != 3 || captured.Pagination.PageSize != 25 {
		t.Fatalf("pagination not parsed: %+v", captured.Pagination)
	}
}

func TestAdminUpdateOrderStatus(t *testing.T) {
	now := time.Date(2025, 3, 15, 10, 0, 0, 0, time.UTC)
	authn, mint := newTestAuthenticator(t)

	var captured services.UpdateOrderStatusCommand
	orders := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			captured = cmd
			shipped := sampleOrder(now)
			shipped.Status = domain.OrderStatusShipping
			shipped.TrackingNumber = cmd.TrackingNumber
			shipped.ShippingCompany = cmd.ShippingCompany
			return shipped, nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Orders: orders})

	payload := `{"status":"shipping","tracking_number":"1234567890","shipping_company":"CJ Logistics"}`
	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", bytes.NewBufferString(payload))
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ActorID != "usr_admin" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Status != "shipping" || captured.TrackingNumber != "1234567890" {
		t.Fatalf("unexpected status update: %+v", captured)
	}

	var body orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Order.Status != "shipping" || body.Order.TrackingNumber != "1234567890" {
		t.Fatalf("unexpected payload: %+v", body.Order)
	}
}

func TestAdminUpdateOrderStatusInvalid(t *testing.T) {
	authn, mint := newTestAuthenticator(t)
	orders := &stubOrderService{
		updateFn: func(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: unknown status %q", services.ErrOrderInvalidInput, cmd.Status)
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Orders: orders})

	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", bytes.NewBufferString(`{"status":"teleported"}`))
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminListUsersByRole(t *testing.T) {
	authn, mint := newTestAuthenticator(t)

	var captured services.UserListFilter
	users := &stubUserService{
		listUsersFn: func(ctx context.Context, filter services.UserListFilter) (domain.Page[services.User], error) {
			captured = filter
			return domain.Page[services.User]{
				Items:      []services.User{{ID: "usr_1", Name: "Kim Jiwoo", Role: domain.RoleCustomer}},
				Page:       1,
				PageSize:   20,
				TotalCount: 1,
			}, nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Users: users})

	req := httptest.NewRequest(http.MethodGet, "/admin/users?role=customer", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Role != "customer" {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	var body userListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Items) != 1 || body.Items[0].Name != "Kim Jiwoo" {
		t.Fatalf("unexpected payload: %+v", body)
	}
}

func TestAdminCreateProduct(t *testing.T) {
	authn, mint := newTestAuthenticator(t)

	var captured services.UpsertProductCommand
	catalog := &stubCatalogService{
		createFn: func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			captured = cmd
			return services.Product{
				ID:       "prd_1",
				SKU:      cmd.SKU,
				Name:     cmd.Name,
				Price:    cmd.Price,
				Category: domain.CategoryKnit,
			}, nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Catalog: catalog})

	payload := `{"sku":"ST-KNIT-001","name":"Wool Knit","price":39000,"category":"knit","generation":"genM","sizes":["S","M"]}`
	req := httptest.NewRequest(http.MethodPost, "/admin/products", bytes.NewBufferString(payload))
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "" || captured.ActorID != "usr_admin" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.SKU != "ST-KNIT-001" || captured.Price != 39000 || len(captured.Sizes) != 2 {
		t.Fatalf("unexpected product fields: %+v", captured)
	}
}

func TestAdminUpdateProductNotFound(t *testing.T) {
	authn, mint := newTestAuthenticator(t)
	catalog := &stubCatalogService{
		updateFn: func(ctx context.Context, cmd services.UpsertProductCommand) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: %s", services.ErrCatalogNotFound, cmd.ProductID)
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Catalog: catalog})

	req := httptest.NewRequest(http.MethodPut, "/admin/products/prd_missing", bytes.NewBufferString(`{"sku":"X","name":"X","price":1000,"category":"knit","generation":"genM"}`))
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminDeleteProduct(t *testing.T) {
	authn, mint := newTestAuthenticator(t)

	var deleted string
	catalog := &stubCatalogService{
		deleteFn: func(ctx context.Context, productID string) error {
			deleted = productID
			return nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Catalog: catalog})

	req := httptest.NewRequest(http.MethodDelete, "/admin/products/prd_1", nil)
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if deleted != "prd_1" {
		t.Fatalf("unexpected delete target %q", deleted)
	}
}

func TestAdminCreateUploadURL(t *testing.T) {
	expires := time.Date(2025, 3, 15, 10, 15, 0, 0, time.UTC)
	authn, mint := newTestAuthenticator(t)

	var captured services.ImageUploadCommand
	catalog := &stubCatalogService{
		uploadURLFn: func(ctx context.Context, cmd services.ImageUploadCommand) (services.ImageUpload, error) {
			captured = cmd
			return services.ImageUpload{
				UploadURL: "https://storage.googleapis.com/signed",
				PublicURL: "https://storage.googleapis.com/seoulthread-assets/products/knit.jpg",
				ExpiresAt: expires,
			}, nil
		},
	}

	router := newAdminRouter(t, authn, AdminHandlersDeps{Catalog: catalog})

	req := httptest.NewRequest(http.MethodPost, "/admin/products/upload-url", bytes.NewBufferString(`{"file_name":"knit.jpg","content_type":"image/jpeg"}`))
	req.Header.Set("Authorization", mint("usr_admin", "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.FileName != "knit.jpg" || captured.ContentType != "image/jpeg" || captured.ActorID != "usr_admin" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	var body uploadURLResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.UploadURL == "" || body.PublicURL == "" || body.ExpiresAt == "" {
		t.Fatalf("unexpected payload: %+v", body)
	}
}
