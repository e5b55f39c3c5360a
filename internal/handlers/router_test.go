package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestNewRouterServesProbes(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestNewRouterUnconfiguredGroupsReturnNotImplemented(t *testing.T) {
	router := NewRouter()

	for _, path := range []string{
		"/api/v1/products",
		"/api/v1/auth/login",
		"/api/v1/cart",
		"/api/v1/orders/ord_1",
		"/api/v1/admin/dashboard",
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", path, rr.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: unmarshal: %v", path, err)
		}
		if body["error"] != "not_implemented" {
			t.Fatalf("%s: expected not_implemented, got %v", path, body["error"])
		}
	}
}

func TestNewRouterMountsConfiguredGroup(t *testing.T) {
	router := NewRouter(
		WithProductRoutes(func(r chi.Router) {
			r.Get("/", func(w http.ResponseWriter, req *http.Request) {
				writeJSONResponse(w, http.StatusOK, map[string]string{"group": "products"})
			})
		}),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["group"] != "products" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestNewRouterUnknownRoute(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v2/nothing", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "route_not_found" {
		t.Fatalf("expected route_not_found, got %v", body["error"])
	}
}

func TestNewRouterMethodNotAllowed(t *testing.T) {
	router := NewRouter()

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestNewRouterAdminMiddlewares(t *testing.T) {
	var sawHeader bool
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sawHeader = true
			next.ServeHTTP(w, r)
		})
	}

	router := NewRouter(
		WithAdminRoutes(func(r chi.Router) {
			r.Get("/dashboard", func(w http.ResponseWriter, req *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
		}),
		WithAdminMiddlewares(mw),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/dashboard", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !sawHeader {
		t.Fatalf("admin middleware was not applied")
	}

	// Middleware on the admin group must not leak into other groups.
	sawHeader = false
	req = httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if sawHeader {
		t.Fatalf("admin middleware leaked into the products group")
	}
}
