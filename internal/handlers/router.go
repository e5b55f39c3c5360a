package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/seoulthread/api/internal/platform/httpx"
)

// RouteRegistrar attaches a group's endpoints to the router it receives.
type RouteRegistrar func(r chi.Router)

const (
	apiPrefix      = "/api/v1"
	requestTimeout = 60 * time.Second
)

// routerConfig collects everything the options set before the router is built.
// A group left nil still gets mounted and answers 501 so route typos surface
// as route_not_found rather than being mistaken for missing features.
type routerConfig struct {
	middlewares      []func(http.Handler) http.Handler
	adminMiddlewares []func(http.Handler) http.Handler
	health           *HealthHandlers
	registrars       map[string]RouteRegistrar
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

// groupOption wires a registrar into a named group slot.
func groupOption(name string) func(RouteRegistrar) Option {
	return func(reg RouteRegistrar) Option {
		return func(cfg *routerConfig) {
			cfg.registrars[name] = reg
		}
	}
}

var (
	// WithProductRoutes registers the public catalog endpoints.
	WithProductRoutes = groupOption("products")
	// WithAuthRoutes registers signup, login, and profile endpoints.
	WithAuthRoutes = groupOption("auth")
	// WithCartRoutes registers the cart endpoints.
	WithCartRoutes = groupOption("cart")
	// WithOrderRoutes registers checkout and order history endpoints.
	WithOrderRoutes = groupOption("orders")
	// WithAdminRoutes registers the admin console endpoints.
	WithAdminRoutes = groupOption("admin")
)

// WithMiddlewares appends additional global middleware to the router.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithAdminMiddlewares appends middleware applied only to the /admin group.
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.adminMiddlewares = append(cfg.adminMiddlewares, mw...)
	}
}

// WithHealthHandlers overrides the handlers behind /healthz and /readyz.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// NewRouter builds the chi router: shared middleware, health probes, and the
// versioned API groups under /api/v1.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		middlewares: []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Timeout(requestTimeout),
		},
		registrars: make(map[string]RouteRegistrar),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(errorHandler("route_not_found", http.StatusNotFound, func(req *http.Request) string {
		return fmt.Sprintf("no route for %s", req.URL.Path)
	}))
	r.MethodNotAllowed(errorHandler("method_not_allowed", http.StatusMethodNotAllowed, func(req *http.Request) string {
		return fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path)
	}))

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	groups := []struct {
		name        string
		middlewares []func(http.Handler) http.Handler
	}{
		{name: "products"},
		{name: "auth"},
		{name: "cart"},
		{name: "orders"},
		{name: "admin", middlewares: cfg.adminMiddlewares},
	}

	r.Route(apiPrefix, func(api chi.Router) {
		for _, group := range groups {
			registrar := cfg.registrars[group.name]
			groupMW := group.middlewares
			name := group.name
			api.Route("/"+name, func(sub chi.Router) {
				for _, mw := range groupMW {
					if mw != nil {
						sub.Use(mw)
					}
				}
				if registrar != nil {
					registrar(sub)
					return
				}
				stub := errorHandler("not_implemented", http.StatusNotImplemented, func(*http.Request) string {
					return fmt.Sprintf("%s routes not implemented", name)
				})
				sub.HandleFunc("/*", stub)
				sub.HandleFunc("/", stub)
				sub.NotFound(stub)
				sub.MethodNotAllowed(stub)
			})
		}
	})

	return r
}

func errorHandler(code string, status int, message func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError(code, message(req), status))
	}
}
