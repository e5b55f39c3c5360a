package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/platform/config"
	"github.com/seoulthread/api/internal/repositories"
	"github.com/seoulthread/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Catalog   services.CatalogService
	Cart      services.CartService
	Orders    services.OrderService
	Users     services.UserService
	Dashboard services.DashboardService
}

// Deps carries the externally constructed collaborators wired into the
// service layer. Optional fields may be nil; the affected features degrade
// gracefully (no signed uploads, no events, no gateway verification).
type Deps struct {
	Registry repositories.Registry
	Tokens   auth.TokenIssuer
	Signer   services.UploadURLSigner
	Events   services.OrderEventPublisher
	Verifier services.PaymentVerifier
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, deps Deps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Tokens == nil {
		return nil, errors.New("token issuer is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps Deps) (Services, error) {
	var svc Services
	reg := deps.Registry

	catalogSvc, err := services.NewCatalogService(services.CatalogServiceDeps{
		Products:     reg.Products(),
		Signer:       deps.Signer,
		AssetsBucket: cfg.Storage.AssetsBucket,
		Clock:        time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build catalog service: %w", err)
	}
	svc.Catalog = catalogSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Carts:    reg.Carts(),
		Products: reg.Products(),
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		Carts:      reg.Carts(),
		Products:   reg.Products(),
		UnitOfWork: reg,
		Pricing: services.NewPricingEngine(services.PricingEngineConfig{
			ShippingFlatFee:       cfg.Pricing.ShippingFlatFee,
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
		}),
		Verifier: deps.Verifier,
		Events:   deps.Events,
		Clock:    time.Now,
		Logger:   deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	userSvc, err := services.NewUserService(services.UserServiceDeps{
		Users:  reg.Users(),
		Tokens: deps.Tokens,
		Clock:  time.Now,
		Logger: deps.Logger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build user service: %w", err)
	}
	svc.Users = userSvc

	dashboardSvc, err := services.NewDashboardService(services.DashboardServiceDeps{
		Orders:   reg.Orders(),
		Products: reg.Products(),
		Users:    reg.Users(),
		Clock:    time.Now,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build dashboard service: %w", err)
	}
	svc.Dashboard = dashboardSvc

	return svc, nil
}
