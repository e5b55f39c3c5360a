package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/seoulthread/api/internal/di"
	"github.com/seoulthread/api/internal/handlers"
	"github.com/seoulthread/api/internal/payments"
	"github.com/seoulthread/api/internal/platform/auth"
	"github.com/seoulthread/api/internal/platform/config"
	pfirestore "github.com/seoulthread/api/internal/platform/firestore"
	"github.com/seoulthread/api/internal/platform/idempotency"
	"github.com/seoulthread/api/internal/platform/jobs"
	"github.com/seoulthread/api/internal/platform/observability"
	"github.com/seoulthread/api/internal/platform/secrets"
	platformstorage "github.com/seoulthread/api/internal/platform/storage"
	firestoreRepo "github.com/seoulthread/api/internal/repositories/firestore"
	"github.com/seoulthread/api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	tokenCodec, err := auth.NewJWTCodec(cfg.Auth.SigningKey,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		logger.Fatal("failed to initialise token codec", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(tokenCodec)

	uploadSigner := newUploadSigner(logger, cfg)
	eventPublisher, closeEvents := newOrderEventPublisher(ctx, logger, cfg)
	defer closeEvents()

	verifier := newPaymentVerifier(logger, cfg)

	container, err := di.NewContainer(ctx, cfg, di.Deps{
		Registry: registry,
		Tokens:   tokenCodec,
		Signer:   uploadSigner,
		Events:   eventPublisher,
		Verifier: verifier,
		Logger:   zapEventLogger(logger.Named("services")),
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithMethods(http.MethodPost),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	productHandlers := handlers.NewProductHandlers(container.Services.Catalog)
	authHandlers := handlers.NewAuthHandlers(authenticator, container.Services.Users)
	cartHandlers := handlers.NewCartHandlers(authenticator, container.Services.Cart)
	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders,
		handlers.WithOrderIdempotency(idempotencyMiddleware),
	)
	adminHandlers := handlers.NewAdminHandlers(handlers.AdminHandlersDeps{
		Authn:     authenticator,
		Dashboard: container.Services.Dashboard,
		Orders:    container.Services.Orders,
		Users:     container.Services.Users,
		Catalog:   container.Services.Catalog,
	})

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			iter := firestoreClient.Collections(ctx)
			_, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		}),
	)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("seoulthread api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newUploadSigner builds the signed-URL client when a signer key is configured.
// Without it the admin console cannot mint image upload URLs but the rest of
// the API serves normally.
func newUploadSigner(logger *zap.Logger, cfg config.Config) services.UploadURLSigner {
	key := strings.TrimSpace(cfg.Storage.SignedURLKey)
	if key == "" || strings.TrimSpace(cfg.Storage.AssetsBucket) == "" {
		logger.Warn("storage signer not configured; image upload URLs disabled")
		return nil
	}
	signer, err := platformstorage.NewServiceAccountSignerFromJSON([]byte(key))
	if err != nil {
		logger.Fatal("failed to parse storage signer key", zap.Error(err))
	}
	client, err := platformstorage.NewClient(signer)
	if err != nil {
		logger.Fatal("failed to initialise signed url client", zap.Error(err))
	}
	return client
}

// newOrderEventPublisher connects the Pub/Sub order-events topic when one is
// configured. The returned closer stops the topic and the client.
func newOrderEventPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.OrderEventPublisher, func()) {
	topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicID == "" {
		logger.Warn("order events topic not configured; lifecycle events disabled")
		return nil, func() {}
	}

	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	topic := client.Topic(topicID)

	publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	return publisher, func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
}

// newPaymentVerifier wires the Stripe-backed charge verifier when an API key
// is configured. Without it card confirmations are accepted as reported.
func newPaymentVerifier(logger *zap.Logger, cfg config.Config) services.PaymentVerifier {
	apiKey := strings.TrimSpace(cfg.PSP.StripeAPIKey)
	if apiKey == "" {
		logger.Warn("stripe api key not configured; gateway verification disabled")
		return nil
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: apiKey,
		Logger: zapEventLogger(logger.Named("payments")),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}

	manager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	return manager
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_GOOGLE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}
