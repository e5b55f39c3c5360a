// Package config loads runtime settings from the environment, an optional
// .env file, and Secret Manager references.
package config

import (
	"context"
	"strings"
	"time"
)

const (
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultSecurityEnvironment  = "local"
	defaultTokenTTL             = 24 * time.Hour
	defaultTokenIssuer          = "seoulthread"
	defaultShippingFlatFee      = 3000
	defaultFreeShippingMinimum  = 50000
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Storage     StorageConfig
	PubSub      PubSubConfig
	Auth        AuthConfig
	PSP         PSPConfig
	Pricing     PricingConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	AssetsBucket string
	SignedURLKey string
}

// PubSubConfig names the topics order lifecycle events are published to.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// AuthConfig holds bearer-token issuance settings.
type AuthConfig struct {
	SigningKey string
	Issuer     string
	TokenTTL   time.Duration
}

// PSPConfig collects secrets for payment providers.
type PSPConfig struct {
	StripeAPIKey string
}

// PricingConfig carries the server-side shipping fee policy. Amounts are
// integer KRW.
type PricingConfig struct {
	ShippingFlatFee       int64
	FreeShippingThreshold int64
}

// SecurityConfig groups deployment-environment settings.
type SecurityConfig struct {
	Environment string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// Load assembles the configuration. Precedence per key, highest first:
// explicit env map, process environment, .env file, built-in default.
// secret:// and sm:// values are resolved through the configured resolver
// before validation runs.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	src, err := options.sources()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         src.str("API_SERVER_PORT", defaultPort),
			ReadTimeout:  src.duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: src.duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  src.duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    src.str("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: src.str("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			AssetsBucket: src.str("API_STORAGE_ASSETS_BUCKET", ""),
			SignedURLKey: src.str("API_STORAGE_SIGNED_URL_KEY", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        src.str("API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: src.str("API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Auth: AuthConfig{
			SigningKey: src.str("API_AUTH_SIGNING_KEY", ""),
			Issuer:     src.str("API_AUTH_ISSUER", defaultTokenIssuer),
			TokenTTL:   src.duration("API_AUTH_TOKEN_TTL", defaultTokenTTL),
		},
		PSP: PSPConfig{
			StripeAPIKey: src.str("API_PSP_STRIPE_API_KEY", ""),
		},
		Pricing: PricingConfig{
			ShippingFlatFee:       src.amount("API_PRICING_SHIPPING_FLAT_FEE", defaultShippingFlatFee),
			FreeShippingThreshold: src.amount("API_PRICING_FREE_SHIPPING_THRESHOLD", defaultFreeShippingMinimum),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(src.str("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
		},
		Idempotency: IdempotencyConfig{
			Header:           src.str("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              src.duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  src.duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: src.count("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
	}

	// Pub/Sub usually lives in the same project as Firestore.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	resolved, err := resolveSecretFields(ctx, &cfg, options.secret)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

// resolveSecretFields walks the fields that may hold secret references and
// replaces each reference with its resolved value. The returned map records
// what resolved for the required-secrets check.
func resolveSecretFields(ctx context.Context, cfg *Config, resolver SecretResolver) (map[string]string, error) {
	targets := []struct {
		name  string
		field *string
	}{
		{"Auth.SigningKey", &cfg.Auth.SigningKey},
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"Storage.SignedURLKey", &cfg.Storage.SignedURLKey},
	}

	resolved := make(map[string]string, len(targets))
	for _, target := range targets {
		value := *target.field
		if ref, ok := secretReference(value); ok {
			if resolver == nil {
				return nil, &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
			}
			secret, err := resolver.ResolveSecret(ctx, ref)
			if err != nil {
				return nil, &SecretError{Ref: ref, Err: err}
			}
			value = secret
			*target.field = secret
		}
		resolved[target.name] = strings.TrimSpace(value)
	}
	return resolved, nil
}

// secretReference reports whether value is a secret reference and returns it
// normalised to the secret:// scheme.
func secretReference(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)
	switch {
	case strings.HasPrefix(trimmed, "secret://"):
		return trimmed, true
	case strings.HasPrefix(trimmed, "sm://"):
		return "secret://" + strings.TrimPrefix(trimmed, "sm://"), true
	}
	return "", false
}

func (c Config) validate() error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(c.Server.Port != "", "Server.Port")
	require(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(strings.TrimSpace(c.Auth.SigningKey) != "", "Auth.SigningKey")
	require(c.Auth.TokenTTL > 0, "Auth.TokenTTL")
	require(c.Pricing.ShippingFlatFee >= 0, "Pricing.ShippingFlatFee")
	require(c.Pricing.FreeShippingThreshold >= 0, "Pricing.FreeShippingThreshold")
	require(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	require(c.Idempotency.TTL > 0, "Idempotency.TTL")
	require(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	require(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}
