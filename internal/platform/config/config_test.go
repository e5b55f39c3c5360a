package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseEnv() map[string]string {
	return map[string]string{
		"API_FIRESTORE_PROJECT_ID": "seoulthread-test",
		"API_AUTH_SIGNING_KEY":     "unit-test-signing-key",
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(baseEnv()),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("unexpected port: %q", cfg.Server.Port)
	}
	if cfg.Auth.Issuer != "seoulthread" || cfg.Auth.TokenTTL != 24*time.Hour {
		t.Fatalf("unexpected auth defaults: %+v", cfg.Auth)
	}
	if cfg.Pricing.ShippingFlatFee != 3000 || cfg.Pricing.FreeShippingThreshold != 50000 {
		t.Fatalf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" || cfg.Idempotency.TTL != 24*time.Hour {
		t.Fatalf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Security.Environment != "local" {
		t.Fatalf("unexpected environment: %q", cfg.Security.Environment)
	}
	// Pub/Sub project falls back to the Firestore project.
	if cfg.PubSub.ProjectID != "seoulthread-test" {
		t.Fatalf("unexpected pubsub project: %q", cfg.PubSub.ProjectID)
	}
}

func TestLoadOverridesFromEnvMap(t *testing.T) {
	env := baseEnv()
	env["API_SERVER_PORT"] = "9090"
	env["API_PRICING_SHIPPING_FLAT_FEE"] = "2500"
	env["API_PRICING_FREE_SHIPPING_THRESHOLD"] = "30000"
	env["API_AUTH_TOKEN_TTL"] = "1h"
	env["API_SECURITY_ENVIRONMENT"] = "Production"

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("unexpected port: %q", cfg.Server.Port)
	}
	if cfg.Pricing.ShippingFlatFee != 2500 || cfg.Pricing.FreeShippingThreshold != 30000 {
		t.Fatalf("unexpected pricing: %+v", cfg.Pricing)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl: %v", cfg.Auth.TokenTTL)
	}
	if cfg.Security.Environment != "production" {
		t.Fatalf("environment not lowercased: %q", cfg.Security.Environment)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{}),
	)
	if err == nil {
		t.Fatalf("expected validation error")
	}

	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	fields := validation.Fields()
	want := map[string]bool{"Firestore.ProjectID": false, "Auth.SigningKey": false}
	for _, field := range fields {
		if _, ok := want[field]; ok {
			want[field] = true
		}
	}
	for field, seen := range want {
		if !seen {
			t.Fatalf("expected %s in validation fields, got %v", field, fields)
		}
	}
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	env := baseEnv()
	env["API_AUTH_SIGNING_KEY"] = "secret://projects/p/secrets/signing-key/versions/latest"

	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		if ref != "secret://projects/p/secrets/signing-key/versions/latest" {
			return "", errors.New("unexpected ref " + ref)
		}
		return "resolved-signing-key", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.SigningKey != "resolved-signing-key" {
		t.Fatalf("secret not resolved: %q", cfg.Auth.SigningKey)
	}
}

func TestLoadNormalisesSmScheme(t *testing.T) {
	env := baseEnv()
	env["API_PSP_STRIPE_API_KEY"] = "sm://projects/p/secrets/stripe/versions/1"

	var sawRef string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		sawRef = ref
		return "sk_test_123", nil
	})

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if sawRef != "secret://projects/p/secrets/stripe/versions/1" {
		t.Fatalf("sm:// not normalised: %q", sawRef)
	}
	if cfg.PSP.StripeAPIKey != "sk_test_123" {
		t.Fatalf("stripe key not resolved: %q", cfg.PSP.StripeAPIKey)
	}
}

func TestLoadReportsSecretFailure(t *testing.T) {
	env := baseEnv()
	env["API_AUTH_SIGNING_KEY"] = "secret://projects/p/secrets/missing/versions/latest"

	resolver := SecretResolverFunc(func(_ context.Context, _ string) (string, error) {
		return "", errors.New("permission denied")
	})

	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(env),
		WithSecretResolver(resolver),
	)
	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected SecretError, got %v", err)
	}
}

func TestLoadRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(baseEnv()),
		WithRequiredSecrets("PSP.StripeAPIKey"),
	)
	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSecretsError, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected missing names: %v", names)
	}
	if redacted := missing.RedactedNames(); len(redacted) != 1 || redacted[0] == "PSP.StripeAPIKey" {
		t.Fatalf("expected redacted name, got %v", redacted)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	contents := "# local overrides\nexport API_SERVER_PORT=7001\nAPI_FIRESTORE_PROJECT_ID=\"dotenv-project\"\nAPI_AUTH_SIGNING_KEY='dotenv-key'\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(),
		WithoutSystemEnv(),
		WithEnvFile(path),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7001" || cfg.Firestore.ProjectID != "dotenv-project" {
		t.Fatalf("dotenv values not applied: %+v", cfg)
	}
	if cfg.Auth.SigningKey != "dotenv-key" {
		t.Fatalf("quotes not trimmed: %q", cfg.Auth.SigningKey)
	}
}

func TestEnvironmentValuesPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SHARED=dotenv\nDOTENV_ONLY=yes\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	values, err := EnvironmentValues(
		WithoutSystemEnv(),
		WithEnvFile(path),
		WithEnvMap(map[string]string{"SHARED": "explicit"}),
	)
	if err != nil {
		t.Fatalf("EnvironmentValues: %v", err)
	}
	if values["SHARED"] != "explicit" {
		t.Fatalf("explicit map should win: %q", values["SHARED"])
	}
	if values["DOTENV_ONLY"] != "yes" {
		t.Fatalf("dotenv value missing: %v", values)
	}
}
