package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const defaultEnvFile = ".env"

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

func defaultLoaderOptions() loaderOptions {
	return loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
}

// WithEnvFile overrides the .env file path used for local overrides. An empty
// path disables dotenv loading.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map. Its values win over the
// process environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv ignores the process environment, leaving only explicit
// maps and the .env file.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret identifiers as mandatory. Identifiers use
// the config field path, e.g. "Auth.SigningKey" or "PSP.StripeAPIKey".
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

// sources answers key lookups with the loader's precedence: explicit map
// first, then the process environment, then the .env file.
type sources struct {
	overrides map[string]string
	system    bool
	dotenv    map[string]string
}

func (o loaderOptions) sources() (sources, error) {
	dotenv, err := loadDotEnv(o.envFile)
	if err != nil {
		return sources{}, err
	}
	return sources{overrides: o.envMap, system: o.useSystemEnv, dotenv: dotenv}, nil
}

func (s sources) lookup(key string) (string, bool) {
	if value, ok := s.overrides[key]; ok {
		return value, true
	}
	if s.system {
		if value, ok := os.LookupEnv(key); ok {
			return value, true
		}
	}
	if value, ok := s.dotenv[key]; ok {
		return value, true
	}
	return "", false
}

func (s sources) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func (s sources) duration(key string, fallback time.Duration) time.Duration {
	if value, ok := s.lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func (s sources) count(key string, fallback int) int {
	if value, ok := s.lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func (s sources) amount(key string, fallback int64) int64 {
	if value, ok := s.lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// EnvironmentValues returns the merged key/value map Load would see, applying
// the same precedence. Callers use it to initialise dependencies (like the
// secret fetcher) before Load runs.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := defaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	src, err := options.sources()
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(src.dotenv)+len(src.overrides))
	for key, value := range src.dotenv {
		values[key] = value
	}
	if src.system {
		for _, entry := range os.Environ() {
			if key, value, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(key) != "" {
				values[strings.TrimSpace(key)] = value
			}
		}
	}
	for key, value := range src.overrides {
		values[key] = value
	}
	return values, nil
}

// loadDotEnv parses KEY=VALUE lines. Blank lines and # comments are skipped,
// a leading "export " is tolerated, and surrounding quotes are stripped.
// A missing file is not an error.
func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return values, nil
}
