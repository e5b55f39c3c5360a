package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
)

// newSecretManagerClient is swapped out in tests that exercise the
// no-credentials startup path.
var newSecretManagerClient = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type accessClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references against Google Secret Manager.
// Resolved values are cached for the process lifetime; when Secret Manager
// is unreachable or denies access, a local fallback file supplies values so
// the API can still boot in development.
type Fetcher struct {
	client     accessClient
	ownsClient bool
	clientOpts []option.ClientOption
	logger     *zap.Logger

	env            string
	defaultProject string

	fallbackPath string
	fallbackOnce sync.Once
	fallback     map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithEnvironment records the deployment environment label. It is only used
// for log context; resolution itself is driven by the project ID.
func WithEnvironment(env string) Option {
	return func(f *Fetcher) {
		if trimmed := strings.ToLower(strings.TrimSpace(env)); trimmed != "" {
			f.env = trimmed
		}
	}
}

// WithDefaultProject sets the GCP project used for short references that do
// not spell out a full resource path.
func WithDefaultProject(projectID string) Option {
	return func(f *Fetcher) {
		f.defaultProject = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile points at the local key=value fallback file.
func WithFallbackFile(path string) Option {
	return func(f *Fetcher) {
		f.fallbackPath = strings.TrimSpace(path)
	}
}

// WithSecretManagerClient injects a preconfigured client, mainly for tests.
func WithSecretManagerClient(client accessClient) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithClientOptions forwards Cloud client options (credentials files and the
// like) to the Secret Manager client constructor.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) {
		f.clientOpts = append(f.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A missing or unauthenticated Secret Manager
// client is not fatal; the fetcher degrades to fallback-file resolution.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	f := &Fetcher{
		logger:       zap.NewNop(),
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
		cache:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		client, err := newSecretManagerClient(ctx, f.clientOpts...)
		if err != nil {
			f.logger.Warn("secret manager unavailable, using fallback file only",
				zap.String("environment", f.env), zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases the underlying Secret Manager client if the fetcher owns it.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Resolve returns the value behind a secret:// reference. The reference may
// name a bare secret ("secret://stripe-key"), optionally with ?version= and
// ?project= query parameters, or carry a full Secret Manager resource path
// ("secret://projects/p/secrets/name/versions/3").
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseRef(ref)
	if err != nil {
		return "", err
	}

	if value, ok := f.cached(parsed.cacheKey()); ok {
		return value, nil
	}

	resource := parsed.resourceName(f.defaultProject)
	if resource != "" && f.client != nil {
		value, err := f.access(ctx, resource)
		if err == nil {
			f.store(parsed.cacheKey(), value)
			return value, nil
		}
		if !recoverable(err) {
			return "", fmt.Errorf("secrets: access %s: %w", parsed.canonical, err)
		}
		f.logger.Debug("secret manager access failed, trying fallback file",
			zap.String("ref", parsed.canonical), zap.Error(err))
	}

	value, ok := f.fromFallback(parsed)
	if !ok {
		return "", fmt.Errorf("secrets: no value for %s", parsed.canonical)
	}
	f.store(parsed.cacheKey(), value)
	return value, nil
}

func (f *Fetcher) access(ctx context.Context, resource string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
	if err != nil {
		return "", err
	}
	if resp.GetPayload() == nil {
		return "", fmt.Errorf("empty payload for %s", resource)
	}
	return string(resp.GetPayload().GetData()), nil
}

func (f *Fetcher) cached(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[key]
	return value, ok
}

func (f *Fetcher) store(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) fromFallback(ref secretRef) (string, bool) {
	f.loadFallback()
	if f.fallbackErr != nil {
		f.logger.Debug("fallback file unreadable", zap.Error(f.fallbackErr))
		return "", false
	}
	if value, ok := f.fallback[ref.cacheKey()]; ok {
		return value, true
	}
	value, ok := f.fallback[ref.canonical]
	return value, ok
}

// loadFallback reads the fallback file once. Lines are KEY=VALUE; keys may be
// secret:// or sm:// references and are normalised before lookup.
func (f *Fetcher) loadFallback() {
	f.fallbackOnce.Do(func() {
		f.fallback = map[string]string{}
		if f.fallbackPath == "" {
			return
		}
		file, err := os.Open(f.fallbackPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = err
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, found := strings.Cut(line, "=")
			if !found {
				continue
			}
			key = strings.TrimSpace(key)
			if strings.HasPrefix(key, "sm://") {
				key = "secret://" + strings.TrimPrefix(key, "sm://")
			}
			value = strings.TrimSpace(value)
			if parsed, err := parseRef(key); err == nil {
				f.fallback[parsed.canonical] = value
				f.fallback[parsed.cacheKey()] = value
			} else if key != "" {
				f.fallback[key] = value
			}
		}
		f.fallbackErr = scanner.Err()
	})
}

type secretRef struct {
	canonical string
	name      string
	version   string
	project   string
	full      bool
}

func (r secretRef) cacheKey() string {
	return r.canonical + "#" + r.version
}

// resourceName renders the Secret Manager resource path, or "" when no
// project is known for a short reference.
func (r secretRef) resourceName(defaultProject string) string {
	if r.full {
		return r.name
	}
	project := r.project
	if project == "" {
		project = defaultProject
	}
	if project == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, r.name, r.version)
}

func parseRef(ref string) (secretRef, error) {
	if strings.TrimSpace(ref) == "" {
		return secretRef{}, errors.New("secrets: empty reference")
	}
	u, err := url.Parse(ref)
	if err != nil {
		return secretRef{}, fmt.Errorf("secrets: bad reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return secretRef{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	name := strings.Trim(u.Host+u.Path, "/")
	if name == "" {
		return secretRef{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	out := secretRef{
		canonical: canonical.String(),
		name:      name,
		version:   strings.TrimSpace(u.Query().Get("version")),
		project:   strings.TrimSpace(u.Query().Get("project")),
	}

	// "secret://projects/p/secrets/key/versions/3" carries the resource path
	// inline; use it verbatim instead of re-deriving from the default project.
	parts := strings.Split(name, "/")
	if len(parts) == 6 && parts[0] == "projects" && parts[2] == "secrets" && parts[4] == "versions" {
		out.full = true
		out.project = parts[1]
		out.version = parts[5]
	}
	if out.version == "" {
		out.version = defaultVersion
	}
	return out, nil
}

// recoverable reports whether a Secret Manager failure should fall through to
// the local fallback file. A definitive NotFound does not; the operator
// almost certainly misspelled the secret name.
func recoverable(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	}
	return false
}
