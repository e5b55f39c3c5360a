package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessClient struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeAccessClient() *fakeAccessClient {
	return &fakeAccessClient{
		values: map[string]string{},
		errs:   map[string]error{},
		calls:  map[string]int{},
	}
}

func (c *fakeAccessClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := req.GetName()
	c.calls[name]++
	if err, ok := c.errs[name]; ok {
		return nil, err
	}
	if value, ok := c.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (c *fakeAccessClient) Close() error { return nil }

func (c *fakeAccessClient) callCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}
	return path
}

func TestResolveCachesRemoteValue(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/seoulthread-test/secrets/stripe-api-key/versions/latest"
	client.values[resource] = "sk_live_abc"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("seoulthread-test"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
		if err != nil {
			t.Fatalf("Resolve call %d: %v", i+1, err)
		}
		if got != "sk_live_abc" {
			t.Fatalf("Resolve call %d: got %q", i+1, got)
		}
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected one remote access, got %d", calls)
	}
}

func TestResolveFullResourcePath(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/other-project/secrets/signing-key/versions/3"
	client.values[resource] = "key-v3"

	// The default project must not override a fully qualified reference.
	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("seoulthread-test"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://projects/other-project/secrets/signing-key/versions/3")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "key-v3" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveVersionQueryParameter(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/seoulthread-test/secrets/stripe-api-key/versions/7"
	client.values[resource] = "sk_v7"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("seoulthread-test"),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe-api-key?version=7")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "sk_v7" {
		t.Fatalf("got %q", got)
	}
	if calls := client.callCount(resource); calls != 1 {
		t.Fatalf("expected access of version 7, got %d calls", calls)
	}
}

func TestResolveFallsBackOnPermissionDenied(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/seoulthread-test/secrets/stripe-api-key/versions/latest"
	client.errs[resource] = status.Error(codes.PermissionDenied, "denied")

	path := writeFallback(t, "secret://stripe-api-key=local-value\n")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("seoulthread-test"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-value" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveDoesNotFallBackOnNotFound(t *testing.T) {
	ctx := context.Background()
	client := newFakeAccessClient()
	resource := "projects/seoulthread-test/secrets/stripe-api-key/versions/latest"
	client.errs[resource] = status.Error(codes.NotFound, "missing")

	path := writeFallback(t, "secret://stripe-api-key=local-value\n")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("seoulthread-test"),
		WithFallbackFile(path),
	)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://stripe-api-key"); err == nil {
		t.Fatal("expected error for a missing secret")
	}
}

func TestNewFetcherWithoutCredentialsDegradesToFallback(t *testing.T) {
	ctx := context.Background()

	original := newSecretManagerClient
	newSecretManagerClient = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() { newSecretManagerClient = original })

	path := writeFallback(t, "# dev overrides\nsecret://stripe-api-key=local-value\n")

	fetcher, err := NewFetcher(ctx, WithFallbackFile(path))
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://stripe-api-key")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "local-value" {
		t.Fatalf("got %q", got)
	}
}

func TestParseRefRejectsBadInput(t *testing.T) {
	for _, ref := range []string{"", "   ", "vault://x", "secret://"} {
		if _, err := parseRef(ref); err == nil {
			t.Fatalf("%q: expected parse error", ref)
		}
	}
}
