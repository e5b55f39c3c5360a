package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seoulthread/api/internal/platform/auth"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger receives diagnostics for store failures inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type guard struct {
	store  Store
	header string
	ttl    time.Duration
	method map[string]struct{}
	now    func() time.Time
	logger Logger
}

// MiddlewareOption configures the idempotency middleware.
type MiddlewareOption func(*guard)

// WithHeader sets the request header carrying the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			g.header = trimmed
		}
	}
}

// WithTTL sets how long completed records stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods limits the guard to the given HTTP methods.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		if len(methods) == 0 {
			return
		}
		g.method = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				g.method[m] = struct{}{}
			}
		}
	}
}

// WithLogger sets the logger for persistence failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithClock overrides the time source for tests.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.now = clock
		}
	}
}

// Middleware wraps mutating handlers with idempotency-key semantics: a key is
// claimed per caller, the first response is stored, and retries with the same
// key and payload replay it instead of re-running the handler.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		method: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := g.method[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		writeGuardError(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		writeGuardError(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	caller := callerID(r.Context())
	fingerprint := fingerprintRequest(r, body, caller)
	scoped := key + "|" + caller
	now := g.now().UTC()

	outcome, record, err := g.store.Claim(r.Context(), scoped, fingerprint, now, g.ttl)
	if err != nil {
		if errors.Is(err, ErrFingerprintMismatch) {
			writeGuardError(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
			return
		}
		g.logf("idempotency: claim %s: %v", key, err)
		writeGuardError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
		return
	}

	switch outcome {
	case OutcomeReplay:
		replay(w, record)
		return
	case OutcomeInFlight:
		writeGuardError(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	buf := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(buf, r)

	stored := StoredResponse{
		Status:  buf.statusCode(),
		Headers: buf.header,
		Body:    buf.body.Bytes(),
	}
	if err := g.store.Complete(r.Context(), scoped, fingerprint, stored, g.now().UTC(), g.ttl); err != nil {
		g.logf("idempotency: persist response for %s: %v", key, err)
		if err := g.store.Forget(r.Context(), scoped, fingerprint); err != nil {
			g.logf("idempotency: release %s after persist failure: %v", key, err)
		}
		writeGuardError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}

	buf.flush(w)
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// bufferBody drains and restores the request body so it can be hashed and
// still read by the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintRequest binds a key to the exact request that first used it.
// Method, path, query, content type, caller, and body all participate.
func fingerprintRequest(r *http.Request, body []byte, caller string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Host,
		r.Header.Get("Content-Type"),
		caller,
	}
	if len(body) > 0 {
		parts = append(parts, hashHex(body))
	}
	return hashHex([]byte(strings.Join(parts, "\x1f")))
}

// callerID scopes keys per authenticated user so two customers reusing the
// same key string never collide.
func callerID(ctx context.Context) string {
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name := range header {
		header.Del(name)
	}
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	header.Set(replayHeaderName, "true")

	code := record.ResponseStatus
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func writeGuardError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

// bufferedResponse holds the handler's response until the record is safely
// persisted; nothing reaches the client if the store write fails.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name := range dst {
		dst.Del(name)
	}
	for name, values := range b.header {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() > 0 {
		_, _ = w.Write(b.body.Bytes())
	}
}
