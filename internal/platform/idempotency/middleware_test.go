package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testClock = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newGuarded(store Store, next http.Handler) http.Handler {
	mw := Middleware(store, WithClock(func() time.Time { return testClock }))
	return mw(next)
}

func postOrder(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func decodeGuardError(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRequiresKeyHeader(t *testing.T) {
	called := false
	handler := newGuarded(NewMemoryStore(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder(`{"a":1}`, ""))

	if called {
		t.Fatal("handler ran without an idempotency key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeGuardError(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestMiddlewareSkipsUnguardedMethods(t *testing.T) {
	called := false
	handler := newGuarded(NewMemoryStore(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	// GET has no key header and must pass straight through.
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !called || rr.Code != http.StatusOK {
		t.Fatalf("GET should bypass the guard: called=%v code=%d", called, rr.Code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := newGuarded(NewMemoryStore(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"ord_1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder(`{"item":"knit"}`, "key-1"))
	if calls != 1 || first.Code != http.StatusCreated {
		t.Fatalf("first request: calls=%d code=%d", calls, first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder(`{"item":"knit"}`, "key-1"))

	if calls != 1 {
		t.Fatalf("handler ran again on replay: %d calls", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status: %d", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatal("replay header missing")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("stored headers not replayed: %v", second.Header())
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q differs from original %q", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	handler := newGuarded(NewMemoryStore(), http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder(`{"item":"knit"}`, "shared"))
	if first.Code != http.StatusOK {
		t.Fatalf("first request: %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder(`{"item":"coat"}`, "shared"))

	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}
	if code := decodeGuardError(t, second.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestMiddlewareReportsInFlightClaim(t *testing.T) {
	store := NewMemoryStore()
	handler := newGuarded(store, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is claimed")
	}))

	req := postOrder(`{"item":"knit"}`, "busy")
	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("buffer body: %v", err)
	}
	caller := callerID(req.Context())
	fingerprint := fingerprintRequest(req, body, caller)
	if _, _, err := store.Claim(req.Context(), "busy|"+caller, fingerprint, testClock, time.Hour); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if code := decodeGuardError(t, rr.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("unexpected error code: %s", code)
	}
}

func TestMiddlewareReleasesClaimWhenPersistFails(t *testing.T) {
	store := &flakyStore{failComplete: true}
	handler := newGuarded(store, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder(`{"item":"knit"}`, "flaky"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if code := decodeGuardError(t, rr.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("unexpected error code: %s", code)
	}
	if !store.forgotten {
		t.Fatal("claim was not released after persist failure")
	}
}

func TestMemoryStoreExpiredClaimIsReusable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.Claim(ctx, "k", "fp", testClock, time.Minute); err != nil {
		t.Fatalf("claim: %v", err)
	}

	later := testClock.Add(2 * time.Minute)
	outcome, _, err := store.Claim(ctx, "k", "fp-new", later, time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if outcome != OutcomeNew {
		t.Fatalf("expected expired key to be claimable, got %v", outcome)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		if _, _, err := store.Claim(ctx, key, "fp", testClock, time.Minute); err != nil {
			t.Fatalf("claim %s: %v", key, err)
		}
	}

	removed, err := store.CleanupExpired(ctx, testClock.Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed, got %d", removed)
	}
}

type flakyStore struct {
	failComplete bool
	forgotten    bool
}

func (s *flakyStore) Claim(context.Context, string, string, time.Time, time.Duration) (Outcome, Record, error) {
	return OutcomeNew, Record{}, nil
}

func (s *flakyStore) Complete(context.Context, string, string, StoredResponse, time.Time, time.Duration) error {
	if s.failComplete {
		return errors.New("write failed")
	}
	return nil
}

func (s *flakyStore) Forget(context.Context, string, string) error {
	s.forgotten = true
	return nil
}

func (s *flakyStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
