package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long completed records are kept before a key may be
// reused for a fresh request.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored record.
type Status string

const (
	// StatusPending marks a key that is claimed but whose response has not
	// been persisted yet.
	StatusPending Status = "pending"
	// StatusCompleted marks a key with a replayable stored response.
	StatusCompleted Status = "completed"
)

// Outcome is the result of claiming a key for a new request.
type Outcome int

const (
	// OutcomeNew means the key was unclaimed; the caller should run the
	// request and persist its response.
	OutcomeNew Outcome = iota
	// OutcomeReplay means a completed record exists and its response should
	// be written back verbatim.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key right now.
	OutcomeInFlight
)

// Record is the persisted state for one idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// StoredResponse carries the response to persist for later replays.
type StoredResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency claims and their responses.
type Store interface {
	// Claim reserves the key for the given request fingerprint.
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error)
	// Complete stores the response produced by the request that claimed the key.
	Complete(ctx context.Context, key, fingerprint string, resp StoredResponse, now time.Time, ttl time.Duration) error
	// Forget drops the claim so the client may retry after a failure.
	Forget(ctx context.Context, key, fingerprint string) error
	// CleanupExpired removes up to limit expired records.
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch signals that a key was reused for a request whose
// method, path, body, or caller differs from the original.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// docID derives the storage document ID. Hashing keeps client-chosen keys
// from injecting path separators or exceeding Firestore ID limits.
func docID(key string) string {
	return hashHex([]byte(strings.TrimSpace(key)))
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storableHeaders filters hop-by-hop and connection-derived headers that must
// not be replayed from storage.
func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	out := make(map[string][]string, len(header))
	for name, values := range header {
		if skipHeader(name) {
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func skipHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive",
		"proxy-authenticate", "proxy-authorization", "te", "trailers",
		"transfer-encoding", "upgrade":
		return true
	}
	return false
}
