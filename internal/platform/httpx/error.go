// Package httpx holds the JSON error envelope shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/seoulthread/api/internal/platform/requestctx"
)

// Error is the canonical API error: a stable machine-readable code, a human
// message, and the HTTP status to respond with.
type Error struct {
	Code    string
	Message string
	Status  int
}

// NewError builds an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    collapse(code, 80),
		Message: collapse(message, 512),
		Status:  status,
	}
}

// WriteError renders the error envelope as JSON. The request and trace IDs
// are pulled from context so clients can quote them in support requests.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID := collapse(middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	if traceID := collapse(requestctx.TraceID(ctx), 64); traceID != "" {
		payload["trace_id"] = traceID
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// collapse folds newlines into spaces and truncates, keeping log-reflected
// values single-line.
func collapse(value string, limit int) string {
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
