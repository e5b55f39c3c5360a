package handlers

import (
	"context"
	"net/http"
	"time"
)

// ReadinessCheck reports whether a downstream dependency is ready to serve.
type ReadinessCheck func(ctx context.Context) error

// HealthHandlers serves the liveness and readiness probes.
type HealthHandlers struct {
	startedAt time.Time
	checks    map[string]ReadinessCheck
}

// HealthOption customises health handler construction.
type HealthOption func(*HealthHandlers)

// WithReadinessCheck registers a named dependency check for /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		if name == "" || check == nil {
			return
		}
		h.checks[name] = check
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{
		startedAt: time.Now(),
		checks:    make(map[string]ReadinessCheck),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(h.startedAt).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz runs the registered dependency checks and reports readiness.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	payload := map[string]any{
		"status": "ok",
		"checks": results,
	}
	if status != http.StatusOK {
		payload["status"] = "unavailable"
	}
	writeJSONResponse(w, status, payload)
}
