package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthzAlwaysOK(t *testing.T) {
	h := NewHealthHandlers()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected status: %v", body["status"])
	}
}

func TestReadyzPassingChecks(t *testing.T) {
	h := NewHealthHandlers(
		WithReadinessCheck("firestore", func(ctx context.Context) error { return nil }),
		WithReadinessCheck("pubsub", func(ctx context.Context) error { return nil }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" || body.Checks["firestore"] != "ok" || body.Checks["pubsub"] != "ok" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyzFailingCheck(t *testing.T) {
	h := NewHealthHandlers(
		WithReadinessCheck("firestore", func(ctx context.Context) error { return nil }),
		WithReadinessCheck("pubsub", func(ctx context.Context) error { return errors.New("broker unreachable") }),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.Readyz(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "unavailable" || body.Checks["pubsub"] != "broker unreachable" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestReadyzIgnoresInvalidChecks(t *testing.T) {
	h := NewHealthHandlers(
		WithReadinessCheck("", func(ctx context.Context) error { return errors.New("unnamed") }),
		WithReadinessCheck("nilcheck", nil),
	)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.Readyz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
