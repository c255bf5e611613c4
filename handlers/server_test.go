package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storelens.app/cloud/internal/config"
	"storelens.app/cloud/internal/ratelimit"
	"storelens.app/cloud/license"
	"storelens.app/cloud/storage"
)

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(storage.NewMemoryStorage(), &recordingMailer{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected healthy, got %q", resp.Status)
	}
	if resp.Version == "" {
		t.Error("expected a version string")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	store, lic, _ := seedStore(t)
	mgr := license.NewManager(store, &recordingMailer{})
	limiter := ratelimit.New(3, time.Minute)
	server := NewServer(mgr, limiter, &config.Config{TestMode: true})

	var lastCode int
	for i := 0; i < 4; i++ {
		w := postJSON(t, server, "/license/validate", ValidateRequest{LicenseKey: lic.Key})
		lastCode = w.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after exceeding limit, got %d", lastCode)
	}

	allowed, rejected := limiter.Stats()
	if allowed != 3 || rejected != 1 {
		t.Errorf("expected 3 allowed / 1 rejected, got %d / %d", allowed, rejected)
	}
}

func TestRateLimitDoesNotGuardWebhook(t *testing.T) {
	store := storage.NewMemoryStorage()
	mgr := license.NewManager(store, &recordingMailer{})
	limiter := ratelimit.New(0, time.Minute) // reject everything it guards
	server := NewServer(mgr, limiter, &config.Config{TestMode: true})

	payload := webhookEvent(t, "ping", map[string]interface{}{})
	w := postWebhook(server, payload)

	if w.Code != http.StatusOK {
		t.Fatalf("webhook must not be rate limited, got %d", w.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	server := newTestServer(storage.NewMemoryStorage(), &recordingMailer{})

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	w := httptest.NewRecorder()
	server.Router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
