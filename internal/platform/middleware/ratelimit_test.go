package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/carelink/internal/platform/auth"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func doRequest(e *echo.Echo, h echo.HandlerFunc, remote string, userID string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	if userID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), userID, nil))
	}
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})(okHandler)

	for i := 0; i < 5; i++ {
		rec, err := doRequest(e, handler, "", "")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})(okHandler)

	for i := 0; i < 2; i++ {
		if _, err := doRequest(e, handler, "", ""); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := doRequest(e, handler, "", "")
	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}

	retryVal, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil || retryVal < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if remaining := rec.Header().Get("X-RateLimit-Remaining"); remaining != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", remaining)
	}
}

func TestRateLimit_PerKeyIsolation(t *testing.T) {
	e := echo.New()
	handler := RateLimit(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})(okHandler)

	if _, err := doRequest(e, handler, "10.0.0.1:1234", ""); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if _, err := doRequest(e, handler, "10.0.0.1:1234", ""); err == nil {
		t.Fatal("expected first client to be limited")
	}
	if _, err := doRequest(e, handler, "10.0.0.2:1234", ""); err != nil {
		t.Fatalf("second client should have its own bucket: %v", err)
	}
	if _, err := doRequest(e, handler, "10.0.0.1:1234", "u1"); err != nil {
		t.Fatalf("authenticated user should have its own bucket: %v", err)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}

func TestLimiterStore_EvictsIdleKeys(t *testing.T) {
	store := newLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	now := time.Now()

	store.get("a", now)
	store.get("b", now)
	if store.size() != 2 {
		t.Fatalf("expected 2 keys, got %d", store.size())
	}

	store.get("c", now.Add(2*time.Minute))
	if store.size() != 1 {
		t.Fatalf("expected idle keys to be evicted, got %d", store.size())
	}
}
