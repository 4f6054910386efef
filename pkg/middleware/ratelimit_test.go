package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/auth"
	"github.com/platinummonkey/gatekeeper/pkg/contextkeys"
)

func TestRateLimiterAllow(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         2,
	})

	for i := 0; i < 12; i++ {
		if !limiter.Allow("client") {
			t.Fatalf("request %d denied, want first 12 allowed", i+1)
		}
	}
	if limiter.Allow("client") {
		t.Error("request 13 allowed, want denied once tokens are exhausted")
	}

	// an unrelated key has its own bucket
	if !limiter.Allow("other-client") {
		t.Error("unrelated key denied")
	}
}

func TestRateLimiterRefill(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 60,
		WindowDuration:    time.Second,
		BurstSize:         0,
	})

	for limiter.Allow("client") {
	}
	time.Sleep(100 * time.Millisecond)
	if !limiter.Allow("client") {
		t.Error("no tokens refilled after waiting")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Millisecond,
		BurstSize:         0,
	})
	limiter.Allow("stale")
	time.Sleep(5 * time.Millisecond)
	limiter.Cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	if _, exists := limiter.buckets["stale"]; exists {
		t.Error("stale bucket survived cleanup")
	}
}

func TestRateLimitMiddlewareThrottlesAnonymous(t *testing.T) {
	m := NewRateLimitMiddleware()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	allowed := AnonymousRateLimitConfig().RequestsPerWindow + AnonymousRateLimitConfig().BurstSize
	var last *httptest.ResponseRecorder
	for i := 0; i < allowed+1; i++ {
		req := httptest.NewRequest("GET", "/api/v1/keys", nil)
		req.RemoteAddr = "203.0.113.9:4455"
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after budget exhausted", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	if got := last.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRateLimitMiddlewareKeysByPrincipal(t *testing.T) {
	m := NewRateLimitMiddleware()
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(principal string) int {
		req := httptest.NewRequest("GET", "/api/v1/keys", nil)
		req.RemoteAddr = "203.0.113.9:4455"
		identity := &auth.Identity{Principal: principal, Role: auth.RoleUser}
		req = req.WithContext(contextkeys.WithIdentity(req.Context(), identity))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	budget := PerPrincipalRateLimitConfig().RequestsPerWindow + PerPrincipalRateLimitConfig().BurstSize
	for i := 0; i < budget; i++ {
		if code := send("greedy@example.com"); code != http.StatusOK {
			t.Fatalf("request %d for first principal: status %d", i+1, code)
		}
	}
	if code := send("greedy@example.com"); code != http.StatusTooManyRequests {
		t.Fatalf("over-budget principal got %d, want 429", code)
	}

	// a different principal from the same IP is unaffected
	if code := send("patient@example.com"); code != http.StatusOK {
		t.Errorf("second principal got %d, want 200", code)
	}
}
