package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestDistributedRateLimiterAllow(t *testing.T) {
	client := newTestRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{
		RequestsPerWindow: 3,
		WindowDuration:    time.Minute,
	}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "client")
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d denied, want first 3 allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if allowed {
		t.Error("request 4 allowed, want denied")
	}

	remaining, err := limiter.Remaining(ctx, "client")
	if err != nil {
		t.Fatalf("Remaining() error: %v", err)
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}

	if err := limiter.Reset(ctx, "client"); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	allowed, err = limiter.Allow(ctx, "client")
	if err != nil || !allowed {
		t.Errorf("after reset Allow() = (%v, %v), want allowed", allowed, err)
	}
}

func TestDistributedRateLimiterFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()
	limiter := NewDistributedRateLimiter(client, nil, "")

	allowed, err := limiter.Allow(context.Background(), "client")
	if err == nil {
		t.Fatal("expected an error from an unreachable backend")
	}
	if !allowed {
		t.Error("Allow() = false on backend error, want fail open")
	}
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	client := newTestRedis(t)
	m := NewDistributedRateLimitMiddleware(client)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	budget := AnonymousRateLimitConfig().RequestsPerWindow
	var last *httptest.ResponseRecorder
	for i := 0; i < budget+1; i++ {
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
}
