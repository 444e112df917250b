package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if ok, _ := limiter.allow("10.0.0.1"); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, retry := limiter.allow("10.0.0.1"); ok {
		t.Fatal("fourth request should be blocked")
	} else if retry <= 0 {
		t.Fatalf("expected positive retry-after, got %v", retry)
	}

	// Other sources are unaffected
	if ok, _ := limiter.allow("10.0.0.2"); !ok {
		t.Fatal("different IP should be allowed")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	limiter := NewRateLimiter(1, 50*time.Millisecond)

	if ok, _ := limiter.allow("10.0.0.1"); !ok {
		t.Fatal("first request should be allowed")
	}
	if ok, _ := limiter.allow("10.0.0.1"); ok {
		t.Fatal("second request inside the window should be blocked")
	}

	time.Sleep(80 * time.Millisecond)

	if ok, _ := limiter.allow("10.0.0.1"); !ok {
		t.Fatal("request after window reset should be allowed")
	}
}

func TestRateLimiterEvictsExpiredWindows(t *testing.T) {
	span := 50 * time.Millisecond
	limiter := NewRateLimiter(10, span)

	for i := 0; i < 150; i++ {
		limiter.allow(fmt.Sprintf("192.168.1.%d", i))
	}
	if len(limiter.windows) == 0 {
		t.Fatal("expected populated windows map")
	}

	time.Sleep(span + 30*time.Millisecond)

	// Enough traffic to cross the lazy-cleanup threshold
	for i := 0; i < 120; i++ {
		limiter.allow("10.0.0.9")
	}

	if got := len(limiter.windows); got > 5 {
		t.Fatalf("expected expired windows to be evicted, still %d entries", got)
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	req.RemoteAddr = "10.0.0.1:1234"

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on 429")
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook", http.NoBody)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := ClientIP(req); got != "203.0.113.7" {
		t.Fatalf("got %q, want first forwarded hop", got)
	}
}
