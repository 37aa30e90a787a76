package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/scopeguard/pkg/auth"
	"github.com/platinummonkey/scopeguard/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestLimiter(config RateLimitConfig) (*RateLimiter, *fakeClock) {
	clk := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(config)
	limiter.now = clk.Now
	return limiter, clk
}

func TestRateLimiter_Allow(t *testing.T) {
	config := RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2}
	limiter, clk := newTestLimiter(config)
	ctx := context.Background()

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _, _ := limiter.Allow(ctx, "user:1"); ok {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	if ok, _, _ := limiter.Allow(ctx, "user:2"); !ok {
		t.Error("Keys must not share a bucket")
	}

	clk.now = clk.now.Add(time.Second)
	if ok, _, _ := limiter.Allow(ctx, "user:1"); !ok {
		t.Error("Should allow request after refill")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter, _ := newTestLimiter(RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Second, BurstSize: 2})

	_, remaining, err := limiter.Allow(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remaining != 11 {
		t.Errorf("remaining = %d, want 11", remaining)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clk := newTestLimiter(RateLimitConfig{RequestsPerWindow: 10, WindowDuration: 100 * time.Millisecond})

	limiter.Allow(context.Background(), "a")
	limiter.Allow(context.Background(), "b")

	if removed := limiter.Cleanup(); removed != 0 {
		t.Errorf("fresh buckets removed: %d", removed)
	}

	clk.now = clk.now.Add(300 * time.Millisecond)
	if removed := limiter.Cleanup(); removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{})
	if limiter.Limit() != DefaultRateLimitConfig().RequestsPerWindow {
		t.Errorf("Limit() = %d", limiter.Limit())
	}
	if limiter.Window() != time.Minute {
		t.Errorf("Window() = %v", limiter.Window())
	}
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, remaining, err := limiter.Allow(ctx, "user:1")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
		if remaining != 2-i {
			t.Errorf("request %d: remaining = %d", i, remaining)
		}
	}

	if ok, _, _ := limiter.Allow(ctx, "user:1"); ok {
		t.Error("fourth request should be limited")
	}
	if ttl := mr.TTL("ratelimit:user:1"); ttl != time.Minute {
		t.Errorf("window ttl = %v, want 1m", ttl)
	}

	// Window expiry resets the budget
	mr.FastForward(time.Minute)
	if ok, _, _ := limiter.Allow(ctx, "user:1"); !ok {
		t.Error("new window should allow")
	}

	if err := limiter.Reset(ctx, "user:1"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("ratelimit:user:1") {
		t.Error("reset should delete the counter")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, int, error) {
	return false, 0, errors.New("redis down")
}
func (failingLimiter) Limit() int            { return 1 }
func (failingLimiter) Window() time.Duration { return time.Minute }

func TestRateLimitMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("limits per user", func(t *testing.T) {
		limiter, _ := newTestLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
		handler := RateLimit(limiter, nil, testLogger())(ok)

		send := func(sub string) *httptest.ResponseRecorder {
			req := httptest.NewRequest("GET", "/permissions/me", nil)
			req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{Subject: sub}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec
		}

		if rec := send("1"); rec.Code != http.StatusOK {
			t.Fatalf("first request: %d", rec.Code)
		}
		rec := send("1")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("second request: %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") != "60" {
			t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
		}
		if rec.Header().Get("X-RateLimit-Remaining") != "0" {
			t.Errorf("X-RateLimit-Remaining = %q", rec.Header().Get("X-RateLimit-Remaining"))
		}
		if rec := send("2"); rec.Code != http.StatusOK {
			t.Errorf("other user: %d", rec.Code)
		}
	})

	t.Run("anonymous callers keyed by address", func(t *testing.T) {
		limiter, _ := newTestLimiter(RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
		handler := RateLimit(limiter, nil, testLogger())(ok)

		for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
			req := httptest.NewRequest("GET", "/health", nil)
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != want {
				t.Errorf("request %d: got %d want %d", i, rec.Code, want)
			}
		}
	})

	t.Run("limiter failure fails open", func(t *testing.T) {
		handler := RateLimit(failingLimiter{}, nil, testLogger())(ok)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("got %d", rec.Code)
		}
	})
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:1234", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.1:5678", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
