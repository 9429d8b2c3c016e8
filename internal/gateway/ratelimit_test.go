package gateway_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basket/wolfpack/internal/config"
	"github.com/basket/wolfpack/internal/gateway"
)

func limitedHandler(rl *gateway.RateLimiter) http.Handler {
	return rl.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

// hit sends one request authenticated with token ("" sends none).
func hit(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimit_OverLimit(t *testing.T) {
	rl := gateway.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         3,
	}, nil)
	handler := limitedHandler(rl)

	for i := 0; i < 3; i++ {
		if rec := hit(handler, "/api/tasks", "tok"); rec.Code != http.StatusOK {
			t.Fatalf("burst request %d: expected 200, got %d", i, rec.Code)
		}
	}
	rec := hit(handler, "/api/tasks", "tok")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if retryAfter := rec.Header().Get("Retry-After"); retryAfter != "1" {
		t.Fatalf("expected Retry-After: 1, got %q", retryAfter)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
}

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time          { return c.t }
func (c *stepClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRateLimit_RefillOverTime(t *testing.T) {
	// 30 requests per minute = one every two seconds.
	rl := gateway.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 30,
		BurstSize:         1,
	}, nil)
	clock := &stepClock{t: time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)}
	rl.SetClock(clock.now)
	handler := limitedHandler(rl)

	if rec := hit(handler, "/api/tasks", "refill"); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	rec := hit(handler, "/api/tasks", "refill")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 immediately after, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q, want 2", got)
	}

	clock.advance(time.Second)
	if rec := hit(handler, "/api/tasks", "refill"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("half a token is not enough, got %d", rec.Code)
	}
	clock.advance(2 * time.Second)
	if rec := hit(handler, "/api/tasks", "refill"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after refill, got %d", rec.Code)
	}
}

func TestRateLimit_PerTokenIsolation(t *testing.T) {
	rl := gateway.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         2,
	}, nil)
	handler := limitedHandler(rl)

	for i := 0; i < 2; i++ {
		hit(handler, "/api/tasks", "token-a")
	}
	if rec := hit(handler, "/api/tasks", "token-a"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("token-a: expected 429, got %d", rec.Code)
	}
	if rec := hit(handler, "/api/tasks", "token-b"); rec.Code != http.StatusOK {
		t.Fatalf("token-b: expected 200, got %d", rec.Code)
	}
	// Anonymous callers fall back to the remote IP bucket.
	if rec := hit(handler, "/api/cards", ""); rec.Code != http.StatusOK {
		t.Fatalf("anonymous: expected 200, got %d", rec.Code)
	}
	if got := rl.BucketCount(); got != 3 {
		t.Fatalf("buckets = %d, want 3", got)
	}
}

func TestRateLimit_StreamTokenQueryParam(t *testing.T) {
	rl := gateway.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         1,
	}, nil)
	handler := limitedHandler(rl)

	hit(handler, "/api/events/stream?token=tok", "")
	if rec := hit(handler, "/api/tasks", "tok"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("query token and header token should share a bucket, got %d", rec.Code)
	}
}

func TestRateLimit_SkipsProbesAndPreflight(t *testing.T) {
	rl := gateway.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         1,
	}, nil)
	handler := limitedHandler(rl)

	hit(handler, "/api/cards", "")
	if rec := hit(handler, "/api/cards", ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 for /api/cards, got %d", rec.Code)
	}
	for _, path := range []string{"/healthz", "/metrics"} {
		if rec := hit(handler, path, ""); rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %s, got %d", path, rec.Code)
		}
	}
	req := httptest.NewRequest(http.MethodOptions, "/api/cards", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected preflight to bypass the limiter, got %d", rec.Code)
	}
}

func TestRateLimit_PruneIdle(t *testing.T) {
	rl := gateway.NewRateLimiter(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		BurstSize:         10,
	}, nil)
	clock := &stepClock{t: time.Date(2026, 10, 10, 12, 0, 0, 0, time.UTC)}
	rl.SetClock(clock.now)
	handler := limitedHandler(rl)

	for _, tok := range []string{"t-1", "t-2", "t-3"} {
		hit(handler, "/api/tasks", tok)
	}
	clock.advance(time.Hour)
	hit(handler, "/api/tasks", "t-fresh")

	if n := rl.Prune(30 * time.Minute); n != 3 {
		t.Fatalf("pruned %d, want 3", n)
	}
	if got := rl.BucketCount(); got != 1 {
		t.Fatalf("buckets = %d, want 1", got)
	}
	if n := rl.Prune(0); n != 1 || rl.BucketCount() != 0 {
		t.Fatalf("full prune left %d buckets (pruned %d)", rl.BucketCount(), n)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	rl := gateway.NewRateLimiter(config.RateLimitConfig{Enabled: false}, nil)
	handler := limitedHandler(rl)

	for i := 0; i < 50; i++ {
		if rec := hit(handler, "/api/tasks", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}
