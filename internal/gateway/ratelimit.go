package gateway

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/basket/wolfpack/internal/config"
	otelPkg "github.com/basket/wolfpack/internal/otel"
)

// bucket is one caller's allowance. Tokens refill continuously at the
// limiter's rate up to the burst size.
type bucket struct {
	tokens float64
	seen   time.Time
}

// RateLimiter enforces per-caller request budgets. Callers with a bearer
// token are keyed by token, anonymous callers by remote IP. One mutex guards
// all buckets; each request touches a single map entry.
type RateLimiter struct {
	enabled bool
	perSec  float64
	burst   float64
	metrics *otelPkg.Metrics
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter builds a limiter from config. metrics may be nil.
func NewRateLimiter(cfg config.RateLimitConfig, metrics *otelPkg.Metrics) *RateLimiter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 120
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		enabled: cfg.Enabled,
		perSec:  float64(rpm) / 60,
		burst:   float64(burst),
		metrics: metrics,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// SetClock replaces the time source.
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	rl.now = now
	rl.mu.Unlock()
}

// take spends one token for key. When the bucket is empty it reports how
// long until the next token is available.
func (rl *RateLimiter) take(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.burst, seen: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.seen).Seconds()*rl.perSec)
	b.seen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / rl.perSec * float64(time.Second))
	return false, wait
}

// Prune drops buckets idle for longer than idle and returns how many went.
func (rl *RateLimiter) Prune(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	n := 0
	for key, b := range rl.buckets {
		if !b.seen.After(cutoff) {
			delete(rl.buckets, key)
			n++
		}
	}
	return n
}

// StartEviction prunes idle buckets every interval until ctx is done.
func (rl *RateLimiter) StartEviction(ctx context.Context, interval, idle time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := rl.Prune(idle); n > 0 {
					slog.Debug("rate limiter pruned idle callers", "pruned", n, "remaining", rl.BucketCount())
				}
			}
		}
	}()
}

// BucketCount returns the number of tracked callers.
func (rl *RateLimiter) BucketCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Wrap applies the limiter to next. Health and metrics probes and CORS
// preflights pass through.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	if !rl.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		key := ExtractToken(r, true)
		if key == "" {
			key = clientIP(r)
		}

		ok, wait := rl.take(key)
		if !ok {
			rl.metrics.RecordRateLimitReject(r.Context())
			secs := max(1, int(math.Ceil(wait.Seconds())))
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
