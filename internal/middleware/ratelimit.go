package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// bucket is a continuously refilled token bucket. Fractional tokens keep
// refill smooth at low rates.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func (b *bucket) take(cost float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now

	if b.tokens < cost {
		return false
	}
	b.tokens -= cost
	return true
}

// RateLimiter keeps one bucket per caller. Requests are charged by route
// weight, not a flat count, so a batch re-evaluation cannot be fired as
// cheaply as a decision read.
type RateLimiter struct {
	mu         sync.RWMutex
	buckets    map[string]*bucket
	capacity   float64
	refillRate float64
}

func NewRateLimiter(capacity, refillRate int) *RateLimiter {
	rl := &RateLimiter{
		buckets:    make(map[string]*bucket),
		capacity:   float64(capacity),
		refillRate: float64(refillRate),
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) getBucket(key string) *bucket {
	rl.mu.RLock()
	b, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, exists := rl.buckets[key]; exists {
		return b
	}
	b = &bucket{
		tokens:     rl.capacity,
		capacity:   rl.capacity,
		refillRate: rl.refillRate,
		lastRefill: time.Now(),
	}
	rl.buckets[key] = b
	return b
}

// Allow charges cost tokens against the caller's bucket.
func (rl *RateLimiter) Allow(key string, cost int) bool {
	if cost < 1 {
		cost = 1
	}
	return rl.getBucket(key).take(float64(cost))
}

func (rl *RateLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, b := range rl.buckets {
			b.mu.Lock()
			// Drop buckets idle for 10 minutes
			if now.Sub(b.lastRefill) > 10*time.Minute {
				delete(rl.buckets, key)
			}
			b.mu.Unlock()
		}
		rl.mu.Unlock()
	}
}

// RequestCost weighs a route by the work it fans out to. Replaying the
// decision history is orders of magnitude heavier than reading one record,
// so it burns the budget accordingly.
func RequestCost(method, path string) int {
	switch {
	case method == http.MethodPost && strings.HasPrefix(path, "/v1/reevaluate"):
		return 10
	case method == http.MethodPost && path == "/v1/policies",
		method == http.MethodPut && strings.HasPrefix(path, "/v1/policies/"):
		return 5
	case method == http.MethodPost && path == "/v1/transactions/evaluate":
		return 5
	case method == http.MethodPost && path == "/v1/query":
		return 3
	default:
		return 1
	}
}

// RateLimitMiddleware creates a weighted rate limiting middleware.
// capacity: max tokens in a caller's bucket
// refillRate: tokens added per second
func RateLimitMiddleware(capacity, refillRate int) func(http.Handler) http.Handler {
	limiter := NewRateLimiter(capacity, refillRate)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Health and metrics stay open for probes and scrapers
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			// One bucket per authenticated client and source address
			client := GetClientFromContext(r.Context())
			key := client + ":" + r.RemoteAddr

			if !limiter.Allow(key, RequestCost(r.Method, r.URL.Path)) {
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded, please try again later", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
