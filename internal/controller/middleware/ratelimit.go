package middleware

import (
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client address.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	limiters sync.Map // client -> *cachedLimiter
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTTL sets how long an idle client's limiter is kept.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// WithBurst sets the burst size. The default is twice the rate, at least 1.
func WithBurst(burst int) Option {
	return func(rl *RateLimiter) { rl.burst = burst }
}

// NewRateLimiter allows rps requests per second per client. rps <= 0 means unlimited.
func NewRateLimiter(rps float64, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limit: rate.Limit(rps),
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.burst <= 0 {
		rl.burst = max(1, int(math.Ceil(rps*2)))
	}
	return rl
}

// Middleware returns the HTTP middleware.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl.limit <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.limiterFor(clientKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) limiterFor(client string) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(client); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters.Store(client, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
