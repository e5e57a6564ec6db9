package middleware

import (
	"net/http"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/time/rate"

	"github.com/cloo-solutions/supportdesk/internal/api"
)

// RateLimiter hands out a token bucket per client IP. The table is bounded;
// the least recently seen client is evicted first.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache
	rps      rate.Limit
	burst    int
}

func NewRateLimiter(rps float64, burst, maxClients int) (*RateLimiter, error) {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if burst <= 0 {
		burst = 1
	}
	cache, err := lru.New(maxClients)
	if err != nil {
		return nil, err
	}
	return &RateLimiter{limiters: cache, rps: rate.Limit(rps), burst: burst}, nil
}

func (l *RateLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(key); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.limiters.Add(key, lim)
	return lim
}

// Allow reports whether the client may make a request now.
func (l *RateLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

// Middleware rejects requests over the limit with 429. A nil limiter or a
// non-positive rate disables limiting.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l == nil || l.rps <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(l.rps)))
			api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(rps rate.Limit) int {
	if rps >= 1 {
		return 1
	}
	return int(1/float64(rps)) + 1
}
