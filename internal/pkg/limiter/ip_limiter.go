/*
Package limiter provides per-IP admission control for the WebSocket handshake.

It uses the token bucket algorithm (rate.Limiter) to bound how often a single
address may open connections, and periodically removes idle buckets so the
map does not grow without bound.
*/
package limiter

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"worldsync/internal/pkg/errs"
	"worldsync/internal/pkg/logx"
	"worldsync/internal/pkg/resp"
)

// cleanupInterval is how often idle buckets are reclaimed.
const cleanupInterval = 3 * time.Minute

// IPRateLimiter implements a handshake rate limiter keyed by client IP.
type IPRateLimiter struct {
	// mu protects concurrent access to the limits map.
	mu sync.RWMutex

	// limits maps a client IP address to its *rate.Limiter instance.
	limits map[string]*rate.Limiter

	// r is the sustained rate, in events per second.
	r rate.Limit

	// b is the burst size of each token bucket.
	b int
}

// NewIPRateLimiter creates an IPRateLimiter with rate r and burst b, and
// starts a background goroutine that reclaims idle buckets.
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	i := &IPRateLimiter{
		limits: make(map[string]*rate.Limiter),
		r:      r,
		b:      b,
	}

	go i.cleanUpVisitors()

	return i
}

// GetLimiter returns the rate limiter for the given IP, creating one on first
// use. Creation is double-checked so concurrent callers share one bucket.
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.RLock()
	limiter, exists := i.limits[ip]
	i.mu.RUnlock()

	if !exists {
		i.mu.Lock()
		limiter, exists = i.limits[ip]
		if !exists {
			limiter = rate.NewLimiter(i.r, i.b)
			i.limits[ip] = limiter
		}
		i.mu.Unlock()
	}

	return limiter
}

// cleanUpVisitors removes buckets that have refilled completely, meaning the
// address has been quiet long enough that keeping state for it buys nothing.
func (i *IPRateLimiter) cleanUpVisitors() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		i.mu.Lock()
		count := 0
		for ip, limiter := range i.limits {
			if limiter.TokensAt(time.Now()) >= float64(limiter.Burst()) {
				delete(i.limits, ip)
				count++
			}
		}
		remaining := len(i.limits)
		i.mu.Unlock()

		logx.Debug("Rate limiter cleanup finished.", "removed", count, "remaining", remaining)
	}
}

// ClientIP extracts the host part of an HTTP request's remote address.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if ip == "" {
		ip = "unknown_ip"
	}

	return ip
}

// Middleware returns an HTTP middleware that rejects over-limit requests with
// 429 Too Many Requests.
func (i *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		if !i.GetLimiter(ip).Allow() {
			rateLimitErr := errs.NewError(errs.ErrRateLimitExceeded)
			resp.RespondError(w, r, rateLimitErr)
			return
		}

		next.ServeHTTP(w, r)
	})
}
