package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"

	"bundle-cache-go/logcolors"
	"bundle-cache-go/stats"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP
type IPRateLimiter struct {
	ips   map[string]*rate.Limiter
	mu    sync.Mutex
	rate  rate.Limit
	burst int
}

func NewIPRateLimiter(r rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		ips:   make(map[string]*rate.Limiter),
		rate:  r,
		burst: burst,
	}
}

// GetLimit returns the burst size
func (i *IPRateLimiter) GetLimit() int {
	return i.burst
}

// GetLimiter returns the limiter for ip, creating it on first use
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, exists := i.ips[ip]
	if !exists {
		limiter = rate.NewLimiter(i.rate, i.burst)
		i.ips[ip] = limiter
	}
	return limiter
}

// Tokens returns the whole tokens left for ip
func (i *IPRateLimiter) Tokens(ip string) int {
	return int(math.Floor(i.GetLimiter(ip).Tokens()))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimitMiddleware rejects requests over the per-IP limit with 429.
// Requests carrying the configured API key bypass the limiter.
func RateLimitMiddleware(limiter *IPRateLimiter, apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" && r.Header.Get("X-API-Key") == apiKey {
				w.Header().Set("X-RateLimit-Bypass", "true")
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.GetLimit()))

			if !limiter.GetLimiter(ip).Allow() {
				stats.Get().RecordRateLimit(false)
				log.Warnf("%s IP %s exceeded rate limit", logcolors.LogRateLimit, ip)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", "1")
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			stats.Get().RecordRateLimit(true)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Tokens(ip)))
			next.ServeHTTP(w, r)
		})
	}
}
