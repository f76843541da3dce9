package serv

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	cache "github.com/go-pkgz/expirable-cache"
	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL = 10 * time.Minute
	limiterMaxIPs  = 10000
)

// ipLimiter keeps one token bucket per client ip. Buckets of idle clients
// expire from the cache.
type ipLimiter struct {
	mu       sync.Mutex
	rate     rate.Limit
	bucket   int
	ipHeader string
	buckets  cache.Cache
}

func newIPLimiter(rl RateLimiter) (*ipLimiter, error) {
	c, err := cache.NewCache(cache.MaxKeys(limiterMaxIPs), cache.TTL(limiterIdleTTL))
	if err != nil {
		return nil, err
	}
	return &ipLimiter{
		rate:     rate.Limit(rl.Rate),
		bucket:   rl.Bucket,
		ipHeader: rl.IPHeader,
		buckets:  c,
	}, nil
}

func (l *ipLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.buckets.Get(ip); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.rate, l.bucket)
	l.buckets.Set(ip, lim, limiterIdleTTL)
	return lim
}

// clientIP returns the client address, preferring the configured header
func (l *ipLimiter) clientIP(r *http.Request) string {
	if l.ipHeader != "" {
		if v := r.Header.Get(l.ipHeader); v != "" {
			ip, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(ip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// rateLimit rejects requests over the per-ip rate with 429
func (l *ipLimiter) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.limiter(l.clientIP(r)).Allow() {
			writeJSONError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}
