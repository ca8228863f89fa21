package middleware

import (
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"github.com/sakif/code-runner/internal/metrics"
)

// RateLimiter is a per-client token bucket. Clients are keyed by remote IP
// (chi's RealIP has already applied X-Forwarded-For).
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	clients *xsync.MapOf[string, *client]
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen atomicTime
}

// NewRateLimiter allows rps requests per second per client with the given
// burst. A burst below 1 is raised to 1.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		clients: xsync.NewMapOf[string, *client](),
		now:     time.Now,
	}
}

// Allow reports whether the client may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	c, _ := rl.clients.LoadOrCompute(key, func() *client {
		return &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	})
	now := rl.now()
	c.lastSeen.Store(now)
	if !c.limiter.AllowN(now, 1) {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

// Forget drops clients idle for longer than idle and returns how many.
func (rl *RateLimiter) Forget(idle time.Duration) int {
	cutoff := rl.now().Add(-idle)
	dropped := 0
	rl.clients.Range(func(key string, c *client) bool {
		if c.lastSeen.Load().Before(cutoff) {
			rl.clients.Delete(key)
			dropped++
		}
		return true
	})
	return dropped
}

// Clients is the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	return rl.clients.Size()
}

// Middleware answers 429 once a client's bucket is empty.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// atomicTime is a time.Time safe for concurrent Load and Store.
type atomicTime struct {
	nanos atomic.Int64
}

func (a *atomicTime) Store(t time.Time) { a.nanos.Store(t.UnixNano()) }

func (a *atomicTime) Load() time.Time { return time.Unix(0, a.nanos.Load()) }
