// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the process-local token-bucket limiter. Buckets are
// keyed per identity, routes can cost more than one token (an import commit
// or an engine run is heavier than a list read), probes are exempt and
// idempotent replays bypass the limiter. It is not an authorization layer.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var rateLimited = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "http_rate_limited_total",
		Help:      "Requests rejected with 429 per route.",
	},
	[]string{"path"},
)

func init() { prometheus.MustRegister(rateLimited) }

// keyFunc maps a request to its bucket identity.
type keyFunc func(*gin.Context) string

// KeyByUserOrIP keys by the authenticated "userID" context value and falls
// back to the client IP. X-User-ID is not used since any client can set it.
// Keys are prefixed ("user:", "ip:") so the namespaces never collide.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if s, ok := c.Value("userID").(string); ok && s != "" {
			return "user:" + s
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// gcEvery is the number of bucket lookups between idle-bucket sweeps.
const gcEvery = 5000

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	rps   rate.Limit
	burst int
	keyFn keyFunc

	mu       sync.Mutex
	visitors map[string]*visitor
	ttl      time.Duration
	lookups  uint64

	costs  map[string]int
	exempt map[string]struct{}
}

// NewRateLimiter builds a limiter refilling rps tokens per second up to
// burst. A burst <= 0 is treated as 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return &RateLimiter{
		rps:      rate.Limit(rps),
		burst:    max(burst, 1),
		keyFn:    keyFn,
		visitors: make(map[string]*visitor),
		ttl:      10 * time.Minute,
		costs:    make(map[string]int),
		exempt:   make(map[string]struct{}),
	}
}

// Cost makes requests to the route template path spend n tokens, capped at
// the burst so the route stays reachable. Call before serving traffic.
func (rl *RateLimiter) Cost(path string, n int) *RateLimiter {
	rl.costs[path] = max(n, 1)
	return rl
}

// Exempt excludes request paths from limiting. Call before serving traffic.
func (rl *RateLimiter) Exempt(paths ...string) *RateLimiter {
	for _, p := range paths {
		rl.exempt[p] = struct{}{}
	}
	return rl
}

func (rl *RateLimiter) cost(path string) int {
	if n, ok := rl.costs[path]; ok {
		return min(n, rl.burst)
	}
	return 1
}

// getVisitor returns the bucket of key, creating it if needed. Every gcEvery
// lookups idle buckets are swept first, so a stale bucket is replaced rather
// than refreshed.
func (rl *RateLimiter) getVisitor(key string) *rate.Limiter {
	now := time.Now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.lookups++
	if rl.lookups >= gcEvery {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.lookups = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// IsRateBypass reports whether IdempotencyValidator flagged the request as a
// replay, which is served without spending tokens.
func IsRateBypass(c *gin.Context) bool {
	b, _ := c.Value(ctxKeyRateBypass).(bool)
	return b
}

// retryAfter is the whole number of seconds until n tokens are available,
// at least 1.
func retryAfter(lim *rate.Limiter, n int, now time.Time) string {
	r := lim.ReserveN(now, n)
	if !r.OK() {
		return "1"
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
}

// Handler enforces the limits. A rejected request gets 429 with the API error
// envelope and a Retry-After derived from the bucket's refill rate.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}
		if _, ok := rl.exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		route := c.FullPath()
		n := rl.cost(route)
		lim := rl.getVisitor(rl.keyFn(c))
		now := time.Now()
		if lim.AllowN(now, n) {
			c.Next()
			return
		}

		if route == "" {
			route = "unmatched"
		}
		rateLimited.WithLabelValues(route).Inc()
		c.Header("Retry-After", retryAfter(lim, n, now))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       "rate_limited",
			"message":    "rate limit exceeded",
		})
	}
}
