package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
)

func TestKeyByUserOrIP_IgnoresHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/triggers", nil)
	c.Request.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c.Request.Header.Set(HeaderUserID, "spoofed")

	if got := KeyByUserOrIP()(c); got != "ip:203.0.113.9" {
		t.Fatalf("key = %q; want ip key", got)
	}
	c.Set("userID", "planner")
	if got := KeyByUserOrIP()(c); got != "user:planner" {
		t.Fatalf("key = %q; want user key", got)
	}
}

func TestGetVisitor_ReuseAndSweep(t *testing.T) {
	rl := NewRateLimiter(1, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d; want 1", rl.burst)
	}
	if a, b := rl.getVisitor("k"), rl.getVisitor("k"); a != b {
		t.Fatalf("bucket not reused")
	}

	rl.mu.Lock()
	rl.ttl = time.Minute
	rl.visitors["idle"] = &visitor{limiter: rate.NewLimiter(1, 1), lastSeen: time.Now().Add(-time.Hour)}
	rl.lookups = gcEvery - 1
	rl.mu.Unlock()

	rl.getVisitor("fresh")

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["idle"]; ok {
		t.Fatalf("idle bucket survived the sweep")
	}
	if _, ok := rl.visitors["k"]; !ok {
		t.Fatalf("recent bucket was swept")
	}
	if rl.lookups != 0 {
		t.Fatalf("lookups not reset: %d", rl.lookups)
	}
}

func TestIsRateBypass(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if IsRateBypass(c) {
		t.Fatalf("bypass set by default")
	}
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool must read as false")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("bypass not read")
	}
}

func TestRetryAfter_FromRefillRate(t *testing.T) {
	now := time.Now()
	lim := rate.NewLimiter(0.25, 1)
	lim.AllowN(now, 1)
	if got := retryAfter(lim, 1, now); got != "4" {
		t.Fatalf("retryAfter = %q; want 4", got)
	}
	if !lim.AllowN(now.Add(4*time.Second), 1) {
		t.Fatalf("retryAfter must not consume tokens")
	}
	if got := retryAfter(rate.NewLimiter(1, 1), 5, now); got != "1" {
		t.Fatalf("impossible reservation = %q; want 1", got)
	}
}

func TestHandler_RejectsWithEnvelopeAndBypassesReplays(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(0.5, 1, KeyByUserOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header(requestIDHeader, "rid-1")
		if c.GetHeader("Idempotency-Key") != "" {
			c.Set(ctxKeyRateBypass, true)
		}
		c.Next()
	})
	r.Use(rl.Handler())
	r.GET("/dashboard", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	serve := func(replay bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
		if replay {
			req.Header.Set("Idempotency-Key", "k1")
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	before := testutil.ToFloat64(rateLimited.WithLabelValues("/dashboard"))
	if w := serve(false); w.Code != http.StatusOK {
		t.Fatalf("first = %d", w.Code)
	}
	w := serve(false)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second = %d; want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After = %q; want 2", got)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["code"] != "rate_limited" || body["request_id"] != "rid-1" {
		t.Fatalf("envelope = %v", body)
	}
	if got := testutil.ToFloat64(rateLimited.WithLabelValues("/dashboard")); got != before+1 {
		t.Fatalf("rate_limited counter = %v; want %v", got, before+1)
	}

	if w := serve(true); w.Code != http.StatusOK {
		t.Fatalf("replay = %d; want bypass", w.Code)
	}
}

func TestRateLimiter_CostAndExempt(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// burst 3: one import commit costs 2, a list read 1, so the next read fails.
	rl := NewRateLimiter(0.001, 3, KeyByUserOrIP()).
		Cost("/import/:domain", 2).
		Cost("/compute/deviations", 10).
		Exempt("/health")
	if rl.cost("/compute/deviations") != 3 {
		t.Fatalf("cost above burst must be capped, got %d", rl.cost("/compute/deviations"))
	}
	if rl.cost("/triggers") != 1 {
		t.Fatalf("default cost = %d", rl.cost("/triggers"))
	}

	r := gin.New()
	r.Use(rl.Handler())
	r.POST("/import/:domain", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/triggers", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w.Code
	}
	if code := do(http.MethodPost, "/import/services"); code != http.StatusOK {
		t.Fatalf("import = %d", code)
	}
	if code := do(http.MethodGet, "/triggers"); code != http.StatusOK {
		t.Fatalf("first read = %d", code)
	}
	if code := do(http.MethodGet, "/triggers"); code != http.StatusTooManyRequests {
		t.Fatalf("bucket should be empty, got %d", code)
	}
	for i := 0; i < 3; i++ {
		if code := do(http.MethodGet, "/health"); code != http.StatusOK {
			t.Fatalf("exempt path limited: %d", code)
		}
	}
}
