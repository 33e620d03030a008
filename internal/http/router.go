// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Uploads get their own body cap; everything else stays small
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/perfmon-backend/docs"
	"github.com/tbourn/perfmon-backend/internal/config"
	"github.com/tbourn/perfmon-backend/internal/events"
	"github.com/tbourn/perfmon-backend/internal/http/handlers"
	"github.com/tbourn/perfmon-backend/internal/http/middleware"
	"github.com/tbourn/perfmon-backend/internal/importer"
	"github.com/tbourn/perfmon-backend/internal/repo"
	"github.com/tbourn/perfmon-backend/internal/search"
	"github.com/tbourn/perfmon-backend/internal/services"
)

// defaultBodyLimit caps every request that is not a file upload.
const defaultBodyLimit = 1 << 20

// idempotencyShim adapts the repository free functions to the
// handlers.IdempotencyStore interface expected by the import handler.
type idempotencyShim struct {
	db  *gorm.DB
	ttl time.Duration
}

// Lookup proxies repo.GetIdempotency. An expired or missing record is a miss.
func (s idempotencyShim) Lookup(ctx context.Context, actor, scope, key string) (int, []byte, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, actor, scope, key, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return rec.Status, []byte(rec.Body), true, nil
}

// Save proxies repo.CreateIdempotency. A concurrent save of the same key
// keeps the first record.
func (s idempotencyShim) Save(ctx context.Context, actor, scope, key string, status int, body []byte) error {
	_, err := repo.CreateIdempotency(ctx, s.db, actor, scope, key, status, body, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// App holds the constructed services. Handlers gets the HTTP-facing set;
// Compute and Responses are kept concrete for the background worker and the
// startup index load.
type App struct {
	Handlers  handlers.Services
	Compute   *services.ComputeService
	Responses *services.ResponseService
}

// NewApp builds every application service over db.
func NewApp(db *gorm.DB, idx search.Index, pub events.Publisher, cfg config.Config) *App {
	if pub == nil {
		pub = events.Nop{}
	}
	scoped := cfg.AssignmentScope == config.ScopeUnitHead
	settings := services.NewSettingsService(db, cfg.Engine)
	compute := services.NewComputeService(db, settings, pub, cfg.BudgetYear, cfg.BudgetScenario)
	responses := services.NewResponseService(db, idx)
	return &App{
		Handlers: handlers.Services{
			Import:      services.NewImportService(importer.New(db, cfg.BudgetYear)),
			Triggers:    services.NewTriggerService(db),
			Responses:   responses,
			Compute:     compute,
			Settings:    settings,
			DQ:          services.NewDQService(db, cfg.BudgetYear, scoped),
			Dashboard:   services.NewDashboardService(db),
			Org:         services.NewOrgService(db, scoped),
			Idempotency: idempotencyShim{db: db, ttl: cfg.IdempotencyTTL},
		},
		Compute:   compute,
		Responses: responses,
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter (uploads get MaxUploadBytes)
//  6. Compression (workbooks excluded)
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, svc handlers.Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		SkipPaths:   []string{"/health", "/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Body size limits
	r.Use(limitBody(defaultBodyLimit, cfg.MaxUploadBytes))

	// 6) gzip for JSON and CSV; XLSX is already a zip container
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedExtensions([]string{".xlsx"}),
		gzip.WithExcludedPaths([]string{"/metrics"}),
	))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics(middleware.MetricsOptions{SkipPaths: []string{"/metrics", "/health"}}))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, actor, scope, key string, _ time.Time) (bool, error) {
			if svc.Idempotency == nil {
				return false, nil
			}
			_, _, found, err := svc.Idempotency.Lookup(ctx, actor, scope, key)
			if err != nil {
				return false, nil
			}
			return found, nil
		},
	))

	// 9) Token-bucket rate limiter per user/IP; uploads and engine runs cost more
	apiBase := cfg.APIBasePath
	if apiBase == "/" {
		apiBase = ""
	}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP()).
		Cost(apiBase+"/import/:domain", 5).
		Cost(apiBase+"/compute/budget-daily", 3).
		Cost(apiBase+"/compute/deviations", 3).
		Cost(apiBase+"/recompute", 3).
		Exempt("/health", "/metrics")
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Content-Disposition", "Location", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStore:       false,
		EnablePolicy:  true,
		ExposeHeaders: []string{"ETag", "Content-Disposition"},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Imports
		api.POST("/import/:domain", h.Import)
		api.GET("/import/:domain/template", h.Template)

		// Budget snapshots
		api.GET("/budget/snapshots", h.ListSnapshots)
		api.GET("/budget/diff", h.DiffSnapshots)

		// Triggers and responses
		api.GET("/triggers", h.ListTriggers)
		api.GET("/triggers/impacted", h.ListImpacted)
		api.GET("/triggers/:id", h.GetTrigger)
		api.PUT("/triggers/:id/status", h.UpdateTriggerStatus)
		api.POST("/triggers/:id/responses", h.SubmitResponse)
		api.GET("/triggers/:id/responses", h.ListResponses)
		api.GET("/responses/search", h.SearchResponses)

		// Engine
		api.POST("/compute/budget-daily", h.BudgetDaily)
		api.POST("/compute/deviations", h.Deviations)
		api.POST("/recompute", h.Recompute)

		// Settings, quality and reports
		api.GET("/settings", h.GetSettings)
		api.POST("/settings", h.UpdateSettings)
		api.POST("/dq/run", h.RunDQ)
		api.GET("/dashboard", h.Dashboard)
		api.GET("/reports/weekly.xlsx", h.WeeklyReport)

		// Organization
		org := api.Group("/org")
		org.GET("/managements", h.ListManagements)
		org.POST("/managements", h.CreateManagement)
		org.GET("/managements/:id", h.GetManagement)
		org.PUT("/managements/:id", h.UpdateManagement)
		org.DELETE("/managements/:id", h.DeleteManagement)

		org.GET("/units", h.ListUnits)
		org.POST("/units", h.CreateUnit)
		org.GET("/units/:id", h.GetUnit)
		org.PUT("/units/:id", h.UpdateUnit)
		org.DELETE("/units/:id", h.DeleteUnit)

		org.GET("/heads", h.ListHeads)
		org.POST("/heads", h.CreateHead)
		org.GET("/heads/:id", h.GetHead)
		org.PUT("/heads/:id", h.UpdateHead)
		org.DELETE("/heads/:id", h.DeleteHead)

		org.GET("/tenure", h.ListTenures)
		org.POST("/tenure", h.CreateTenure)
		org.GET("/tenure/:id", h.GetTenure)
		org.PUT("/tenure/:id", h.UpdateTenure)
		org.DELETE("/tenure/:id", h.DeleteTenure)

		org.GET("/service-assignment", h.ListAssignments)
		org.POST("/service-assignment", h.CreateAssignment)
		org.GET("/service-assignment/:id", h.GetAssignment)
		org.PUT("/service-assignment/:id", h.UpdateAssignment)
		org.DELETE("/service-assignment/:id", h.DeleteAssignment)
	}
}

// limitBody returns a Gin middleware that caps the request body size using
// http.MaxBytesReader. Multipart uploads are capped at uploadMax, everything
// else at maxBytes. Requests exceeding the cap cause downstream body reads to
// error.
func limitBody(maxBytes, uploadMax int64) gin.HandlerFunc {
	if uploadMax <= 0 {
		uploadMax = maxBytes
	}
	return func(c *gin.Context) {
		limit := maxBytes
		if strings.HasPrefix(strings.ToLower(c.GetHeader("Content-Type")), "multipart/form-data") {
			limit = uploadMax
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
