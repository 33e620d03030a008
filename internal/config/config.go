// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, the budget
// year, engine defaults, messaging and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "perfmon-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// EngineDefaults seed the first settings version when none is stored.
type EngineDefaults struct {
	Threshold       float64 // DEFAULT_THRESHOLD, percent
	ConsecutiveDays int     // DEFAULT_CONSECUTIVE_DAYS
	CooldownDays    int     // DEFAULT_COOLDOWN_DAYS
	DueHours        int     // DEFAULT_DUE_HOURS
}

// KafkaConfig defines the trigger event publisher. No brokers disables it.
type KafkaConfig struct {
	Brokers      []string // KAFKA_BROKERS (comma separated)
	TriggerTopic string   // KAFKA_TRIGGER_TOPIC
}

// Assignment overlap scopes.
const (
	ScopeUnit     = "unit"
	ScopeUnitHead = "unit_head"
)

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// App
	DBPath            string        // SQLite path
	BudgetYear        int           // Jalali fiscal year, e.g. 1404
	BudgetScenario    string        // scenario recomputed by the worker
	MaxUploadBytes    int64         // import upload limit
	RecomputeInterval time.Duration // recompute queue poll interval, 0 disables the worker
	AssignmentScope   string        // unit|unit_head
	Engine            EngineDefaults

	// Messaging
	Kafka KafkaConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api")),

		// App
		DBPath:            getenv("DB_PATH", "perfmon.db"),
		BudgetYear:        getint("BUDGET_YEAR", 1404),
		BudgetScenario:    getenv("BUDGET_SCENARIO", "base"),
		MaxUploadBytes:    int64(getint("MAX_UPLOAD_BYTES", 10<<20)),
		RecomputeInterval: getdur("RECOMPUTE_INTERVAL", time.Minute),
		AssignmentScope:   strings.ToLower(getenv("SERVICE_ASSIGNMENT_SCOPE", ScopeUnit)),
		Engine: EngineDefaults{
			Threshold:       getfloat("DEFAULT_THRESHOLD", 10),
			ConsecutiveDays: getint("DEFAULT_CONSECUTIVE_DAYS", 2),
			CooldownDays:    getint("DEFAULT_COOLDOWN_DAYS", 5),
			DueHours:        getint("DEFAULT_DUE_HOURS", 24),
		},

		// Messaging
		Kafka: KafkaConfig{
			Brokers:      splitCSV(getenv("KAFKA_BROKERS", "")),
			TriggerTopic: getenv("KAFKA_TRIGGER_TOPIC", "perfmon.triggers"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "perfmon-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.BudgetYear < 1300 || cfg.BudgetYear > 1500 {
		return cfg, errors.New("BUDGET_YEAR must be a Jalali year between 1300 and 1500")
	}
	if strings.TrimSpace(cfg.BudgetScenario) == "" {
		return cfg, errors.New("BUDGET_SCENARIO must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
	}
	if cfg.RecomputeInterval < 0 {
		return cfg, errors.New("RECOMPUTE_INTERVAL must be >= 0")
	}
	switch cfg.AssignmentScope {
	case ScopeUnit, ScopeUnitHead:
	default:
		return cfg, errors.New("SERVICE_ASSIGNMENT_SCOPE must be one of: unit, unit_head")
	}
	if err := cfg.Engine.validate(); err != nil {
		return cfg, err
	}
	if len(cfg.Kafka.Brokers) > 0 && strings.TrimSpace(cfg.Kafka.TriggerTopic) == "" {
		return cfg, errors.New("KAFKA_TRIGGER_TOPIC must not be empty when KAFKA_BROKERS is set")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ScopedAssignments reports whether assignment overlap keys include the
// management and head.
func (c Config) ScopedAssignments() bool { return c.AssignmentScope == ScopeUnitHead }

func (e EngineDefaults) validate() error {
	if e.Threshold <= 0 {
		return errors.New("DEFAULT_THRESHOLD must be > 0")
	}
	if e.ConsecutiveDays < 1 {
		return errors.New("DEFAULT_CONSECUTIVE_DAYS must be >= 1")
	}
	if e.CooldownDays < 0 {
		return errors.New("DEFAULT_COOLDOWN_DAYS must be >= 0")
	}
	if e.DueHours < 1 {
		return errors.New("DEFAULT_DUE_HOURS must be >= 1")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
