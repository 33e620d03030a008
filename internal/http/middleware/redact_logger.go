// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access logger of the API. Head
// records carry mobile numbers and national codes and uploads are often named
// after people, so query strings and header values are scrubbed before they
// reach the log. Bodies are never logged.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger.
type RedactOptions struct {
	// MaskHeaders are replaced with "[REDACTED]" in addition to
	// Authorization, Cookie and Set-Cookie. Case-insensitive.
	MaskHeaders []string
	// SkipPaths are served without an access log line. The scoped logger is
	// still attached.
	SkipPaths []string
}

var (
	uuidRE     = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}\b`)
	emailRE    = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	mobileRE   = regexp.MustCompile(`(?:(?:\+98|\b0098|\b0)9\d{9}|\b9\d{9})\b`)
	nationalRE = regexp.MustCompile(`\b\d{10}\b`)
	phoneRE    = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

// foldDigits maps Persian and Arabic-Indic digits to ASCII so the patterns
// below also catch numbers typed on a Persian keyboard.
func foldDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		}
		return r
	}, s)
}

// Scrub replaces identifiers, emails, mobile numbers, national codes and
// other phone-like numbers in s. Order matters: UUID segments would
// otherwise match the looser number patterns.
func Scrub(s string) string {
	if s == "" {
		return s
	}
	out := foldDigits(s)
	out = uuidRE.ReplaceAllString(out, "[REDACTED:id]")
	out = emailRE.ReplaceAllString(out, "[REDACTED:email]")
	out = mobileRE.ReplaceAllString(out, "[REDACTED:mobile]")
	out = nationalRE.ReplaceAllString(out, "[REDACTED:national_id]")
	out = phoneRE.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// RedactingLogger logs one line per request with method, route, scrubbed
// query and headers, status, size and latency. 4xx lines are warnings and 5xx
// lines errors. It also attaches a logger carrying request_id, actor and
// route that handlers fetch with LoggerFrom.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{"authorization": {}, "cookie": {}, "set-cookie": {}}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}
	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		rid, _ := c.Get(requestIDKey)
		scoped := log.With().
			Str("request_id", asString(rid)).
			Str("actor", ActorFrom(c)).
			Str("route", route).
			Logger()
		c.Set(loggerKey, &scoped)

		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = Scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()
		reqID := c.Writer.Header().Get(requestIDHeader)
		if reqID == "" {
			reqID = c.GetHeader(requestIDHeader)
		}

		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		if d := c.Param("domain"); d != "" {
			ev = ev.Str("import_domain", d)
		}
		if c.Writer.Header().Get("Idempotency-Replayed") != "" {
			ev = ev.Bool("replayed", true)
		}
		ev.Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", route).
			Str("actor", ActorFrom(c)).
			Str("query", truncate(Scrub(c.Request.URL.RawQuery), maxQueryLogLength)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}
