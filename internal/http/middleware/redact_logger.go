package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-access-bot/internal/redact"
)

// RedactOptions configures what RedactingLogger scrubs.
type RedactOptions struct {
	// MaskHeaders are masked in addition to Authorization, Cookie and
	// Set-Cookie. Matching is case-insensitive.
	MaskHeaders []string
	// MaskPathPrefixes hides everything after each prefix in unmatched
	// request paths, e.g. "/telegram/webhook/" so a mistyped secret never
	// reaches the logs. Matched routes are logged by template and need no
	// masking.
	MaskPathPrefixes []string
}

// RedactingLogger writes one structured access log line per request and
// attaches a request-scoped logger for handlers (see LoggerFrom). Query
// strings and header values pass through redact.Text; request and response
// bodies are never logged. Level follows the outcome: error for 5xx or
// collected Gin errors, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = redact.Text(strings.Join(vv, ", "))
		}

		l := log.With().
			Str("request_id", asString(c.Value(requestIDKey))).
			Str("method", c.Request.Method).
			Str("path", opts.path(c)).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.Info()
		switch {
		case len(c.Errors) > 0:
			ev = l.Error().Str("errors", c.Errors.String())
		case status >= 500:
			ev = l.Error()
		case status >= 400:
			ev = l.Warn()
		}
		ev.
			Str("query", truncate(redact.Text(c.Request.URL.RawQuery), maxQueryLogLength)).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Int64("bytes_in", c.Request.ContentLength).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

func (o RedactOptions) path(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	p := c.Request.URL.Path
	for _, prefix := range o.MaskPathPrefixes {
		if strings.HasPrefix(p, prefix) && len(p) > len(prefix) {
			return prefix + "[REDACTED]"
		}
	}
	return redact.Text(p)
}
