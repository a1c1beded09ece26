// Package httpapi wires the ops HTTP surface (Gin) of the access bot: health
// and readiness probes, Prometheus metrics, API docs and, in webhook mode,
// the chat transport endpoint.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and secret scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. gzip (webhook excluded)
//  8. CORS and security headers
package httpapi

import (
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

	_ "github.com/tbourn/go-access-bot/docs"
	"github.com/tbourn/go-access-bot/internal/config"
	"github.com/tbourn/go-access-bot/internal/http/handlers"
	"github.com/tbourn/go-access-bot/internal/http/middleware"
)

// WebhookPath is the route prefix of the chat transport webhook. The secret
// is the final path segment.
const WebhookPath = "/telegram/webhook/"

// Deps are the application components behind the ops routes.
type Deps struct {
	Ready handlers.ReadinessChecker
	// Updates receives webhook deliveries; nil in polling mode.
	Updates handlers.UpdateSink
}

// WebhookURL joins the public base URL and the secret into the address
// registered with the chat platform.
func WebhookURL(base, secret string) string {
	return strings.TrimRight(base, "/") + WebhookPath + secret
}

// RegisterRoutes attaches middleware and endpoints to r.
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:      []string{"X-Telegram-Bot-Api-Secret-Token"},
		MaskPathPrefixes: []string{WebhookPath},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))
	r.Use(middleware.Metrics())
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{WebhookPath})))
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
		NoStore:    true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	var secret string
	if deps.Updates != nil {
		secret = cfg.Bot.WebhookSecret
	}
	h := handlers.New(deps.Ready, deps.Updates, secret)

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if deps.Updates != nil {
		r.POST(WebhookPath+":secret", h.Webhook)
	}
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

// NewServer wraps handler in an http.Server with the configured timeouts.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// corsMiddleware allows every origin when none are configured; otherwise it
// echoes allow-listed origins only.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	base := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders:    []string{middleware.RequestIDHeader, "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		base.AllowAllOrigins = true
		// ACAO: * even without an Origin header, for probes and curl.
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(base),
		}
	}
	base.AllowOrigins = origins
	return []gin.HandlerFunc{cors.New(base)}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
