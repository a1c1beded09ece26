package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/go-access-bot/internal/config"
	"github.com/tbourn/go-access-bot/internal/http/handlers"
)

type probe struct{ err error }

func (p probe) Ready(context.Context) error { return p.err }

type sink struct{ got []tgbotapi.Update }

func (s *sink) Submit(up tgbotapi.Update) bool {
	s.got = append(s.got, up)
	return true
}

func testConfig() config.Config {
	return config.Config{
		Security: config.SecurityConfig{HSTSMaxAge: time.Hour},
		OTEL:     config.OTELConfig{ServiceName: "test-svc"},
		Bot:      config.BotConfig{WebhookSecret: "s3cr3t"},
	}
}

func serve(r http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, body))
	return w
}

func TestRegisterRoutes_Health_Metrics_Fallbacks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Deps{Ready: probe{}}, testConfig())

	w := serve(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("AllowAllOrigins expected '*', got %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" || w.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected request id and no-store headers, got %#v", w.Header())
	}

	w = serve(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("GET /metrics bad: code=%d", w.Code)
	}

	w = serve(r, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("GET /nope expected 404, got %d", w.Code)
	}
	var er handlers.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != handlers.ErrCodeNotFound {
		t.Fatalf("expected not_found envelope, got %q (%v)", w.Body.String(), err)
	}

	w = serve(r, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /health expected 405, got %d", w.Code)
	}

	// Polling mode: no webhook route.
	w = serve(r, http.MethodPost, "/telegram/webhook/s3cr3t", strings.NewReader(`{"update_id":1}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("webhook without sink expected 404, got %d", w.Code)
	}

	// Swagger is off unless enabled.
	w = serve(r, http.MethodGet, "/swagger/index.html", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("swagger should be disabled, got %d", w.Code)
	}
}

func TestRegisterRoutes_ReadyReflectsStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r, Deps{Ready: probe{err: errors.New("sheet unreachable")}}, testConfig())

	w := serve(r, http.MethodGet, "/ready", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /ready = %d", w.Code)
	}
}

func TestRegisterRoutes_WebhookMode(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	s := &sink{}
	RegisterRoutes(r, Deps{Ready: probe{}, Updates: s}, testConfig())

	w := serve(r, http.MethodPost, "/telegram/webhook/s3cr3t", strings.NewReader(`{"update_id":5}`))
	if w.Code != http.StatusOK {
		t.Fatalf("webhook = %d %s", w.Code, w.Body.String())
	}
	w = serve(r, http.MethodPost, "/telegram/webhook/guess", strings.NewReader(`{"update_id":6}`))
	if w.Code != http.StatusNotFound {
		t.Fatalf("wrong secret expected 404, got %d", w.Code)
	}
	if len(s.got) != 1 || s.got[0].UpdateID != 5 {
		t.Fatalf("unexpected deliveries: %+v", s.got)
	}
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://example.com"}}
	RegisterRoutes(r, Deps{Ready: probe{}}, cfg)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://example.com")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /health = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected ACAO echo, got %q", got)
	}
}

func TestRegisterRoutes_Swagger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	cfg := testConfig()
	cfg.SwaggerEnabled = true
	RegisterRoutes(r, Deps{Ready: probe{}}, cfg)

	w := serve(r, http.MethodGet, "/swagger/doc.json", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/telegram/webhook/{secret}") {
		t.Fatalf("swagger doc = %d %s", w.Code, w.Body.String())
	}
}

func TestWebhookURL(t *testing.T) {
	if got := WebhookURL("https://bot.example.com/", "abc"); got != "https://bot.example.com/telegram/webhook/abc" {
		t.Fatalf("WebhookURL = %q", got)
	}
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := serve(r, http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB"))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from limitBody, got %d", w.Code)
	}
}

func TestNewServer_Timeouts(t *testing.T) {
	cfg := testConfig()
	cfg.Port = "9090"
	cfg.ReadTimeout = time.Second
	cfg.WriteTimeout = 2 * time.Second
	srv := NewServer(cfg, http.NotFoundHandler())
	if srv.Addr != ":9090" || srv.ReadTimeout != time.Second || srv.WriteTimeout != 2*time.Second {
		t.Fatalf("unexpected server: %+v", srv)
	}
}
