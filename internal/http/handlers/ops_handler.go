// Ops HTTP handlers.
//
// This file exposes the endpoints used by orchestrators and by the chat
// platform:
//   - GET  /health                    (liveness)
//   - GET  /ready                     (record store reachable, columns present)
//   - POST /telegram/webhook/{secret} (update delivery in webhook mode)
package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tbourn/go-access-bot/internal/repo"
)

// ReadinessChecker probes the record store.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// UpdateSink accepts chat updates for asynchronous handling. Submit reports
// false for duplicates and updates the bot does not act on.
type UpdateSink interface {
	Submit(up tgbotapi.Update) bool
}

// Handlers groups the ops endpoints.
type Handlers struct {
	ready   ReadinessChecker
	updates UpdateSink
	secret  string

	// ReadyTimeout bounds one readiness probe.
	ReadyTimeout time.Duration
}

// New constructs Handlers. updates and secret may be empty when updates
// arrive by long polling; the webhook endpoint then answers 404.
func New(ready ReadinessChecker, updates UpdateSink, secret string) *Handlers {
	return &Handlers{ready: ready, updates: updates, secret: secret, ReadyTimeout: 5 * time.Second}
}

// StatusResponse is the body of the health and readiness probes.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
}

// WebhookResponse acknowledges a delivered update.
type WebhookResponse struct {
	// Accepted is false for redelivered or unsupported updates.
	Accepted bool `json:"accepted" example:"true"`
}

// Health godoc
// @ID          health
// @Summary     Liveness probe
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  handlers.StatusResponse
// @Router      /health [get]
func (h *Handlers) Health(c *gin.Context) {
	ok(c, StatusResponse{Status: "ok"})
}

// Ready godoc
// @ID          ready
// @Summary     Readiness probe
// @Description Reads the sheet header and checks the identity and credential columns exist.
// @Tags        Ops
// @Produce     json
// @Success     200  {object}  handlers.StatusResponse
// @Failure     503  {object}  handlers.ErrorResponse  "Store unreachable or schema mismatch"
// @Router      /ready [get]
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.ReadyTimeout)
	defer cancel()

	if err := h.ready.Ready(ctx); err != nil {
		code := ErrCodeNotReady
		if errors.Is(err, repo.ErrSchema) {
			code = ErrCodeSchema
		}
		fail(c, http.StatusServiceUnavailable, code, err.Error())
		return
	}
	ok(c, StatusResponse{Status: "ready"})
}

// Webhook godoc
// @ID          telegramWebhook
// @Summary     Receive a chat update
// @Description Accepts a Telegram Bot API update. The path secret must match WEBHOOK_SECRET.
// @Tags        Transport
// @Accept      json
// @Produce     json
// @Param       secret  path  string  true  "Webhook secret"
// @Success     200  {object}  handlers.WebhookResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Unknown secret"
// @Router      /telegram/webhook/{secret} [post]
func (h *Handlers) Webhook(c *gin.Context) {
	if h.updates == nil || h.secret == "" ||
		subtle.ConstantTimeCompare([]byte(c.Param("secret")), []byte(h.secret)) != 1 {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "route not found")
		return
	}

	var up tgbotapi.Update
	if err := c.ShouldBindJSON(&up); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ok(c, WebhookResponse{Accepted: h.updates.Submit(up)})
}
