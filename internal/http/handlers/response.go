// Package handlers implements the ops HTTP endpoints: liveness, readiness and
// the chat transport webhook.
//
// Every error leaves through fail, so clients always see the same envelope:
//
//	HTTP/1.1 503 Service Unavailable
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "not_ready",
//	  "message": "record store unavailable"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-access-bot/internal/http/middleware"
)

// ErrorResponse is the standard error envelope returned by all endpoints.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"not_ready"`
	// Human-readable message
	Message string `json:"message" example:"record store unavailable"`
}

// fail aborts the request with the error envelope. Server-side failures are
// logged with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get(middleware.RequestIDHeader),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}
