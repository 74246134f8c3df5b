package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/apolo-dex/smartlink/ports"
	"github.com/apolo-dex/smartlink/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RequireSession rejects requests while no unexpired session is cached and
// raises the invalidation signal so the link dialog comes back
func RequireSession(tokens ports.TokenSource, bus ports.SignalBus, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		token, ok := tokens.Token(ctx)
		if !ok || tokens.Expiry(ctx) <= time.Now().Unix() {
			if err := service.RaiseInvalidation(ctx, bus, "no usable session at "+c.FullPath()); err != nil {
				logger.Warn("failed to raise invalidation signal", "error", err)
			}
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Wallet not linked"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			}
			return
		}

		c.Set("sessionToken", token)

		c.Next()
	}
}

// RequestID tags every request with an id, reusing the caller's when present
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(requestIDHeader, id)

		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString("requestID"),
		)
	}
}
