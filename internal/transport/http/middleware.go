package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/okcorral/roombroker/internal/auth"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AuthMiddleware applies the handshake callback to plain HTTP routes.
func AuthMiddleware(cb auth.Callback, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := cb(c.Request.Header); !ok {
			logger.Debug().Str("path", c.Request.URL.Path).Msg("unauthorized request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("remote", c.ClientIP()).
			Msg("http request")
	}
}
