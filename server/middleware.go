package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
)

// RequestIDHeader carries the request ID on requests and responses.
const RequestIDHeader = "X-Request-ID"

const requestIDContextKey = "request_id"

type requestIDKey struct{}

// RequestID returns the request ID stored in ctx, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// newEngine builds a gin engine with the middleware and the routes every
// service shares.
func newEngine(o options) *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(
		RequestIDMiddleware(),
		LoggingMiddleware(o.logger),
		o.metrics.Middleware(),
		RecoveryMiddleware(o.logger),
	)

	engine.GET("/healthz", handleHealth)
	engine.GET("/metrics", gin.WrapH(o.metrics.Handler()))
	return engine
}

// RequestIDMiddleware assigns every request an ID and echoes it in the
// response. An incoming X-Request-ID is kept only when it is a valid ksuid.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = ksuid.New().String()
		}

		c.Set(requestIDContextKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, requestID))
		c.Next()
	}
}

// validRequestID reports whether id is a ksuid in canonical form. Parse
// alone accepts any 27 bytes that fit, so the value must also round trip.
func validRequestID(id string) bool {
	k, err := ksuid.Parse(id)
	return err == nil && k.String() == id
}

// LoggingMiddleware logs every request once it completes.
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.InfoContext(c.Request.Context(), "HTTP request",
			"request_id", c.GetString(requestIDContextKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and logs it.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		logger.ErrorContext(c.Request.Context(), "Request handler panic",
			"request_id", c.GetString(requestIDContextKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", recovered,
		)
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
