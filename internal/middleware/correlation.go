package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// CorrelationHeader carries the request correlation id.
const CorrelationHeader = "X-Correlation-ID"

const correlationKey = "correlationID"

type correlationCtxKey struct{}

// Correlation accepts or generates a correlation id, echoes it on the
// response, and attaches it to the request context and the New Relic
// transaction.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(CorrelationHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}

		c.Set(correlationKey, id)
		c.Header(CorrelationHeader, id)
		c.Request = c.Request.WithContext(WithCorrelationID(c.Request.Context(), id))

		if txn := nrgin.Transaction(c); txn != nil {
			txn.AddAttribute("correlation_id", id)
		}

		c.Next()
	}
}

// WithCorrelationID returns ctx carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationCtxKey{}, id)
}

// CorrelationIDFromContext returns the id stored by Correlation, if any.
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationCtxKey{}).(string)
	return id
}

// CorrelationID returns the request's correlation id.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// RequestLogger emits one structured line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}

		slog.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"correlation_id", CorrelationID(c),
		)
	}
}
