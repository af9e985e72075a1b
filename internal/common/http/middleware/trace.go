package middleware

import (
	"context"
	"strings"

	"codejudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	userIDContextKey    = "user_id"
	echoUserIDKey       = "echo_user_id"

	maxCorrelationIDLen = 128
)

// TraceConfig controls the correlation ids attached to each request.
type TraceConfig struct {
	// EchoUserID writes the authenticated user id back as X-User-Id.
	EchoUserID bool
}

// TraceMiddleware reuses or generates the trace and request ids, stores them in the
// gin and request contexts and echoes them as response headers.
// Caller supplied user ids are never trusted; AuthMiddleware sets the user id.
func TraceMiddleware(cfg TraceConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := correlationID(c.GetHeader(traceIDHeader))
		bind(c, traceIDContextKey, contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := correlationID(c.GetHeader(requestIDHeader))
		bind(c, requestIDContextKey, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		if cfg.EchoUserID {
			c.Set(echoUserIDKey, true)
		}
		c.Next()
	}
}

// TraceID returns the trace id of the request, if any.
func TraceID(c *gin.Context) string {
	return c.GetString(traceIDContextKey)
}

func bind(c *gin.Context, ginKey string, ctxKey interface{}, value interface{}) {
	c.Set(ginKey, value)
	c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey, value))
}

// correlationID keeps a well formed inbound id and replaces anything else with a fresh uuid.
func correlationID(raw string) string {
	id := strings.TrimSpace(raw)
	if id == "" || len(id) > maxCorrelationIDLen {
		return uuid.NewString()
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return uuid.NewString()
		}
	}
	return id
}
