package logger

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

const headerRequestID = "X-Request-Id"

const ginKey = "logger"

// Middleware tags every request with a request_id (reusing X-Request-Id when
// the caller sent one) and the trace id, then logs one summary line per
// request. Probe endpoints are logged at debug level.
func Middleware(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(headerRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			reqLogger = reqLogger.With("trace_id", sc.TraceID().String())
		}
		if id := c.Param("id"); id != "" {
			reqLogger = reqLogger.With("recording_id", id)
		}
		c.Set(ginKey, reqLogger)
		c.Request = c.Request.WithContext(With(c.Request.Context(), reqLogger))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		switch {
		case len(c.Errors) > 0:
			reqLogger.Error("request", append(attrs, "errors", c.Errors.String())...)
		case isProbe(path):
			reqLogger.Debug("request", attrs...)
		case c.Writer.Status() >= 500:
			reqLogger.Error("request", attrs...)
		default:
			reqLogger.Info("request", attrs...)
		}
	}
}

func isProbe(path string) bool {
	return strings.HasSuffix(path, "/healthz") || strings.HasSuffix(path, "/readyz")
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if l, ok := c.Value(ginKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return From(c.Request.Context())
}
