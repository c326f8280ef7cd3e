package logger

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-Id"
	ginKey          = "logger"
	maxRequestID    = 64
)

// routeParams are copied onto the request logger when the matched route names them.
var routeParams = []string{"call_id", "agent_id", "campaign_id"}

// Middleware installs a request-scoped logger in the Gin and request contexts and logs a
// summary once the handler returns. Requests to quiet paths (probes, scrapes) are
// summarized at debug level.
func Middleware(l *slog.Logger, quiet ...string) gin.HandlerFunc {
	quietSet := make(map[string]bool, len(quiet))
	for _, p := range quiet {
		quietSet[p] = true
	}
	return func(c *gin.Context) {
		start := time.Now()

		rid := requestID(c.GetHeader(headerRequestID))
		c.Writer.Header().Set(headerRequestID, rid)

		reqLogger := l.With("request_id", rid)
		for _, p := range routeParams {
			if v := c.Param(p); v != "" {
				reqLogger = reqLogger.With(p, v)
			}
		}
		Set(c, reqLogger)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		status := c.Writer.Status()
		// Handlers and later middleware may have enriched the logger.
		out := FromGin(c)
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"client_ip", c.ClientIP(),
			"duration_ms", float64(time.Since(start).Milliseconds()),
		}
		switch {
		case len(c.Errors) > 0:
			out.Error("request", append(attrs, "errors", c.Errors.String())...)
		case status >= 500:
			out.Warn("request", attrs...)
		case quietSet[path]:
			out.Debug("request", attrs...)
		default:
			out.Info("request", attrs...)
		}
	}
}

// Set replaces the request logger in both the Gin and request contexts.
func Set(c *gin.Context, l *slog.Logger) {
	c.Set(ginKey, l)
	c.Request = c.Request.WithContext(With(c.Request.Context(), l))
}

// FromGin pulls the request-scoped logger from Gin context.
func FromGin(c *gin.Context) *slog.Logger {
	if v, ok := c.Get(ginKey); ok {
		if l, ok := v.(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return slog.Default()
}

// requestID keeps a caller-supplied id when it is short printable ASCII.
func requestID(in string) string {
	if in == "" || len(in) > maxRequestID {
		return uuid.NewString()
	}
	for i := 0; i < len(in); i++ {
		if in[i] < 0x21 || in[i] > 0x7e {
			return uuid.NewString()
		}
	}
	return in
}
