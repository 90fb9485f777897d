package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/denkuservices/denku-mvp-sub000/internal/tenant"
)

// HeaderRequestID is echoed back on every response.
const HeaderRequestID = "X-Request-Id"

// GinMiddleware injects a request id, attaches a request-scoped logger to the
// request context and logs a summary line once the handler chain returns.
func GinMiddleware(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		rid := c.GetHeader(HeaderRequestID)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Writer.Header().Set(HeaderRequestID, rid)

		base := l
		if base == nil {
			base = Log
		}
		ctx := tenant.WithRequestID(c.Request.Context(), rid)
		ctx = WithLogger(ctx, base)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("request_id", rid),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			base.Error("request", append(fields, zap.String("errors", c.Errors.String()))...)
			return
		}
		base.Info("request", fields...)
	}
}

// FromGin returns the request-scoped logger carried by the gin request context.
func FromGin(c *gin.Context) *zap.Logger {
	return FromContext(c.Request.Context())
}
