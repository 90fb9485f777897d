package logger

import (
	"context"
	"strings"
	"time"

	"github.com/denkuservices/denku-mvp-sub000/internal/tenant"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the global logger. It discards output until Initialize runs.
var Log = zap.NewNop()

// ServiceName is stamped on every entry of the global logger.
const ServiceName = "call-events"

// Initialize builds the JSON production logger at level. An unknown level
// falls back to info.
func Initialize(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Sampling = nil
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	cfg.InitialFields = map[string]interface{}{"service": ServiceName}

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	Log = built
	return nil
}

// WithLogger attaches a scoped logger to the context
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the request logger, or the global one, annotated with
// the request, workspace and call ids found in ctx.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return Log
	}

	baseLogger := Log
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok && logger != nil {
		baseLogger = logger
	}

	fields := make([]zap.Field, 0, 3)
	if requestID, err := tenant.FromRequestIDContext(ctx); err == nil {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if workspaceID, err := tenant.FromContext(ctx); err == nil {
		fields = append(fields, zap.String("workspace_id", workspaceID))
	}
	if callID, err := tenant.FromCallIDContext(ctx); err == nil {
		fields = append(fields, zap.String("call_id", callID))
	}
	if len(fields) == 0 {
		return baseLogger
	}
	return baseLogger.With(fields...)
}

// MaskPhone keeps the last four digits of a phone number for log output.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// Sync flushes any buffered log entries
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

// FromContextOr returns the logger from the context or the default logger if not found.
func FromContextOr(ctx context.Context, defaultLogger *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return l
	}
	if defaultLogger != nil {
		return defaultLogger
	}
	return Log
}

type contextKey int

const (
	loggerKey contextKey = iota
)
