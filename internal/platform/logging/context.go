package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type scopeKey struct{}

// requestScope is what RequestLogger attaches to a request context: the
// logger carrying trace or request ID fields, and the ID those fields
// correlate on.
type requestScope struct {
	logger        *zap.Logger
	correlationID string
}

func scopeFrom(ctx context.Context) *requestScope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*requestScope)
	return s
}

func withScope(ctx context.Context, s *requestScope) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, scopeKey{}, s)
}

// LoggerFromContext returns the request-scoped logger, or the process-wide
// logger when ctx carries none.
func LoggerFromContext(ctx context.Context) *zap.Logger {
	if s := scopeFrom(ctx); s != nil && s.logger != nil {
		return s.logger
	}
	return Logger()
}

// CorrelationID returns the Cloud Trace resource name, or the request ID
// when the request is not traced. It is empty outside RequestLogger.
func CorrelationID(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.correlationID
	}
	return ""
}

// LogInfo writes an informational entry with the request-aware logger.
func LogInfo(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.InfoLevel, msg, nil, fields)
}

// LogWarn writes a warning entry with the request-aware logger.
func LogWarn(ctx context.Context, msg string, fields ...zap.Field) {
	write(ctx, zapcore.WarnLevel, msg, nil, fields)
}

// LogError writes an error entry and appends err when non-nil.
func LogError(ctx context.Context, msg string, err error, fields ...zap.Field) {
	write(ctx, zapcore.ErrorLevel, msg, err, fields)
}

// LogFatal logs at fatal severity and exits the process.
func LogFatal(ctx context.Context, msg string, err error, fields ...zap.Field) {
	write(ctx, zapcore.FatalLevel, msg, err, fields)
}

func write(ctx context.Context, level zapcore.Level, msg string, err error, fields []zap.Field) {
	ce := LoggerFromContext(ctx).Check(level, msg)
	if ce == nil {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}
