package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RequestLogger attaches a request scope to the context. projectID enables
// Cloud Trace correlation from the traceparent header; when empty, or when
// the header is missing or malformed, the request ID is used instead.
func RequestLogger(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withScope(r.Context(), newRequestScope(r, projectID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newRequestScope(r *http.Request, projectID string) *requestScope {
	header := r.Header.Get(traceparentHeader)
	reqID := chimiddleware.GetReqID(r.Context())

	id := traceResource(header, projectID)
	if id == "" {
		id = reqID
	}
	return &requestScope{
		logger:        loggerWithTrace(Logger(), header, projectID, reqID),
		correlationID: id,
	}
}

// AccessLogger writes one "request completed" entry per request. Server
// errors log at error level and client errors at warning level.
func AccessLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				// Nothing written; net/http sends 200.
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			}
			if route := routePattern(r); route != "" {
				fields = append(fields, zap.String("route", route))
			}
			write(r.Context(), accessLevel(status), "request completed", nil, fields)
		})
	}
}

func accessLevel(status int) zapcore.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
