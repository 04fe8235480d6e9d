// Package respond renders router-level failures (unknown route, wrong
// method, panics) as RFC 9457 problem documents that match the shape huma
// uses for its own errors.
package respond

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/yiroma/budgetmanagement/internal/platform/logging"
)

const (
	msgNotFound            = "resource not found"
	msgInternalServerError = "internal server error"

	contentTypeProblemJSON = "application/problem+json"
	contentTypeProblemCBOR = "application/problem+cbor"

	schemaPath = "/schemas/ErrorModel.json"
)

var candidateMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// problem mirrors huma.ErrorModel with the $schema link huma adds to its
// own error bodies.
type problem struct {
	Schema string              `json:"$schema,omitempty"`
	Title  string              `json:"title,omitempty"`
	Status int                 `json:"status,omitempty"`
	Detail string              `json:"detail,omitempty"`
	Errors []*huma.ErrorDetail `json:"errors,omitempty"`
}

// NotFoundHandler answers unmatched routes with a 404 problem document.
func NotFoundHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, r, http.StatusNotFound, msgNotFound, nil)
	}
}

// MethodNotAllowedHandler answers a known path requested with an
// unsupported method. The Allow header lists the methods the router
// would accept for the same path. A plain OPTIONS on a known path is
// answered with 200 and the same Allow header.
func MethodNotAllowedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		allow := allowedMethods(r)
		if len(allow) > 0 {
			w.Header().Set("Allow", strings.Join(allow, ", "))
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		writeProblem(w, r, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method), nil)
	}
}

// Recoverer converts panics into 500 problem documents. http.ErrAbortHandler
// is re-panicked so net/http can abort the connection. Nothing is written
// when the handler already started the response.
func Recoverer() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w}
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				err, ok := rec.(error)
				if ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				fields := []zap.Field{zap.ByteString("stack", debug.Stack())}
				if rw.wroteHeader {
					logging.LogError(r.Context(), "panic after response started", err, fields...)
					return
				}
				writeProblem(rw, r, http.StatusInternalServerError, msgInternalServerError, err, fields...)
			}()
			next.ServeHTTP(rw, r)
		})
	}
}

// responseWriter records whether the header has been sent.
type responseWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(status int) {
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string, cause error, fields ...zap.Field) {
	ctx := r.Context()
	logStatus(ctx, status, detail, cause, append(fields,
		zap.Int("status", status),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)...)

	schema := schemaURL(r)
	body := problem{
		Schema: schema,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}

	var (
		payload     []byte
		contentType string
		err         error
	)
	if selectFormat(r.Header.Get("Accept")) {
		contentType = contentTypeProblemCBOR
		payload, err = cbor.Marshal(body)
	} else {
		contentType = contentTypeProblemJSON
		payload, err = marshalJSON(body)
	}
	if err != nil {
		logging.LogError(ctx, "failed to encode problem response", err)
		http.Error(w, http.StatusText(status), status)
		return
	}

	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Link", "<"+schema+">; rel=\"describedBy\"")
	ensureVary(h, "Origin", "Accept")
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		logging.LogWarn(ctx, "failed to write problem response", zap.Error(err))
	}
}

func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func schemaURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host + schemaPath
}

func logStatus(ctx context.Context, status int, msg string, err error, fields ...zap.Field) {
	if status >= http.StatusInternalServerError {
		logging.LogError(ctx, msg, err, fields...)
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	logging.LogWarn(ctx, msg, fields...)
}

// allowedMethods walks chi's route tree for every method that would match
// the current path. HEAD follows GET because the router serves HEAD through
// chimiddleware.GetHead, and OPTIONS is answered for any known path.
func allowedMethods(r *http.Request) []string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil || rctx.Routes == nil {
		return nil
	}

	routePath := rctx.RoutePath
	if routePath == "" {
		routePath = r.URL.RawPath
		if routePath == "" {
			routePath = r.URL.Path
		}
		if routePath == "" {
			routePath = "/"
		}
	}

	allowed := make([]string, 0, len(candidateMethods))
	for _, method := range candidateMethods {
		switch {
		case rctx.Routes.Match(chi.NewRouteContext(), method, routePath):
		case method == http.MethodHead && slices.Contains(allowed, http.MethodGet):
		case method == http.MethodOptions && len(allowed) > 0:
		default:
			continue
		}
		allowed = append(allowed, method)
	}
	return allowed
}

// ensureVary adds each value to the Vary header unless an existing entry
// (possibly comma separated) already names it.
func ensureVary(h http.Header, values ...string) {
	seen := make(map[string]struct{})
	for _, existing := range h.Values("Vary") {
		for part := range strings.SplitSeq(existing, ",") {
			if part = strings.TrimSpace(part); part != "" {
				seen[strings.ToLower(part)] = struct{}{}
			}
		}
	}
	for _, v := range values {
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		h.Add("Vary", v)
	}
}
