package respond

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	appmiddleware "github.com/yiroma/budgetmanagement/internal/platform/middleware"
)

const greetingAllow = "GET, HEAD, OPTIONS"

func newGreetingRouter() *chi.Mux {
	router := chi.NewRouter()
	router.Use(chimiddleware.GetHead)
	router.NotFound(NotFoundHandler())
	router.MethodNotAllowed(MethodNotAllowedHandler())
	router.Get("/hello", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("Hello World!"))
	})
	return router
}

func varySet(h http.Header) map[string]int {
	set := make(map[string]int)
	for _, v := range h.Values("Vary") {
		for part := range strings.SplitSeq(v, ",") {
			set[strings.TrimSpace(part)]++
		}
	}
	return set
}

func TestNotFoundHandlerReturnsProblemDetails(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	resp := httptest.NewRecorder()
	newGreetingRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("expected application/problem+json, got %q", ct)
	}
	link := resp.Header().Get("Link")
	if !strings.Contains(link, "/schemas/ErrorModel.json") || !strings.Contains(link, "describedBy") {
		t.Fatalf("expected Link header with schema, got %q", link)
	}

	var body problem
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal problem: %v", err)
	}
	if body.Status != http.StatusNotFound || body.Title != "Not Found" {
		t.Fatalf("unexpected problem: %+v", body)
	}
	if body.Detail != "resource not found" {
		t.Fatalf("unexpected detail: %s", body.Detail)
	}
	if !strings.HasPrefix(body.Schema, "http://example.com/") {
		t.Fatalf("expected $schema on request host, got %q", body.Schema)
	}
}

func TestMethodNotAllowedOnGreeting(t *testing.T) {
	methods := []string{
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	}
	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/hello", nil)
			resp := httptest.NewRecorder()
			newGreetingRouter().ServeHTTP(resp, req)

			if resp.Code != http.StatusMethodNotAllowed {
				t.Fatalf("expected 405, got %d", resp.Code)
			}
			if allow := resp.Header().Get("Allow"); allow != greetingAllow {
				t.Fatalf("expected Allow: %s, got %q", greetingAllow, allow)
			}
			if strings.Contains(resp.Body.String(), "Hello World!") {
				t.Fatalf("greeting leaked into %s response", method)
			}
			var body problem
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal problem: %v", err)
			}
			if body.Title != "Method Not Allowed" || !strings.Contains(body.Detail, method) {
				t.Fatalf("unexpected problem: %+v", body)
			}
		})
	}
}

func TestHeadOnGreetingServedByGetRoute(t *testing.T) {
	srv := httptest.NewServer(newGreetingRouter())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodHead, srv.URL+"/hello", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("HEAD /hello: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(body) != 0 {
		t.Fatalf("expected empty HEAD body, got %q", body)
	}
}

func TestPlainOptionsOnGreetingListsAllowedMethods(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/hello", nil)
	resp := httptest.NewRecorder()
	newGreetingRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if allow := resp.Header().Get("Allow"); allow != greetingAllow {
		t.Fatalf("expected Allow: %s, got %q", greetingAllow, allow)
	}
	if resp.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", resp.Body.String())
	}
}

func TestPlainOptionsOnUnknownPathIsNotFound(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/missing", nil)
	resp := httptest.NewRecorder()
	newGreetingRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestAllowedMethodsListsEveryRegisteredMethod(t *testing.T) {
	router := chi.NewRouter()
	router.MethodNotAllowed(MethodNotAllowedHandler())
	ok := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }
	router.Get("/multi", ok)
	router.Post("/multi", ok)
	router.Delete("/multi", ok)

	req := httptest.NewRequest(http.MethodPatch, "/multi", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
	if allow := resp.Header().Get("Allow"); allow != "GET, HEAD, POST, DELETE, OPTIONS" {
		t.Fatalf("unexpected Allow header %q", allow)
	}
}

func TestAllowedMethodsNilRouteContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/hello", nil)
	if methods := allowedMethods(req); methods != nil {
		t.Fatalf("expected nil without chi route context, got %v", methods)
	}
}

func TestProblemsNegotiateCBOR(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"not found", http.MethodGet, "/missing", http.StatusNotFound},
		{"method not allowed", http.MethodPost, "/hello", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Accept", "application/cbor")
			resp := httptest.NewRecorder()
			newGreetingRouter().ServeHTTP(resp, req)

			if resp.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.Code)
			}
			if ct := resp.Header().Get("Content-Type"); ct != "application/problem+cbor" {
				t.Fatalf("expected application/problem+cbor, got %q", ct)
			}
			var body huma.ErrorModel
			if err := cbor.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal CBOR problem: %v", err)
			}
			if body.Status != tt.status || body.Title != http.StatusText(tt.status) {
				t.Fatalf("unexpected problem: %+v", body)
			}
		})
	}
}

func newPanicRouter() *chi.Mux {
	router := chi.NewRouter()
	router.Use(
		appmiddleware.RequestID(),
		chimiddleware.RealIP,
		Recoverer(),
	)
	api := humachi.New(router, huma.DefaultConfig("Test", "test"))
	huma.Get(api, "/panic", func(context.Context, *struct{}) (*struct{}, error) {
		panic("boom")
	})
	router.Get("/panic-error", func(http.ResponseWriter, *http.Request) {
		panic(errors.New("wrapped error"))
	})
	router.Get("/panic-int", func(http.ResponseWriter, *http.Request) {
		panic(42)
	})
	router.Get("/partial", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial response"))
		panic("panic after write")
	})
	return router
}

func TestRecovererReturnsProblemDetails(t *testing.T) {
	for _, path := range []string{"/panic", "/panic-error", "/panic-int"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			resp := httptest.NewRecorder()
			newPanicRouter().ServeHTTP(resp, req)

			if resp.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", resp.Code)
			}
			if ct := resp.Header().Get("Content-Type"); ct != "application/problem+json" {
				t.Fatalf("expected application/problem+json, got %q", ct)
			}
			var body huma.ErrorModel
			if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to unmarshal problem: %v", err)
			}
			if body.Title != "Internal Server Error" || body.Detail != "internal server error" {
				t.Fatalf("unexpected problem: %+v", body)
			}
		})
	}
}

func TestRecovererReturnsCBORWhenAccepted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set("Accept", "application/cbor")
	resp := httptest.NewRecorder()
	newPanicRouter().ServeHTTP(resp, req)

	if ct := resp.Header().Get("Content-Type"); ct != "application/problem+cbor" {
		t.Fatalf("expected application/problem+cbor, got %q", ct)
	}
	var body huma.ErrorModel
	if err := cbor.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to unmarshal CBOR problem: %v", err)
	}
	if body.Status != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", body.Status)
	}
}

func TestRecovererSkipsWriteWhenHeaderAlreadyWritten(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/partial", nil)
	resp := httptest.NewRecorder()
	newPanicRouter().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected original 200 status, got %d", resp.Code)
	}
	if body := resp.Body.String(); body != "partial response" {
		t.Fatalf("expected original body, got %q", body)
	}
}

func TestRecovererRePanicsOnErrAbortHandler(t *testing.T) {
	router := chi.NewRouter()
	router.Use(Recoverer())
	router.Get("/abort", func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		rec := recover()
		err, ok := rec.(error)
		if !ok || !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected http.ErrAbortHandler to be re-panicked, got %v", rec)
		}
	}()

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/abort", nil))
	t.Fatal("expected panic to propagate")
}

func TestResponseWriterTracksHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec}
	if rw.wroteHeader {
		t.Fatal("expected wroteHeader to be false initially")
	}
	n, err := rw.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("unexpected write result n=%d err=%v", n, err)
	}
	if !rw.wroteHeader {
		t.Fatal("expected wroteHeader after Write")
	}
	if rw.Unwrap() != rec {
		t.Fatal("expected Unwrap to return underlying ResponseWriter")
	}
}

func TestVaryHeaderMerge(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     []string
	}{
		{"empty", "", []string{"Origin", "Accept"}},
		{"preserves other values", "Accept-Encoding", []string{"Accept-Encoding", "Origin", "Accept"}},
		{"comma separated", "Accept-Encoding, Accept-Language", []string{"Accept-Encoding", "Accept-Language", "Origin", "Accept"}},
		{"no duplicates", "Accept", []string{"Accept", "Origin"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.existing != "" {
					w.Header().Set("Vary", tt.existing)
				}
				NotFoundHandler().ServeHTTP(w, r)
			})
			resp := httptest.NewRecorder()
			handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/missing", nil))

			set := varySet(resp.Header())
			for _, want := range tt.want {
				if set[want] != 1 {
					t.Fatalf("expected %q exactly once in Vary, got %v", want, resp.Header().Values("Vary"))
				}
			}
		})
	}
}

func TestEnsureVaryEdgeCases(t *testing.T) {
	h := make(http.Header)
	ensureVary(h)
	if len(h.Values("Vary")) != 0 {
		t.Fatalf("expected no Vary header, got %v", h.Values("Vary"))
	}

	ensureVary(h, "Accept", "accept", "Origin")
	if set := varySet(h); set["Accept"] != 1 || set["Origin"] != 1 || len(set) != 2 {
		t.Fatalf("unexpected Vary values %v", h.Values("Vary"))
	}
}

func TestJSONResponseHasNoHTMLEscaping(t *testing.T) {
	req := httptest.NewRequest(http.MethodPatch, "/hello?foo=<bar>", nil)
	req.Method = "<PATCH>"
	resp := httptest.NewRecorder()
	MethodNotAllowedHandler().ServeHTTP(resp, req)

	body := resp.Body.String()
	if !strings.Contains(body, "<PATCH>") || strings.Contains(body, `\u003c`) {
		t.Fatalf("response should not HTML-escape: %s", body)
	}
}

func TestSchemaURLScheme(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*http.Request)
		want    string
	}{
		{"plain http", func(*http.Request) {}, "http://example.com/schemas/ErrorModel.json"},
		{"forwarded https", func(r *http.Request) {
			r.Header.Set("X-Forwarded-Proto", "https")
			r.Host = "api.example.com"
		}, "https://api.example.com/schemas/ErrorModel.json"},
		{"tls", func(r *http.Request) {
			r.TLS = &tls.ConnectionState{}
			r.Host = "secure.example.com"
		}, "https://secure.example.com/schemas/ErrorModel.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/missing", nil)
			tt.prepare(req)
			if got := schemaURL(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
