package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	_ "github.com/danielgtaylor/huma/v2/formats/cbor"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/yiroma/budgetmanagement/internal/config"
	"github.com/yiroma/budgetmanagement/internal/http/health"
	"github.com/yiroma/budgetmanagement/internal/http/v1/routes"
	"github.com/yiroma/budgetmanagement/internal/platform/firebase"
	applog "github.com/yiroma/budgetmanagement/internal/platform/logging"
	"github.com/yiroma/budgetmanagement/internal/platform/metrics"
	appmiddleware "github.com/yiroma/budgetmanagement/internal/platform/middleware"
	"github.com/yiroma/budgetmanagement/internal/platform/respond"
)

// Version can be overridden at build time: -ldflags "-X main.Version=1.2.3"
var Version = "dev"

const docsPath = "/api-docs"

// initializeClients is swapped in tests to observe persistence wiring.
var initializeClients = firebase.InitializeClients

func main() {
	defer func() {
		if err := applog.Sync(); err != nil {
			applog.LogError(context.Background(), "logger sync error", err)
		}
	}()
	if err := applog.Err(); err != nil {
		applog.LogError(context.Background(), "logger init error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		applog.LogError(context.Background(), "server failed", err)
		stop()
		_ = applog.Sync()
		os.Exit(1)
	}
	applog.LogInfo(context.Background(), "server exited")
}

// run loads configuration, wires optional persistence and serves until ctx
// is cancelled.
func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	clients, err := wirePersistence(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := clients.Close(); err != nil {
			applog.LogError(context.Background(), "firestore close error", err)
		}
	}()

	srv := newServer(cfg.Addr(), newRouter(cfg, metrics.New()))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", srv.Addr, err)
	}
	applog.LogInfo(ctx, "server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("version", Version),
		zap.Bool("persistence", cfg.PersistenceEnabled()),
	)
	return serve(ctx, srv, ln, cfg.ShutdownTimeout)
}

// wirePersistence creates the Firestore client when autowiring is enabled.
// It returns nil clients when the flag disables it.
func wirePersistence(ctx context.Context, cfg config.Config) (*firebase.Clients, error) {
	if !cfg.PersistenceEnabled() {
		applog.LogInfo(ctx, "persistence autowiring disabled")
		return nil, nil
	}

	clients, err := initializeClients(ctx, firebase.Config{
		ProjectID:                    cfg.ProjectID,
		GoogleApplicationCredentials: cfg.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize persistence: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := clients.Ping(pingCtx); err != nil {
		applog.LogWarn(ctx, "firestore unreachable at startup", zap.Error(err))
	} else {
		applog.LogInfo(ctx, "persistence autowiring enabled", zap.String("projectId", cfg.ProjectID))
	}
	return clients, nil
}

// newAPI builds the huma API on top of router.
func newAPI(router chi.Router) huma.API {
	cfg := huma.DefaultConfig("Budget Management API", Version)
	cfg.DocsPath = docsPath
	api := humachi.New(router, cfg)
	api.OpenAPI().OnAddOperation = append(api.OpenAPI().OnAddOperation, mirrorCBORContent)
	return api
}

// mirrorCBORContent documents application/cbor wherever application/json
// is documented.
func mirrorCBORContent(_ *huma.OpenAPI, op *huma.Operation) {
	if op.RequestBody != nil && op.RequestBody.Content != nil {
		if jsonContent, ok := op.RequestBody.Content["application/json"]; ok {
			op.RequestBody.Content["application/cbor"] = jsonContent
		}
	}
	for _, resp := range op.Responses {
		if resp.Content == nil {
			continue
		}
		if jsonContent, ok := resp.Content["application/json"]; ok {
			resp.Content["application/cbor"] = jsonContent
		}
	}
}

// newRouter assembles middleware, application routes, health and metrics.
func newRouter(cfg config.Config, recorder *metrics.Recorder) http.Handler {
	router := chi.NewRouter()
	router.NotFound(respond.NotFoundHandler())
	router.MethodNotAllowed(respond.MethodNotAllowedHandler())

	router.Use(
		appmiddleware.Security(docsPath),
		appmiddleware.Vary(),
		appmiddleware.CORS(),
		appmiddleware.RequestID(),
		// RealIP trusts X-Real-IP / X-Forwarded-For. Only deploy behind a
		// trusted proxy such as Cloud Run.
		chimiddleware.RealIP,
		chimiddleware.RequestSize(1<<20), // 1 MB limit
		chimiddleware.GetHead,
		applog.RequestLogger(cfg.ProjectID),
		applog.AccessLogger(),
		recorder.Middleware(),
		respond.Recoverer(),
	)

	router.Get("/health", health.Handler)
	if cfg.MetricsPath != "" {
		router.Method(http.MethodGet, cfg.MetricsPath, recorder.Handler())
	}

	routes.Register(newAPI(router))
	return router
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    64 << 10, // 64 KB
	}
}

// serve runs srv on ln until ctx is done, then shuts down within timeout.
// A serve failure other than http.ErrServerClosed is returned.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, timeout time.Duration) error {
	listenErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		applog.LogInfo(context.Background(), "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
