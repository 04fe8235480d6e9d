// Package metrics records HTTP request metrics on a private Prometheus
// registry and exposes them for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yiroma/budgetmanagement/internal/platform/logging"
)

// UnmatchedRoute labels requests that did not resolve to a registered route.
const UnmatchedRoute = "unmatched"

// exemplarLabel carries the request's correlation ID on duration samples.
const exemplarLabel = "trace_id"

// Recorder owns the registry and the HTTP collectors.
type Recorder struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
}

// New builds a Recorder with Go runtime and process collectors registered.
func New() *Recorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Recorder{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
	}
	registry.MustRegister(r.requests, r.duration, r.inFlight)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Middleware records one observation per request. The route label is the
// chi route pattern, resolved after the handler ran. When the request
// carries a correlation ID it is attached to the duration sample as an
// exemplar.
func (r *Recorder) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			r.inFlight.Inc()
			defer r.inFlight.Dec()

			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routeLabel(req)
			r.requests.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
			observe(r.duration.WithLabelValues(req.Method, route), time.Since(start).Seconds(), logging.CorrelationID(req.Context()))
		})
	}
}

// Handler serves the registry in the Prometheus exposition format, or in
// OpenMetrics (with exemplars) when the scraper asks for it.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		Registry:          r.registry,
		EnableOpenMetrics: true,
	})
}

func observe(o prometheus.Observer, v float64, id string) {
	eo, ok := o.(prometheus.ExemplarObserver)
	if !ok || id == "" || utf8.RuneCountInString(exemplarLabel+id) > prometheus.ExemplarMaxRunes {
		o.Observe(v)
		return
	}
	eo.ObserveWithExemplar(v, prometheus.Labels{exemplarLabel: id})
}

func routeLabel(req *http.Request) string {
	rctx := chi.RouteContext(req.Context())
	if rctx == nil {
		return UnmatchedRoute
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return UnmatchedRoute
}
