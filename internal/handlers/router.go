// Package handlers serves the worker's operational HTTP endpoints.
package handlers

import (
	"net/http"
	"time"

	"github.com/benvon/tagmatch/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.uber.org/zap"
)

// RouterOptions configures NewRouter
type RouterOptions struct {
	// ServiceName enables otelmux tracing when set.
	ServiceName string
	Version     string
	// Gatherer defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	// RequestTimeout defaults to middleware.DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// NewRouter builds the operational router: /healthz, /readyz, /metrics and /version.
func NewRouter(health *HealthChecker, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.ServiceName != "" {
		r.Use(otelmux.Middleware(opts.ServiceName))
	}
	r.Use(middleware.Recover(opts.Logger), middleware.Logging(opts.Logger), middleware.Timeout(opts.RequestTimeout))

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r.HandleFunc("/healthz", health.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/readyz", health.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": opts.Version})
	}).Methods(http.MethodGet)
	return r
}
