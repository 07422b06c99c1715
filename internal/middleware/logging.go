// Package middleware holds the HTTP middleware of the worker's operational server.
package middleware

import (
	"net/http"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Logging logs and counts every request by its route template. Successful
// scrapes and health checks are logged at debug level so they do not flood the log.
func Logging(log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.Component(log, "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			route := routeTemplate(r)
			metrics.RecordHTTPRequest(route, wrapped.statusCode)

			level := log.Debug
			if wrapped.statusCode >= http.StatusInternalServerError {
				level = log.Warn
			}
			level("http_request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status_code", wrapped.statusCode),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

// routeTemplate returns the matched mux route, or "unmatched" to keep label cardinality bounded
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
