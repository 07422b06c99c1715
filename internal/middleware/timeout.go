package middleware

import (
	"context"
	"net/http"
	"time"
)

// DefaultRequestTimeout bounds an operational request, including dependency health checks
const DefaultRequestTimeout = 10 * time.Second

// Timeout cancels the request context after timeout and answers 503 if the handler has not finished
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), timeout)
			defer cancel()
			http.TimeoutHandler(next, timeout, "Request Timeout").ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
