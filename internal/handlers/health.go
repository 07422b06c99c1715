package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"go.uber.org/zap"
)

const (
	statusHealthy       = "healthy"
	statusUnhealthy     = "unhealthy"
	statusNotConfigured = "not configured"

	defaultCheckTimeout = 5 * time.Second
)

// Checker is a dependency that can report its health. The stores, the Redis
// cache and the RabbitMQ queue all implement it.
type Checker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker Checker
}

// HealthChecker handles health check requests
type HealthChecker struct {
	checks  []namedCheck
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewHealthChecker creates a health checker with no dependency checks
func NewHealthChecker(log *zap.Logger) *HealthChecker {
	return &HealthChecker{
		timeout: defaultCheckTimeout,
		logger:  logger.Component(log, "health"),
		now:     time.Now,
	}
}

// AddCheck registers a named dependency. A nil checker is reported as "not configured".
func (h *HealthChecker) AddCheck(name string, c Checker) *HealthChecker {
	h.checks = append(h.checks, namedCheck{name: name, checker: c})
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck handles /healthz. The basic mode only reports that the process is
// serving; ?mode=extended runs every dependency check.
func (h *HealthChecker) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    statusHealthy,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	}
	if r.URL.Query().Get("mode") != "extended" {
		writeJSON(w, http.StatusOK, response)
		return
	}

	response.Checks = h.runChecks(r.Context())
	for _, v := range response.Checks {
		if v != statusHealthy && v != statusNotConfigured {
			response.Status = statusUnhealthy
		}
	}
	code := http.StatusOK
	if response.Status == statusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

// Ready handles /readyz: 200 when every configured dependency is healthy.
func (h *HealthChecker) Ready(w http.ResponseWriter, r *http.Request) {
	for name, v := range h.runChecks(r.Context()) {
		if v != statusHealthy && v != statusNotConfigured {
			h.logger.Warn("readiness_check_failed", zap.String("check", name), zap.String("result", v))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *HealthChecker) runChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]string, len(h.checks))
	)
	for _, c := range h.checks {
		if c.checker == nil {
			out[c.name] = statusNotConfigured
			continue
		}
		wg.Add(1)
		go func(c namedCheck) {
			defer wg.Done()
			result := statusHealthy
			if err := c.checker.HealthCheck(ctx); err != nil {
				result = statusUnhealthy + ": " + logger.SanitizeError(err)
			}
			mu.Lock()
			out[c.name] = result
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
