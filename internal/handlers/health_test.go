package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type mockChecker struct {
	healthCheckFunc func(ctx context.Context) error
}

var _ Checker = (*mockChecker)(nil)

func (m *mockChecker) HealthCheck(ctx context.Context) error {
	if m.healthCheckFunc != nil {
		return m.healthCheckFunc(ctx)
	}
	return nil
}

func failing(msg string) *mockChecker {
	return &mockChecker{healthCheckFunc: func(context.Context) error { return errors.New(msg) }}
}

func TestHealthChecker_HealthCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		mode         string
		checks       map[string]Checker
		expectStatus string
		expectCode   int
		expectChecks map[string]string
	}{
		{
			name:         "basic mode skips checks",
			checks:       map[string]Checker{"database": failing("down")},
			expectStatus: "healthy",
			expectCode:   http.StatusOK,
		},
		{
			name:         "extended mode all healthy",
			mode:         "extended",
			checks:       map[string]Checker{"database": &mockChecker{}, "rabbitmq": &mockChecker{}},
			expectStatus: "healthy",
			expectCode:   http.StatusOK,
			expectChecks: map[string]string{"database": "healthy", "rabbitmq": "healthy"},
		},
		{
			name:         "not configured does not fail",
			mode:         "extended",
			checks:       map[string]Checker{"database": &mockChecker{}, "redis": nil},
			expectStatus: "healthy",
			expectCode:   http.StatusOK,
			expectChecks: map[string]string{"database": "healthy", "redis": "not configured"},
		},
		{
			name:         "failing dependency",
			mode:         "extended",
			checks:       map[string]Checker{"database": &mockChecker{}, "rabbitmq": failing("connection is closed")},
			expectStatus: "unhealthy",
			expectCode:   http.StatusServiceUnavailable,
			expectChecks: map[string]string{"database": "healthy", "rabbitmq": "unhealthy: connection is closed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := NewHealthChecker(nil)
			for name, c := range tt.checks {
				h.AddCheck(name, c)
			}

			url := "/healthz"
			if tt.mode != "" {
				url += "?mode=" + tt.mode
			}
			rr := httptest.NewRecorder()
			h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, url, nil))

			if rr.Code != tt.expectCode {
				t.Errorf("status code = %d, want %d", rr.Code, tt.expectCode)
			}
			var resp HealthResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("invalid response body: %v", err)
			}
			if resp.Status != tt.expectStatus {
				t.Errorf("status = %s, want %s", resp.Status, tt.expectStatus)
			}
			if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
				t.Errorf("timestamp %q is not RFC3339", resp.Timestamp)
			}
			if len(resp.Checks) != len(tt.expectChecks) {
				t.Fatalf("checks = %v, want %v", resp.Checks, tt.expectChecks)
			}
			for k, v := range tt.expectChecks {
				if resp.Checks[k] != v {
					t.Errorf("check[%s] = %q, want %q", k, resp.Checks[k], v)
				}
			}
		})
	}
}

func TestHealthChecker_CheckTimeout(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(nil).AddCheck("database", &mockChecker{healthCheckFunc: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	h.timeout = 20 * time.Millisecond

	rr := httptest.NewRecorder()
	h.HealthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz?mode=extended", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for hung dependency, got %d", rr.Code)
	}
}

func TestRouter(t *testing.T) {
	t.Parallel()

	h := NewHealthChecker(nil).AddCheck("queue", failing("closed"))
	r := NewRouter(h, RouterOptions{Version: "1.2.3", Gatherer: prometheus.NewRegistry()})

	tests := []struct {
		path       string
		method     string
		expectCode int
		contains   string
	}{
		{"/healthz", http.MethodGet, http.StatusOK, `"status":"healthy"`},
		{"/readyz", http.MethodGet, http.StatusServiceUnavailable, ""},
		{"/metrics", http.MethodGet, http.StatusOK, ""},
		{"/version", http.MethodGet, http.StatusOK, `"version":"1.2.3"`},
		{"/healthz", http.MethodPost, http.StatusMethodNotAllowed, ""},
		{"/unknown", http.MethodGet, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			t.Parallel()
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			if rr.Code != tt.expectCode {
				t.Errorf("status code = %d, want %d", rr.Code, tt.expectCode)
			}
			if tt.contains != "" && !strings.Contains(rr.Body.String(), tt.contains) {
				t.Errorf("body %q missing %q", rr.Body.String(), tt.contains)
			}
		})
	}
}

func TestRouter_InstrumentsRequests(t *testing.T) {
	r := NewRouter(NewHealthChecker(nil), RouterOptions{Version: "1.2.3", Gatherer: prometheus.NewRegistry()})

	counter := metrics.HTTPRequests.WithLabelValues("/version", "200")
	before := testutil.ToFloat64(counter)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/version", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rr.Code)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("request counter delta = %v, want 1", got)
	}
}
