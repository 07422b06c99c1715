// Package metrics holds the Prometheus collectors for classification, batching,
// analysis jobs and recommendation matching.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

var (
	// Oracle metrics
	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagmatch_oracle_request_duration_seconds",
			Help:    "Duration of classification oracle requests in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		},
		[]string{"provider", "outcome"},
	)

	OracleRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_oracle_retries_total",
			Help: "Total number of oracle requests retried after a rate limit",
		},
		[]string{"provider"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tagmatch_oracle_breaker_state",
			Help: "Oracle circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Classification metrics
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_classifications_total",
			Help: "Total number of classifications by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	TagsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_tags_dropped_total",
			Help: "Oracle tags removed during validation and filtering",
		},
		[]string{"reason"}, // "invalid", "ungated", "truncated", "below_threshold"
	)

	// Batch metrics
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagmatch_batch_classify_duration_seconds",
			Help:    "Duration of a BatchClassify run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
		[]string{"mode"},
	)

	BatchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_batch_items_total",
			Help: "Items processed by BatchClassify by outcome",
		},
		[]string{"mode", "outcome"},
	)

	// Analysis pipeline metrics
	AnalysisItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_analysis_items_total",
			Help: "Entities analyzed by the content analysis pipeline",
		},
		[]string{"kind", "outcome"},
	)

	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_jobs_processed_total",
			Help: "Queue jobs processed by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	// Recommendation metrics
	RecommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_recommendation_requests_total",
			Help: "Recommendation requests by kind, algorithm and result status",
		},
		[]string{"kind", "algorithm", "status"},
	)

	RecommendationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tagmatch_recommendation_duration_seconds",
			Help:    "Time spent matching a profile against a content pool",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Cache metrics
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_cache_requests_total",
			Help: "Cache lookups by cache name and result",
		},
		[]string{"cache", "result"}, // "hit", "miss", "error"
	)

	// Operational HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagmatch_http_requests_total",
			Help: "Requests served by the worker's operational HTTP server",
		},
		[]string{"route", "code"},
	)

	// Dead-letter queue housekeeping
	DLQPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tagmatch_dlq_purged_total",
			Help: "Dead-lettered analysis jobs removed after their retention period",
		},
	)
)

func outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// RecordOracleRequest records one oracle call
func RecordOracleRequest(provider string, duration time.Duration, err error) {
	OracleRequestDuration.WithLabelValues(provider, outcome(err)).Observe(duration.Seconds())
}

// RecordClassification records the outcome of one classification
func RecordClassification(mode string, err error) {
	ClassificationsTotal.WithLabelValues(mode, outcome(err)).Inc()
}

// RecordDroppedTags adds n dropped tags for reason
func RecordDroppedTags(reason string, n int) {
	if n > 0 {
		TagsDropped.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordBatch records a finished BatchClassify run
func RecordBatch(mode string, duration time.Duration, succeeded, failed int) {
	BatchDuration.WithLabelValues(mode).Observe(duration.Seconds())
	BatchItems.WithLabelValues(mode, OutcomeSuccess).Add(float64(succeeded))
	BatchItems.WithLabelValues(mode, OutcomeFailure).Add(float64(failed))
}

// RecordBreakerState publishes a breaker state as 0, 1 or 2
func RecordBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordRecommendation records one matching call
func RecordRecommendation(kind, algorithm, status string, duration time.Duration) {
	RecommendationsTotal.WithLabelValues(kind, algorithm, status).Inc()
	RecommendationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordCacheResult records a cache hit, miss or error
func RecordCacheResult(cache, result string) {
	CacheRequests.WithLabelValues(cache, result).Inc()
}

// RecordHTTPRequest counts one served request
func RecordHTTPRequest(route string, code int) {
	HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

// RecordDLQPurge adds n purged dead-letter messages
func RecordDLQPurge(n int) {
	if n > 0 {
		DLQPurged.Add(float64(n))
	}
}
