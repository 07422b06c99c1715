package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig holds circuit breaker settings for an oracle
type BreakerConfig struct {
	Name             string
	MaxRequests      uint32        // requests allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open-state duration before half-open
	FailureThreshold uint32        // consecutive failures that trip the breaker
}

// DefaultBreakerConfig returns settings suited to a rate-limited LLM API
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      2,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerClassifier guards a ContentClassifier with a circuit breaker. While open,
// calls fail fast with ErrOracleUnavailable instead of waiting on a dead provider.
type BreakerClassifier struct {
	next ContentClassifier
	cb   *gobreaker.CircuitBreaker[*OracleResponse]
}

// NewBreakerClassifier wraps next
func NewBreakerClassifier(next ContentClassifier, cfg BreakerConfig, log *zap.Logger) *BreakerClassifier {
	log = logger.Component(log, "oracle_breaker")
	if cfg.Name == "" {
		cfg.Name = next.Name()
	}
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("oracle_breaker_state_changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			metrics.RecordBreakerState(name, int(to))
		},
		// Caller cancellation says nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}
	metrics.RecordBreakerState(cfg.Name, int(gobreaker.StateClosed))
	return &BreakerClassifier{
		next: next,
		cb:   gobreaker.NewCircuitBreaker[*OracleResponse](settings),
	}
}

// Name implements ContentClassifier
func (b *BreakerClassifier) Name() string { return b.next.Name() }

// State reports the breaker state
func (b *BreakerClassifier) State() string { return b.cb.State().String() }

// Classify implements ContentClassifier
func (b *BreakerClassifier) Classify(ctx context.Context, req *ClassificationRequest) (*OracleResponse, error) {
	resp, err := b.cb.Execute(func() (*OracleResponse, error) {
		return b.next.Classify(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	return resp, err
}
