package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerClassifier_TripsAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	oracle := &mockOracle{classifyFunc: func(context.Context, *ClassificationRequest) (*OracleResponse, error) {
		return nil, errors.New("503 service unavailable")
	}}
	cfg := DefaultBreakerConfig("test-trip")
	cfg.FailureThreshold = 3
	cfg.Timeout = time.Hour
	breaker := NewBreakerClassifier(oracle, cfg, nil)

	for i := 0; i < 3; i++ {
		if _, err := breaker.Classify(context.Background(), &ClassificationRequest{}); errors.Is(err, ErrOracleUnavailable) {
			t.Fatalf("call %d rejected before threshold", i)
		}
	}
	if breaker.State() != "open" {
		t.Fatalf("State() = %s, want open", breaker.State())
	}

	_, err := breaker.Classify(context.Background(), &ClassificationRequest{})
	if !errors.Is(err, ErrOracleUnavailable) {
		t.Errorf("expected ErrOracleUnavailable, got %v", err)
	}
	if oracle.callCount() != 3 {
		t.Errorf("open breaker should not reach the oracle, got %d calls", oracle.callCount())
	}
}

func TestBreakerClassifier_CancellationDoesNotTrip(t *testing.T) {
	t.Parallel()

	oracle := &mockOracle{classifyFunc: func(ctx context.Context, _ *ClassificationRequest) (*OracleResponse, error) {
		return nil, context.Canceled
	}}
	cfg := DefaultBreakerConfig("test-cancel")
	cfg.FailureThreshold = 1
	breaker := NewBreakerClassifier(oracle, cfg, nil)

	for i := 0; i < 3; i++ {
		_, _ = breaker.Classify(context.Background(), &ClassificationRequest{})
	}
	if breaker.State() != "closed" {
		t.Errorf("State() = %s, want closed", breaker.State())
	}
	if breaker.Name() != "mock" {
		t.Errorf("Name() = %s, want mock", breaker.Name())
	}
}

func TestBreakerClassifier_PassesThroughSuccess(t *testing.T) {
	t.Parallel()

	oracle := &mockOracle{classifyFunc: respondWith(`{"tags":[]}`)}
	breaker := NewBreakerClassifier(oracle, DefaultBreakerConfig(""), nil)
	resp, err := breaker.Classify(context.Background(), &ClassificationRequest{})
	if err != nil || resp.Content != `{"tags":[]}` {
		t.Errorf("Classify() = %+v, %v", resp, err)
	}
}
