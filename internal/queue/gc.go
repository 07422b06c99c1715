package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"go.uber.org/zap"
)

const (
	defaultGCInterval = time.Hour
	gcPurgeTimeout    = 2 * time.Minute
)

// GarbageCollector drops dead-lettered analysis jobs once they outlive the retention period.
type GarbageCollector struct {
	purger    DLQPurger
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
}

// NewGarbageCollector creates a collector. A nil purger makes every pass a no-op.
func NewGarbageCollector(purger DLQPurger, interval, retention time.Duration, log *zap.Logger) *GarbageCollector {
	if interval <= 0 {
		interval = defaultGCInterval
	}
	return &GarbageCollector{
		purger:    purger,
		interval:  interval,
		retention: retention,
		logger:    logger.Component(log, "dlq_gc"),
	}
}

// Start runs a pass every interval until ctx is cancelled
func (gc *GarbageCollector) Start(ctx context.Context) error {
	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := gc.collect(ctx); err != nil {
				gc.logger.Warn("dlq_gc_failed", zap.String("error", logger.SanitizeError(err)))
			}
		}
	}
}

// collect runs one purge pass and returns the number of removed jobs
func (gc *GarbageCollector) collect(ctx context.Context) (int, error) {
	if gc.purger == nil || gc.retention <= 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, gcPurgeTimeout)
	defer cancel()

	n, err := gc.purger.PurgeOlderThan(ctx, gc.retention)
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead-lettered jobs: %w", err)
	}
	metrics.RecordDLQPurge(n)
	if n > 0 {
		gc.logger.Info("dlq_gc_purged",
			zap.Int("purged", n),
			zap.Duration("retention", gc.retention),
		)
	}
	return n, nil
}
