package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/queue"
	"go.uber.org/zap"
)

// Reprocessor periodically schedules reanalysis of stale content
type Reprocessor struct {
	jobQueue queue.JobQueue
	interval time.Duration
	kinds    []models.ContentKind
	logger   *zap.Logger
	now      func() time.Time
}

// NewReprocessor creates a reprocessor scheduling every content kind each interval
func NewReprocessor(jobQueue queue.JobQueue, interval time.Duration, log *zap.Logger) *Reprocessor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Reprocessor{
		jobQueue: jobQueue,
		interval: interval,
		kinds:    models.ContentKinds,
		logger:   logger.Component(log, "reprocessor"),
		now:      time.Now,
	}
}

// Start schedules immediately and then on every tick until ctx is done.
func (r *Reprocessor) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if err := r.ScheduleReprocessingJobs(ctx); err != nil {
		r.logger.Warn("reprocessing_schedule_failed", zap.String("error", logger.SanitizeError(err)))
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.ScheduleReprocessingJobs(ctx); err != nil {
				r.logger.Warn("reprocessing_schedule_failed", zap.String("error", logger.SanitizeError(err)))
			}
		}
	}
}

// ScheduleReprocessingJobs enqueues one reanalyze_content job per kind. Each
// job expires at the next tick so a backlog never piles up duplicate passes.
func (r *Reprocessor) ScheduleReprocessingJobs(ctx context.Context) error {
	notAfter := r.now().Add(r.interval)
	scheduled := 0
	var firstErr error
	for _, kind := range r.kinds {
		job := queue.NewReanalyzeContentJob(kind)
		job.NotAfter = &notAfter
		if err := r.jobQueue.Enqueue(ctx, job); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to enqueue reanalysis of %s: %w", kind, err)
			}
			continue
		}
		scheduled++
	}
	r.logger.Info("scheduled_reprocessing_jobs",
		zap.Int("scheduled", scheduled),
		zap.Int("kinds", len(r.kinds)),
		zap.Time("not_after", notAfter),
	)
	return firstErr
}
