package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/benvon/tagmatch/internal/queue"
	"github.com/benvon/tagmatch/internal/services/ai"
	"go.uber.org/zap"
)

// JobProcessor processes one job. A returned error triggers retry handling.
type JobProcessor func(ctx context.Context, job *queue.Job) error

type processorEntry struct {
	proc JobProcessor
	// useHandleJobError enables delayed re-enqueue on failure; otherwise failures go to the DLQ.
	useHandleJobError bool
}

// JobRunner dispatches queue messages to processors registered by job type.
type JobRunner struct {
	jobQueue queue.JobQueue
	registry map[queue.JobType]processorEntry
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	// notReadyBackoff bounds how often a job delivered before its NotBefore is requeued.
	notReadyBackoff time.Duration
}

// DefaultNotReadyBackoff is the wait before requeueing a job that is not due yet
const DefaultNotReadyBackoff = 5 * time.Second

// NewJobRunner creates a runner with no processors. jobQueue is used for
// consuming and for delayed re-enqueue; it may be nil when only ProcessJob is used.
func NewJobRunner(jobQueue queue.JobQueue, log *zap.Logger) *JobRunner {
	return &JobRunner{
		jobQueue: jobQueue,
		registry: make(map[queue.JobType]processorEntry),
		logger:   logger.Component(log, "job_runner"),
		now:      time.Now,
		sleep:    sleepContext,

		notReadyBackoff: DefaultNotReadyBackoff,
	}
}

// NewAnalysisJobRunner creates a runner with the analyzer's processors registered
func NewAnalysisJobRunner(jobQueue queue.JobQueue, analyzer *ContentAnalyzer, log *zap.Logger) *JobRunner {
	r := NewJobRunner(jobQueue, log)
	r.RegisterProcessor(queue.JobTypeReanalyzeContent, analyzer.ProcessReanalyzeContentJob, true)
	r.RegisterProcessor(queue.JobTypeAnalyzeInterest, analyzer.ProcessAnalyzeInterestJob, true)
	return r
}

// RegisterProcessor registers a processor for a job type.
func (r *JobRunner) RegisterProcessor(typ queue.JobType, proc JobProcessor, useHandleJobError bool) {
	r.registry[typ] = processorEntry{proc: proc, useHandleJobError: useHandleJobError}
}

// Run consumes jobs until ctx is done or the delivery channel closes.
func (r *JobRunner) Run(ctx context.Context, prefetch int) error {
	if r.jobQueue == nil {
		return fmt.Errorf("job queue is required")
	}
	msgs, errs, err := r.jobQueue.Consume(ctx, prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	r.logger.Info("job_runner_started", zap.Int("prefetch", prefetch))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job_runner_stopped")
			return nil
		case err, ok := <-errs:
			if ok && err != nil {
				return fmt.Errorf("consumer failed: %w", err)
			}
			errs = nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("delivery channel closed")
			}
			if err := r.ProcessJob(ctx, msg); err != nil {
				r.logger.Debug("job_processing_returned_error", zap.String("error", logger.SanitizeError(err)))
			}
		}
	}
}

// ProcessJob processes a job based on its type using the processor registry.
func (r *JobRunner) ProcessJob(ctx context.Context, msg queue.MessageInterface) error {
	job := msg.GetJob()
	jobID := job.ID.String()

	if !job.ShouldProcess() {
		fields := []zap.Field{zap.String("job_id", jobID), zap.String("job_type", string(job.Type))}
		if job.IsExpired() {
			r.logger.Info("job_expired", fields...)
			metrics.JobsProcessed.WithLabelValues(string(job.Type), "expired").Inc()
			if ackErr := msg.Ack(); ackErr != nil {
				r.logger.Warn("failed_to_ack_expired_job", append(fields, zap.String("error", logger.SanitizeError(ackErr)))...)
			}
			return nil
		}
		if !r.waitUntilDue(ctx, msg, job, fields) {
			return nil
		}
	}

	ent, ok := r.registry[job.Type]
	if !ok {
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "unknown").Inc()
		if nackErr := msg.Nack(false); nackErr != nil {
			r.logger.Error("failed_to_nack_unknown_job_type",
				zap.String("job_id", jobID),
				zap.String("job_type", string(job.Type)),
				zap.String("error", logger.SanitizeError(nackErr)),
			)
		}
		return fmt.Errorf("unknown job type: %s", job.Type)
	}

	if job.UserID != "" {
		ctx = ai.WithUserID(ctx, job.UserID)
	}
	ctx = ai.WithJobID(ctx, jobID)

	start := r.now()
	if err := ent.proc(ctx, job); err != nil {
		metrics.JobsProcessed.WithLabelValues(string(job.Type), metrics.OutcomeFailure).Inc()
		r.logger.Error("analysis_job_failed",
			zap.String("operation", "process_job"),
			zap.String("job_id", jobID),
			zap.String("job_type", string(job.Type)),
			zap.String("user_id", logger.SanitizeUserID(job.UserID)),
			zap.Int("retry_count", job.RetryCount),
			zap.String("error", logger.SanitizeError(err)),
		)
		if ent.useHandleJobError {
			return r.handleJobError(ctx, msg, job, err)
		}
		if nackErr := msg.Nack(false); nackErr != nil {
			r.logger.Warn("failed_to_nack_job", zap.String("job_id", jobID), zap.String("error", logger.SanitizeError(nackErr)))
		}
		return fmt.Errorf("%s job failed: %w", job.Type, err)
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Type), metrics.OutcomeSuccess).Inc()
	r.logger.Info("analysis_job_completed",
		zap.String("job_id", jobID),
		zap.String("job_type", string(job.Type)),
		zap.Duration("duration", r.now().Sub(start)),
	)
	if ackErr := msg.Ack(); ackErr != nil {
		return fmt.Errorf("failed to ack %s job: %w", job.Type, ackErr)
	}
	return nil
}

// waitUntilDue holds a job delivered before its NotBefore. A job that falls due
// within notReadyBackoff is kept for processing. Any other job is requeued after
// waiting notReadyBackoff, at most one requeue per backoff.
func (r *JobRunner) waitUntilDue(ctx context.Context, msg queue.MessageInterface, job *queue.Job, fields []zap.Field) bool {
	wait := r.notReadyBackoff
	due := false
	if job.NotBefore != nil {
		fields = append(fields, zap.Time("not_before", *job.NotBefore))
		if remaining := job.NotBefore.Sub(r.now()); remaining <= wait {
			wait, due = remaining, true
		}
	}
	r.logger.Debug("job_not_ready", append(fields, zap.Duration("wait", wait), zap.Bool("due_after_wait", due))...)

	if err := r.sleep(ctx, wait); err == nil && due {
		return true
	}
	if nackErr := msg.Nack(true); nackErr != nil {
		r.logger.Warn("failed_to_requeue_job_for_later_processing", append(fields, zap.String("error", logger.SanitizeError(nackErr)))...)
	}
	return false
}

// handleJobError retries a failed job through a delayed copy carrying the
// incremented retry count, or dead-letters it once the budget is spent.
// Quota errors wait for the provider reset; everything else backs off.
func (r *JobRunner) handleJobError(ctx context.Context, msg queue.MessageInterface, job *queue.Job, err error) error {
	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", string(job.Type)),
		zap.Int("retry_count", job.RetryCount),
		zap.Int("max_retries", job.MaxRetries),
	}

	if errors.Is(err, context.Canceled) {
		// Shutdown mid-job: hand the message back untouched
		if nackErr := msg.Nack(true); nackErr != nil {
			r.logger.Warn("failed_to_requeue_cancelled_job", append(fields, zap.String("error", logger.SanitizeError(nackErr)))...)
		}
		return fmt.Errorf("%s job interrupted: %w", job.Type, err)
	}

	if !job.CanRetry() || r.jobQueue == nil {
		r.logger.Warn("job_dead_lettered", append(fields, zap.String("error", logger.SanitizeError(err)))...)
		metrics.JobsProcessed.WithLabelValues(string(job.Type), "dead_lettered").Inc()
		if nackErr := msg.Nack(false); nackErr != nil {
			r.logger.Warn("failed_to_nack_job_to_dlq", append(fields, zap.String("error", logger.SanitizeError(nackErr)))...)
		}
		return fmt.Errorf("%s job failed (max retries): %w", job.Type, err)
	}

	reason := "error"
	switch {
	case ai.IsQuotaError(err):
		reason = "quota_exhausted"
	case ai.IsRateLimitError(err):
		reason = "rate_limited"
	}
	retryDelay := ai.GetRetryDelay(err, job.RetryCount)
	notBefore := r.now().Add(retryDelay)
	delayed := job.Delayed(notBefore)

	if enqueueErr := r.jobQueue.Enqueue(ctx, delayed); enqueueErr != nil {
		r.logger.Warn("failed_to_reenqueue_job", append(fields, zap.String("error", logger.SanitizeError(enqueueErr)))...)
		if nackErr := msg.Nack(true); nackErr != nil {
			r.logger.Warn("failed_to_nack_job", append(fields, zap.String("error", logger.SanitizeError(nackErr)))...)
		}
		return fmt.Errorf("%s job failed, re-enqueue failed: %w", job.Type, enqueueErr)
	}
	if ackErr := msg.Ack(); ackErr != nil {
		r.logger.Warn("failed_to_ack_job_after_reenqueue", append(fields, zap.String("error", logger.SanitizeError(ackErr)))...)
	}

	metrics.JobsProcessed.WithLabelValues(string(job.Type), "retried").Inc()
	r.logger.Info("job_rescheduled", append(fields,
		zap.String("reason", reason),
		zap.Duration("retry_in", retryDelay),
		zap.Time("not_before", notBefore),
	)...)
	return fmt.Errorf("%s job failed (will retry): %w", job.Type, err)
}
