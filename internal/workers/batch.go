package workers

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/benvon/tagmatch/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/benvon/tagmatch/internal/workers"

var errNoClassifier = errors.New("no classifier configured")

// Classifier classifies a single subject. *ai.Tagger implements it.
type Classifier interface {
	Classify(ctx context.Context, subject models.ClassificationSubject) (*models.ClassificationResult, error)
}

// BatchOptions controls batch sizing and pacing
type BatchOptions struct {
	ContentBatchSize  int
	InterestBatchSize int
	// Stagger is the per-position dispatch offset inside a batch.
	Stagger time.Duration
	// Delay is the pause between consecutive batches.
	Delay time.Duration
}

// DefaultBatchOptions returns the default pacing
func DefaultBatchOptions() BatchOptions {
	return BatchOptions{
		ContentBatchSize:  8,
		InterestBatchSize: 3,
		Stagger:           50 * time.Millisecond,
		Delay:             2 * time.Second,
	}
}

// BatchClassifier drives a Classifier over many subjects in small, paced batches.
type BatchClassifier struct {
	classifier Classifier
	opts       BatchOptions
	logger     *zap.Logger
	tracer     trace.Tracer
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewBatchClassifier creates a BatchClassifier. Non-positive batch sizes fall back to the defaults.
func NewBatchClassifier(classifier Classifier, opts BatchOptions, log *zap.Logger) *BatchClassifier {
	defaults := DefaultBatchOptions()
	if opts.ContentBatchSize <= 0 {
		opts.ContentBatchSize = defaults.ContentBatchSize
	}
	if opts.InterestBatchSize <= 0 {
		opts.InterestBatchSize = defaults.InterestBatchSize
	}
	return &BatchClassifier{
		classifier: classifier,
		opts:       opts,
		logger:     logger.Component(log, "batch_classifier"),
		tracer:     otel.Tracer(tracerName),
		sleep:      sleepContext,
	}
}

// BatchSize returns the batch size used for mode
func (b *BatchClassifier) BatchSize(mode models.ClassificationMode) int {
	if mode == models.ModeInterest {
		return b.opts.InterestBatchSize
	}
	return b.opts.ContentBatchSize
}

// BatchClassify classifies subjects and returns one slot per subject in input order.
// A slot is nil when that subject failed or was never started because ctx ended.
// Per-item errors are logged, never returned.
func (b *BatchClassifier) BatchClassify(ctx context.Context, mode models.ClassificationMode, subjects []models.ClassificationSubject) []*models.ClassificationResult {
	results := make([]*models.ClassificationResult, len(subjects))
	if len(subjects) == 0 {
		return results
	}

	size := b.BatchSize(mode)
	batches := (len(subjects) + size - 1) / size
	ctx, span := b.tracer.Start(ctx, "workers.batch_classify", trace.WithAttributes(
		attribute.String("batch.mode", string(mode)),
		attribute.Int("batch.items", len(subjects)),
		attribute.Int("batch.size", size),
	))
	defer span.End()

	start := time.Now()
	b.logger.Info("batch_classify_started",
		zap.String("mode", string(mode)),
		zap.Int("items", len(subjects)),
		zap.Int("batches", batches),
		zap.Int("batch_size", size),
	)

	for first := 0; first < len(subjects); first += size {
		if ctx.Err() != nil {
			break
		}
		last := min(first+size, len(subjects))
		b.runBatch(ctx, mode, subjects, results, first, last)

		if last < len(subjects) {
			if err := b.sleep(ctx, b.opts.Delay); err != nil {
				break
			}
		}
	}

	succeeded := 0
	for _, r := range results {
		if r != nil {
			succeeded++
		}
	}
	failed := len(results) - succeeded
	metrics.RecordBatch(string(mode), time.Since(start), succeeded, failed)
	span.SetAttributes(attribute.Int("batch.succeeded", succeeded), attribute.Int("batch.failed", failed))

	fields := []zap.Field{
		zap.String("mode", string(mode)),
		zap.Int("items", len(subjects)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	}
	if ctx.Err() != nil {
		b.logger.Warn("batch_classify_interrupted", append(fields, zap.Error(ctx.Err()))...)
	} else {
		b.logger.Info("batch_classify_completed", fields...)
	}
	return results
}

// Classify classifies one subject without batching and returns its error.
func (b *BatchClassifier) Classify(ctx context.Context, subject models.ClassificationSubject) (*models.ClassificationResult, error) {
	if b.classifier == nil {
		return nil, errNoClassifier
	}
	return b.classifier.Classify(ctx, subject)
}

// runBatch classifies subjects[first:last] concurrently and writes each result to its own slot.
func (b *BatchClassifier) runBatch(ctx context.Context, mode models.ClassificationMode, subjects []models.ClassificationSubject, results []*models.ClassificationResult, first, last int) {
	var g errgroup.Group
	g.SetLimit(last - first)

	for i := first; i < last; i++ {
		offset := i - first
		g.Go(func() error {
			if offset > 0 {
				if err := b.sleep(ctx, time.Duration(offset)*b.opts.Stagger); err != nil {
					return nil
				}
			}
			results[i] = b.classifyOne(ctx, mode, i, subjects[i])
			return nil
		})
	}
	_ = g.Wait()
}

func (b *BatchClassifier) classifyOne(ctx context.Context, mode models.ClassificationMode, index int, subject models.ClassificationSubject) *models.ClassificationResult {
	if subject == nil {
		b.logger.Warn("batch_item_failed", zap.String("mode", string(mode)), zap.Int("index", index), zap.String("error", "nil subject"))
		return nil
	}
	res, err := b.Classify(ctx, subject)
	if err != nil {
		b.logger.Warn("batch_item_failed",
			zap.String("mode", string(mode)),
			zap.Int("index", index),
			zap.String("error", logger.SanitizeError(err)),
		)
		return nil
	}
	return res
}

// sleepContext waits for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
