package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/taxonomy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/benvon/tagmatch/internal/services/ai"

	// MaxInterestTags caps the interest tag list regardless of MaxTagsPerItem
	MaxInterestTags = 7
)

// TaggerOptions configures classification policy
type TaggerOptions struct {
	// PrimaryThreshold is the weight a primary tag needs before its secondary tags count.
	PrimaryThreshold float64
	// ConfidenceThreshold removes any output tag weighted below it.
	ConfidenceThreshold float64
	// MaxTagsPerItem caps content tags; interests get two more, up to MaxInterestTags.
	MaxTagsPerItem int
	// SecondarySample is how many secondary tags per primary are listed in prompts (0 = all).
	SecondarySample int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
}

// DefaultTaggerOptions returns the default policy
func DefaultTaggerOptions() TaggerOptions {
	return TaggerOptions{
		PrimaryThreshold:    0.7,
		ConfidenceThreshold: 0.7,
		MaxTagsPerItem:      5,
		SecondarySample:     8,
		MaxRetries:          3,
		RetryBaseDelay:      time.Second,
		RetryMaxDelay:       30 * time.Second,
	}
}

// Tagger turns subjects into filtered weighted tags using a ContentClassifier.
// It performs no persistence and is safe for concurrent use.
type Tagger struct {
	oracle  ContentClassifier
	mapping *taxonomy.Mapping
	opts    TaggerOptions
	logger  *zap.Logger
	tracer  trace.Tracer
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewTagger creates a Tagger. A nil oracle or empty mapping is reported as
// ClassificationFailed on every call rather than at construction.
func NewTagger(oracle ContentClassifier, mapping *taxonomy.Mapping, opts TaggerOptions, log *zap.Logger) *Tagger {
	if opts.MaxTagsPerItem <= 0 {
		opts.MaxTagsPerItem = DefaultTaggerOptions().MaxTagsPerItem
	}
	return &Tagger{
		oracle:  oracle,
		mapping: mapping,
		opts:    opts,
		logger:  logger.Component(log, "tagger"),
		tracer:  otel.Tracer(tracerName),
		sleep:   sleepContext,
	}
}

// Mapping returns the taxonomy mapping the tagger classifies against
func (t *Tagger) Mapping() *taxonomy.Mapping { return t.mapping }

// MaxTags returns the tag cap for mode
func (t *Tagger) MaxTags(mode models.ClassificationMode) int {
	if mode == models.ModeInterest {
		return min(t.opts.MaxTagsPerItem+2, MaxInterestTags)
	}
	return t.opts.MaxTagsPerItem
}

// ClassifyContent classifies an event, organization or lab
func (t *Tagger) ClassifyContent(ctx context.Context, subject models.ContentSubject) (*models.ClassificationResult, error) {
	return t.classify(ctx, subject)
}

// ClassifyInterest classifies a user interest. SuggestedLabel falls back to the keyword.
func (t *Tagger) ClassifyInterest(ctx context.Context, subject models.InterestSubject) (*models.ClassificationResult, error) {
	return t.classify(ctx, subject)
}

// Classify dispatches on the subject variant
func (t *Tagger) Classify(ctx context.Context, subject models.ClassificationSubject) (*models.ClassificationResult, error) {
	switch s := subject.(type) {
	case models.ContentSubject:
		return t.ClassifyContent(ctx, s)
	case models.InterestSubject:
		return t.ClassifyInterest(ctx, s)
	default:
		return nil, classificationFailed("", fmt.Errorf("unsupported subject type %T", subject))
	}
}

func (t *Tagger) classify(ctx context.Context, subject models.ClassificationSubject) (*models.ClassificationResult, error) {
	mode := subject.Mode()
	ctx, span := t.tracer.Start(ctx, "ai.classify", trace.WithAttributes(attribute.String("classify.mode", string(mode))))
	defer span.End()

	result, err := t.run(ctx, subject)
	metrics.RecordClassification(string(mode), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "classification failed")
		t.logger.Warn("classification_failed", append(contextFields(ctx),
			zap.String("mode", string(mode)),
			zap.String("error", logger.SanitizeError(err)),
		)...)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("classify.tags", len(result.Tags)),
		attribute.Float64("classify.confidence", result.OverallConfidence),
	)
	return result, nil
}

func (t *Tagger) run(ctx context.Context, subject models.ClassificationSubject) (*models.ClassificationResult, error) {
	mode := subject.Mode()
	if t.oracle == nil {
		return nil, classificationFailed(mode, fmt.Errorf("no oracle configured"))
	}
	if t.mapping == nil || t.mapping.Len() == 0 {
		return nil, classificationFailed(mode, ErrEmptyTaxonomy)
	}

	maxTags := t.MaxTags(mode)
	req, err := buildRequest(t.mapping, subject, promptOptions{
		primaryThreshold:    t.opts.PrimaryThreshold,
		confidenceThreshold: t.opts.ConfidenceThreshold,
		maxTags:             maxTags,
		secondarySample:     t.opts.SecondarySample,
	})
	if err != nil {
		return nil, classificationFailed(mode, err)
	}

	resp, err := t.callOracle(ctx, req)
	if err != nil {
		return nil, classificationFailed(mode, err)
	}

	raw, err := decodeResponse(resp.Content)
	if err != nil {
		return nil, classificationFailed(mode, err)
	}

	tags, stats := normalizeTags(t.mapping, raw.Tags, t.opts.PrimaryThreshold, t.opts.ConfidenceThreshold, maxTags)
	stats.invalid += raw.InvalidEntries
	metrics.RecordDroppedTags("invalid", stats.invalid)
	metrics.RecordDroppedTags("ungated", stats.ungated)
	metrics.RecordDroppedTags("truncated", stats.truncated)
	metrics.RecordDroppedTags("below_threshold", stats.belowThreshold)

	result := &models.ClassificationResult{
		Tags:              tags,
		OverallConfidence: raw.OverallConfidence,
	}
	if s, ok := subject.(models.InterestSubject); ok {
		result.SuggestedLabel = raw.SuggestedName
		if result.SuggestedLabel == "" {
			result.SuggestedLabel = s.Keyword
		}
	}

	t.logger.Debug("classification_completed", append(contextFields(ctx),
		zap.String("mode", string(mode)),
		zap.String("model", resp.Model),
		zap.Int("oracle_tags", len(raw.Tags)+raw.InvalidEntries),
		zap.Int("kept_tags", len(tags)),
		zap.Int("invalid_tags", stats.invalid),
		zap.Int("ungated_tags", stats.ungated),
		zap.Int("truncated_tags", stats.truncated),
		zap.Int("below_threshold_tags", stats.belowThreshold),
		zap.Float64("overall_confidence", result.OverallConfidence),
	)...)

	return result, nil
}

// callOracle invokes the oracle, retrying rate-limited calls with backoff.
func (t *Tagger) callOracle(ctx context.Context, req *ClassificationRequest) (*OracleResponse, error) {
	provider := t.oracle.Name()
	for attempt := 0; ; attempt++ {
		start := time.Now()
		resp, err := t.oracle.Classify(ctx, req)
		metrics.RecordOracleRequest(provider, time.Since(start), err)
		if err == nil {
			if resp == nil || resp.Content == "" {
				return nil, ErrEmptyResponse
			}
			return resp, nil
		}

		if attempt >= t.opts.MaxRetries || ctx.Err() != nil || IsQuotaError(err) || !IsRateLimitError(err) {
			return nil, err
		}

		delay := BackoffDelay(err, attempt, t.opts.RetryBaseDelay, t.opts.RetryMaxDelay)
		t.logger.Warn("oracle_rate_limited", append(contextFields(ctx),
			zap.String("provider", provider),
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", t.opts.MaxRetries),
			zap.Duration("retry_in", delay),
		)...)
		metrics.OracleRetries.WithLabelValues(provider).Inc()
		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
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
