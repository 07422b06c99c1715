package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/database"
	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/queue"
	"github.com/benvon/tagmatch/internal/services/ai"
	"go.uber.org/zap"
)

// ErrAllItemsFailed is returned by the reanalysis job when every selected entity failed
var ErrAllItemsFailed = errors.New("all entities failed classification")

// AnalysisStore is the part of the tag store the analyzer needs
type AnalysisStore interface {
	database.EntityStore
	database.InterestStore
}

// CacheInvalidator drops cached data derived from interests or entity tags
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
	InvalidateKind(ctx context.Context, kind models.ContentKind) (int, error)
}

// AnalyzerOptions controls which entities are selected and how results are stamped
type AnalyzerOptions struct {
	StaleAfter      time.Duration
	Limit           int
	AnalyzerVersion string
}

// DefaultAnalyzerOptions returns weekly reanalysis of up to 50 entities per pass
func DefaultAnalyzerOptions() AnalyzerOptions {
	return AnalyzerOptions{
		StaleAfter:      7 * 24 * time.Hour,
		Limit:           50,
		AnalyzerVersion: "tagmatch-v1",
	}
}

// AnalysisReport summarizes one AnalyzeStale pass
type AnalysisReport struct {
	Kind      models.ContentKind `json:"kind"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	FailedIDs []int64            `json:"failedIds,omitempty"`
	Duration  time.Duration      `json:"duration"`
}

// ContentAnalyzer classifies stored entities and interests and writes their tags back.
type ContentAnalyzer struct {
	store   AnalysisStore
	batcher *BatchClassifier
	cache   CacheInvalidator
	opts    AnalyzerOptions
	logger  *zap.Logger
	now     func() time.Time
}

// NewContentAnalyzer creates a ContentAnalyzer. cache may be nil.
func NewContentAnalyzer(store AnalysisStore, batcher *BatchClassifier, cache CacheInvalidator, opts AnalyzerOptions, log *zap.Logger) *ContentAnalyzer {
	defaults := DefaultAnalyzerOptions()
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaults.StaleAfter
	}
	if opts.Limit <= 0 {
		opts.Limit = defaults.Limit
	}
	if opts.AnalyzerVersion == "" {
		opts.AnalyzerVersion = defaults.AnalyzerVersion
	}
	return &ContentAnalyzer{
		store:   store,
		batcher: batcher,
		cache:   cache,
		opts:    opts,
		logger:  logger.Component(log, "content_analyzer"),
		now:     time.Now,
	}
}

// AnalyzeStale classifies entities of kind that were never analyzed or went stale
// and replaces their tags. Entities that fail keep their previous tags and
// analysis timestamp, so the next pass selects them again. Store errors abort the
// pass and are returned together with the partial report.
func (a *ContentAnalyzer) AnalyzeStale(ctx context.Context, kind models.ContentKind) (*AnalysisReport, error) {
	start := a.now()
	cutoff := start.Add(-a.opts.StaleAfter)

	entities, err := a.store.GetTaggedEntities(ctx, kind, database.NeedsAnalysisBefore(cutoff, a.opts.Limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities needing analysis: %w", kind, err)
	}

	report := &AnalysisReport{Kind: kind, Total: len(entities)}
	if len(entities) == 0 {
		a.logger.Debug("content_analysis_nothing_to_do", zap.String("kind", string(kind)))
		return report, nil
	}

	a.logger.Info("content_analysis_started",
		zap.String("kind", string(kind)),
		zap.Int("entities", len(entities)),
		zap.Time("stale_before", cutoff),
	)

	subjects := make([]models.ClassificationSubject, len(entities))
	for i := range entities {
		subjects[i] = entities[i].Subject()
	}
	results := a.batcher.BatchClassify(ctx, models.ModeContent, subjects)

	for i, res := range results {
		e := &entities[i]
		if res == nil {
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, e.ID)
			metrics.AnalysisItems.WithLabelValues(string(kind), metrics.OutcomeFailure).Inc()
			continue
		}
		if err := a.store.SaveTags(ctx, kind, e.ID, res.Tags, a.opts.AnalyzerVersion, a.now()); err != nil {
			report.Duration = a.now().Sub(start)
			return report, fmt.Errorf("failed to save tags for %s %d: %w", kind, e.ID, err)
		}
		report.Succeeded++
		metrics.AnalysisItems.WithLabelValues(string(kind), metrics.OutcomeSuccess).Inc()
		a.logger.Debug("entity_tags_saved",
			zap.String("kind", string(kind)),
			zap.Int64("entity_id", e.ID),
			zap.Int("tags", len(res.Tags)),
			zap.Float64("overall_confidence", res.OverallConfidence),
		)
	}

	if report.Succeeded > 0 && a.cache != nil {
		if _, err := a.cache.InvalidateKind(ctx, kind); err != nil {
			a.logger.Warn("recommendation_cache_invalidation_failed",
				zap.String("kind", string(kind)),
				zap.String("error", logger.SanitizeError(err)),
			)
		}
	}

	report.Duration = a.now().Sub(start)
	a.logger.Info("content_analysis_completed",
		zap.String("kind", string(kind)),
		zap.Int("total", report.Total),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int64s("failed_ids", report.FailedIDs),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// AnalyzeInterest classifies a single interest, stores its linked tags and
// suggested label, and drops the owner's cached profile.
func (a *ContentAnalyzer) AnalyzeInterest(ctx context.Context, interest *models.Interest) (*models.ClassificationResult, error) {
	if interest == nil {
		return nil, fmt.Errorf("interest is required")
	}
	ctx = ai.WithEntityID(ctx, interest.ID)
	res, err := a.batcher.Classify(ctx, interest.Subject(nil))
	if err != nil {
		metrics.AnalysisItems.WithLabelValues("interest", metrics.OutcomeFailure).Inc()
		return nil, fmt.Errorf("failed to classify interest %d: %w", interest.ID, err)
	}

	if err := a.store.SaveInterestTags(ctx, interest.ID, res.Tags, res.SuggestedLabel, a.opts.AnalyzerVersion, a.now()); err != nil {
		return nil, fmt.Errorf("failed to save tags for interest %d: %w", interest.ID, err)
	}
	metrics.AnalysisItems.WithLabelValues("interest", metrics.OutcomeSuccess).Inc()

	if a.cache != nil && interest.UserID != "" {
		if err := a.cache.InvalidateUser(ctx, interest.UserID); err != nil {
			a.logger.Warn("profile_cache_invalidation_failed",
				zap.String("user_id", logger.SanitizeUserID(interest.UserID)),
				zap.String("error", logger.SanitizeError(err)),
			)
		}
	}

	a.logger.Info("interest_analysis_completed",
		zap.Int64("interest_id", interest.ID),
		zap.String("user_id", logger.SanitizeUserID(interest.UserID)),
		zap.Int("tags", len(res.Tags)),
		zap.String("suggested_label", res.SuggestedLabel),
	)
	return res, nil
}

// AnalyzeInterestByID loads an interest and analyzes it
func (a *ContentAnalyzer) AnalyzeInterestByID(ctx context.Context, id int64) (*models.ClassificationResult, error) {
	interest, err := a.store.GetInterest(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load interest %d: %w", id, err)
	}
	return a.AnalyzeInterest(ctx, interest)
}

// ProcessReanalyzeContentJob handles reanalyze_content jobs
func (a *ContentAnalyzer) ProcessReanalyzeContentJob(ctx context.Context, job *queue.Job) error {
	kind, err := job.Kind()
	if err != nil {
		return err
	}
	report, err := a.AnalyzeStale(ctx, kind)
	if err != nil {
		return err
	}
	if report.Failed > 0 && ctx.Err() != nil {
		// Cancelled items come back as failures; the pass did not finish
		return fmt.Errorf("%s reanalysis interrupted after %d of %d entities: %w", kind, report.Succeeded, report.Total, ctx.Err())
	}
	if report.Total > 0 && report.Succeeded == 0 {
		return fmt.Errorf("%w: %d %s entities", ErrAllItemsFailed, report.Failed, kind)
	}
	return nil
}

// ProcessAnalyzeInterestJob handles analyze_interest jobs
func (a *ContentAnalyzer) ProcessAnalyzeInterestJob(ctx context.Context, job *queue.Job) error {
	id, err := job.InterestID()
	if err != nil {
		return err
	}
	_, err = a.AnalyzeInterestByID(ctx, id)
	return err
}
