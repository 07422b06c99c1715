package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/benvon/tagmatch/internal/cache"
	"github.com/benvon/tagmatch/internal/database"
	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/models"
	"go.uber.org/zap"
)

// DefaultPeerLimit bounds how many peer profiles collaborative matching loads
const DefaultPeerLimit = 50

// ServiceStore is the read side of the tag store used for recommendations
type ServiceStore interface {
	GetTaggedEntities(ctx context.Context, kind models.ContentKind, filter database.EntityFilter) ([]models.TaggedEntity, error)
	GetUserInterestProfile(ctx context.Context, userID string) (*models.UserInterestProfile, error)
	GetPeerProfiles(ctx context.Context, userID string, tagIDs []models.TagID, limit int) ([]models.UserInterestProfile, error)
}

// Cache stores profiles and finished recommendation lists. *cache.RedisCache implements it.
type Cache interface {
	GetProfile(ctx context.Context, userID string) (*models.UserInterestProfile, bool)
	SetProfile(ctx context.Context, profile *models.UserInterestProfile) error
	GetRecommendations(ctx context.Context, key string, dst any) bool
	SetRecommendations(ctx context.Context, key string, v any) error
}

// Service fetches a user's profile and content pool and runs the Matcher.
type Service struct {
	store     ServiceStore
	matcher   *Matcher
	cache     Cache
	peerLimit int
	logger    *zap.Logger
}

// NewService creates a Service. c may be nil to disable caching.
func NewService(store ServiceStore, matcher *Matcher, c Cache, log *zap.Logger) *Service {
	return &Service{
		store:     store,
		matcher:   matcher,
		cache:     c,
		peerLimit: DefaultPeerLimit,
		logger:    logger.Component(log, "recommend_service"),
	}
}

// Recommend returns ranked recommendations of kind for userID. A user without
// stored interests gets an empty result with StatusNoQualifyingInterests.
func (s *Service) Recommend(ctx context.Context, userID string, kind models.ContentKind, opts MatchOptions) (*MatchResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	opts, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid match options: %w", err)
	}
	opts.Peers = nil

	key := recommendationKey(userID, kind, opts)
	if s.cache != nil {
		var cached MatchResult
		if s.cache.GetRecommendations(ctx, key, &cached) {
			return &cached, nil
		}
	}

	profile, err := s.profile(ctx, userID)
	if err != nil {
		return nil, err
	}

	qualifying := s.matcher.QualifyingInterests(profile)
	if len(qualifying) == 0 {
		return s.matcher.Match(ctx, kind, profile, nil, opts)
	}
	ids := make([]models.TagID, 0, len(qualifying))
	for id := range qualifying {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	poolIDs := ids
	if opts.Algorithm != AlgorithmContentBased {
		peers, err := s.store.GetPeerProfiles(ctx, userID, ids, s.peerLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load peer profiles: %w", err)
		}
		opts.Peers = peers
		poolIDs = withPeerTags(ids, peers)
	}

	pool, err := s.store.GetTaggedEntities(ctx, kind, database.HasAnyTagOrParent(poolIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s pool: %w", kind, err)
	}

	result, err := s.matcher.Match(ctx, kind, profile, pool, opts)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && result.Status == StatusOK {
		if err := s.cache.SetRecommendations(ctx, key, result); err != nil {
			s.logger.Warn("recommendation_cache_write_failed",
				zap.String("user_id", logger.SanitizeUserID(userID)),
				zap.String("error", logger.SanitizeError(err)),
			)
		}
	}
	return result, nil
}

// profile loads the user's interests from the cache or the store
func (s *Service) profile(ctx context.Context, userID string) (*models.UserInterestProfile, error) {
	if s.cache != nil {
		if p, ok := s.cache.GetProfile(ctx, userID); ok {
			return p, nil
		}
	}
	p, err := s.store.GetUserInterestProfile(ctx, userID)
	if errors.Is(err, database.ErrProfileNotFound) {
		return &models.UserInterestProfile{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load interest profile: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetProfile(ctx, p); err != nil {
			s.logger.Warn("profile_cache_write_failed",
				zap.String("user_id", logger.SanitizeUserID(userID)),
				zap.String("error", logger.SanitizeError(err)),
			)
		}
	}
	return p, nil
}

// withPeerTags extends ids with every tag the peers hold so collaborative
// matching sees entities outside the user's own interests.
func withPeerTags(ids []models.TagID, peers []models.UserInterestProfile) []models.TagID {
	seen := make(map[models.TagID]bool, len(ids))
	out := append([]models.TagID(nil), ids...)
	for _, id := range ids {
		seen[id] = true
	}
	for i := range peers {
		for _, tag := range peers[i].Tags() {
			if !seen[tag.TagID] {
				seen[tag.TagID] = true
				out = append(out, tag.TagID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func recommendationKey(userID string, kind models.ContentKind, opts MatchOptions) string {
	parts := []string{
		string(kind),
		string(opts.Algorithm),
		strconv.Itoa(opts.Limit),
		strconv.FormatFloat(opts.MinScore, 'f', -1, 64),
		strconv.FormatBool(opts.IncludeReasons),
		strconv.FormatBool(opts.IncludePast),
	}
	if opts.TimeWindow != nil {
		parts = append(parts,
			opts.TimeWindow.Start.UTC().Format(time.RFC3339),
			opts.TimeWindow.End.UTC().Format(time.RFC3339),
		)
	}
	return cache.RecommendationKey(userID, parts...)
}
