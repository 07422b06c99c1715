// Package recommend ranks tagged content against a user's weighted interest profile.
package recommend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/taxonomy"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	tracerName = "github.com/benvon/tagmatch/internal/recommend"

	recencyHorizonDays = 30
	recencyPenalty     = 0.3
	minRecencyFactor   = 0.1

	hybridScoreBoost      = 1.1
	hybridConfidenceBoost = 1.05

	maxReasonItems = 3
)

// MatchResult is the ranked output of one matching call
type MatchResult struct {
	Items   []models.Recommendation      `json:"items"`
	Status  Status                       `json:"status"`
	Metrics models.RecommendationMetrics `json:"metrics"`
}

// Matcher scores a content pool against an interest profile. It is a pure,
// read-only computation and safe for concurrent use.
type Matcher struct {
	mapping    *taxonomy.Mapping
	thresholds Thresholds
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewMatcher creates a Matcher. mapping is used for tag levels and names and may be nil,
// in which case the levels stored on the tags are trusted.
func NewMatcher(mapping *taxonomy.Mapping, thresholds Thresholds, log *zap.Logger) *Matcher {
	defaults := DefaultThresholds()
	if thresholds.Primary <= 0 {
		thresholds.Primary = defaults.Primary
	}
	if thresholds.Secondary <= 0 {
		thresholds.Secondary = defaults.Secondary
	}
	return &Matcher{
		mapping:    mapping,
		thresholds: thresholds,
		logger:     logger.Component(log, "matcher"),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
	}
}

// candidate is an eligible entity with its score components
type candidate struct {
	entity     *models.TaggedEntity
	score      float64
	confidence float64
	userTagIDs []models.TagID       // qualifying user primaries that matched
	entityTags []models.WeightedTag // matched entity tags, strongest first
	peerVotes  int
}

// MatchEvents matches a pool of events
func (m *Matcher) MatchEvents(ctx context.Context, profile *models.UserInterestProfile, pool []models.TaggedEntity, opts MatchOptions) (*MatchResult, error) {
	return m.Match(ctx, models.KindEvent, profile, pool, opts)
}

// MatchOrganizations matches a pool of organizations
func (m *Matcher) MatchOrganizations(ctx context.Context, profile *models.UserInterestProfile, pool []models.TaggedEntity, opts MatchOptions) (*MatchResult, error) {
	return m.Match(ctx, models.KindOrganization, profile, pool, opts)
}

// MatchLabs matches a pool of labs
func (m *Matcher) MatchLabs(ctx context.Context, profile *models.UserInterestProfile, pool []models.TaggedEntity, opts MatchOptions) (*MatchResult, error) {
	return m.Match(ctx, models.KindLab, profile, pool, opts)
}

// Match ranks the entities of kind in pool for profile. Only invalid options
// produce an error; a profile without qualifying primary interests yields an
// empty result with StatusNoQualifyingInterests.
func (m *Matcher) Match(ctx context.Context, kind models.ContentKind, profile *models.UserInterestProfile, pool []models.TaggedEntity, opts MatchOptions) (*MatchResult, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid match options: %w", err)
	}

	start := time.Now()
	_, span := m.tracer.Start(ctx, "recommend.match", trace.WithAttributes(
		attribute.String("match.kind", string(kind)),
		attribute.String("match.algorithm", string(opts.Algorithm)),
		attribute.Int("match.pool", len(pool)),
	))
	defer span.End()

	result := m.match(kind, profile, pool, opts)
	result.Metrics.ProcessingTimeMs = time.Since(start).Milliseconds()

	metrics.RecordRecommendation(string(kind), string(opts.Algorithm), string(result.Status), time.Since(start))
	span.SetAttributes(
		attribute.String("match.status", string(result.Status)),
		attribute.Int("match.results", len(result.Items)),
	)
	userID := ""
	if profile != nil {
		userID = profile.UserID
	}
	m.logger.Debug("recommendations_matched",
		zap.String("user_id", logger.SanitizeUserID(userID)),
		zap.String("kind", string(kind)),
		zap.String("algorithm", string(opts.Algorithm)),
		zap.String("status", string(result.Status)),
		zap.Int("pool", len(pool)),
		zap.Int("results", len(result.Items)),
	)
	return result, nil
}

func (m *Matcher) match(kind models.ContentKind, profile *models.UserInterestProfile, pool []models.TaggedEntity, opts MatchOptions) *MatchResult {
	qualifying := m.QualifyingInterests(profile)
	if len(qualifying) == 0 {
		return &MatchResult{
			Items:   []models.Recommendation{},
			Status:  StatusNoQualifyingInterests,
			Metrics: models.RecommendationMetrics{AlgorithmsUsed: algorithmsUsed(opts.Algorithm)},
		}
	}

	now := m.now()
	eligible := make([]*models.TaggedEntity, 0, len(pool))
	for i := range pool {
		if m.admissible(&pool[i], kind, opts, now) {
			eligible = append(eligible, &pool[i])
		}
	}

	var picked []*candidate
	switch opts.Algorithm {
	case AlgorithmCollaborative:
		picked = rank(filterScore(m.collaborative(profile, eligible, opts.Peers, now), opts.MinScore), opts.Limit)
	case AlgorithmHybrid:
		picked = m.hybrid(qualifying, profile, eligible, opts, now)
	default:
		picked = rank(filterScore(m.contentBased(qualifying, eligible, now), opts.MinScore), opts.Limit)
	}

	items := make([]models.Recommendation, 0, len(picked))
	for _, c := range picked {
		items = append(items, m.toRecommendation(c, profile, opts))
	}

	status := StatusOK
	if len(items) == 0 {
		status = StatusNoMatches
	}
	return &MatchResult{
		Items:   items,
		Status:  status,
		Metrics: buildMetrics(items, qualifying, opts.Algorithm),
	}
}

// QualifyingInterests returns the user's primary tags at or above the primary
// threshold, keyed by tag ID with the user's weight.
func (m *Matcher) QualifyingInterests(profile *models.UserInterestProfile) map[models.TagID]float64 {
	out := make(map[models.TagID]float64)
	for _, tag := range profile.Tags() {
		level, _ := m.levelOf(tag)
		if level == models.TagLevelPrimary && tag.Weight >= m.thresholds.Primary {
			out[tag.TagID] = tag.Weight
		}
	}
	return out
}

// levelOf resolves a tag's level and parent from the taxonomy, falling back to
// the values stored on the tag for IDs the taxonomy does not know.
func (m *Matcher) levelOf(tag models.WeightedTag) (models.TagLevel, models.TagID) {
	if m.mapping != nil {
		if def, ok := m.mapping.Lookup(tag.TagID); ok {
			return def.Level, def.ParentID
		}
	}
	if tag.Level == "" && tag.ParentTagID == nil {
		return models.TagLevelPrimary, 0
	}
	return tag.Level, tag.Parent()
}

// admissible applies the kind-specific filters that run before scoring
func (m *Matcher) admissible(e *models.TaggedEntity, kind models.ContentKind, opts MatchOptions, now time.Time) bool {
	if e.Kind != kind {
		return false
	}
	switch kind {
	case models.KindEvent:
		if !opts.IncludePast && e.Ended(now) {
			return false
		}
		if opts.TimeWindow != nil && !e.Overlaps(opts.TimeWindow.Start, opts.TimeWindow.End) {
			return false
		}
	case models.KindLab:
		if !e.AcceptingStudents {
			return false
		}
	}
	return true
}

// scoreEntity applies two-phase matching of one entity against qualifying
// interests. An entity primary tag matches when it is itself qualifying and
// weighs at least the primary threshold; a secondary tag matches through a
// qualifying parent at the secondary threshold. The score is the best
// (userWeight+entityWeight)/2 pair, adjusted for event recency.
func (m *Matcher) scoreEntity(qualifying map[models.TagID]float64, e *models.TaggedEntity, now time.Time) (*candidate, bool) {
	var (
		best      float64
		weightSum float64
		matched   []models.WeightedTag
		userIDs   = make(map[models.TagID]bool)
	)
	for _, tag := range e.Tags {
		level, parent := m.levelOf(tag)
		var userTag models.TagID
		switch level {
		case models.TagLevelPrimary:
			if tag.Weight < m.thresholds.Primary {
				continue
			}
			userTag = tag.TagID
		case models.TagLevelSecondary:
			if tag.Weight < m.thresholds.Secondary {
				continue
			}
			userTag = parent
		default:
			continue
		}
		userWeight, ok := qualifying[userTag]
		if !ok {
			continue
		}
		best = math.Max(best, (userWeight+tag.Weight)/2)
		weightSum += tag.Weight
		matched = append(matched, tag)
		userIDs[userTag] = true
	}
	if len(matched) == 0 {
		return nil, false
	}

	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Weight > matched[j].Weight })
	ids := make([]models.TagID, 0, len(userIDs))
	for id := range userIDs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return &candidate{
		entity:     e,
		score:      clamp01(best * recencyFactor(e, now)),
		confidence: clamp01(weightSum / float64(len(matched))),
		userTagIDs: ids,
		entityTags: matched,
	}, true
}

// recencyFactor favors events starting soon; events further out or without a
// start time are not adjusted.
func recencyFactor(e *models.TaggedEntity, now time.Time) float64 {
	if e.Kind != models.KindEvent || e.StartTime == nil {
		return 1
	}
	days := e.StartTime.Sub(now).Hours() / 24
	if days < 0 || days > recencyHorizonDays {
		return 1
	}
	return math.Max(minRecencyFactor, 1-recencyPenalty*days/recencyHorizonDays)
}

func (m *Matcher) contentBased(qualifying map[models.TagID]float64, pool []*models.TaggedEntity, now time.Time) []*candidate {
	out := make([]*candidate, 0, len(pool))
	for _, e := range pool {
		if c, ok := m.scoreEntity(qualifying, e, now); ok {
			out = append(out, c)
		}
	}
	return out
}

// collaborative scores entities by what similar users would match. Each peer
// whose profile similarity reaches the threshold votes with similarity times
// its own content score; the entity keeps the strongest vote.
func (m *Matcher) collaborative(profile *models.UserInterestProfile, pool []*models.TaggedEntity, peers []models.UserInterestProfile, now time.Time) []*candidate {
	if len(peers) == 0 {
		return nil
	}
	userTags := profile.Tags()
	byEntity := make(map[*models.TaggedEntity]*candidate)
	var order []*models.TaggedEntity

	for i := range peers {
		peer := &peers[i]
		if profile != nil && peer.UserID == profile.UserID {
			continue
		}
		sim := Similarity(userTags, peer.Tags())
		if sim < m.thresholds.PeerSimilarity || sim == 0 {
			continue
		}
		peerQualifying := m.QualifyingInterests(peer)
		if len(peerQualifying) == 0 {
			continue
		}
		for _, e := range pool {
			pc, ok := m.scoreEntity(peerQualifying, e, now)
			if !ok {
				continue
			}
			vote := sim * pc.score
			c, seen := byEntity[e]
			if !seen {
				c = &candidate{entity: e}
				byEntity[e] = c
				order = append(order, e)
			}
			c.peerVotes++
			if vote > c.score {
				c.score = vote
				c.confidence = clamp01(sim * pc.confidence)
			}
		}
	}

	out := make([]*candidate, 0, len(order))
	for _, e := range order {
		out = append(out, byEntity[e])
	}
	return out
}

// hybrid merges content and collaborative candidates. Every entity keeps at
// least its content score, and the content-based top list is always retained;
// collaborative-only entities fill the remaining slots.
func (m *Matcher) hybrid(qualifying map[models.TagID]float64, profile *models.UserInterestProfile, pool []*models.TaggedEntity, opts MatchOptions, now time.Time) []*candidate {
	content := m.contentBased(qualifying, pool, now)
	collab := m.collaborative(profile, pool, opts.Peers, now)
	reserved := make(map[*models.TaggedEntity]bool)
	for _, c := range rank(filterScore(content, opts.MinScore), opts.Limit) {
		reserved[c.entity] = true
	}

	merged := make(map[*models.TaggedEntity]*candidate, len(content)+len(collab))
	var order []*models.TaggedEntity
	for _, c := range content {
		cp := *c
		merged[c.entity] = &cp
		order = append(order, c.entity)
	}
	for _, c := range collab {
		if cur, ok := merged[c.entity]; ok {
			cur.peerVotes = c.peerVotes
			cur.score = math.Max(cur.score, c.score)
			continue
		}
		cp := *c
		merged[c.entity] = &cp
		order = append(order, c.entity)
	}

	all := make([]*candidate, 0, len(order))
	for _, e := range order {
		c := merged[e]
		c.score = math.Min(1, c.score*hybridScoreBoost)
		c.confidence = math.Min(1, c.confidence*hybridConfidenceBoost)
		all = append(all, c)
	}
	all = rank(filterScore(all, opts.MinScore), 0)

	free := opts.Limit - len(reserved)
	out := make([]*candidate, 0, opts.Limit)
	for _, c := range all {
		switch {
		case reserved[c.entity]:
			out = append(out, c)
		case free > 0:
			out = append(out, c)
			free--
		}
	}
	return out
}

// Similarity is the weighted Jaccard index of two tag sets
func Similarity(a, b []models.WeightedTag) float64 {
	weights := make(map[models.TagID][2]float64, len(a)+len(b))
	for _, t := range a {
		w := weights[t.TagID]
		w[0] = math.Max(w[0], t.Weight)
		weights[t.TagID] = w
	}
	for _, t := range b {
		w := weights[t.TagID]
		w[1] = math.Max(w[1], t.Weight)
		weights[t.TagID] = w
	}
	var minSum, maxSum float64
	for _, w := range weights {
		minSum += math.Min(w[0], w[1])
		maxSum += math.Max(w[0], w[1])
	}
	if maxSum == 0 {
		return 0
	}
	return minSum / maxSum
}

func filterScore(cands []*candidate, minScore float64) []*candidate {
	out := cands[:0:0]
	for _, c := range cands {
		if c.score >= minScore && c.score > 0 {
			out = append(out, c)
		}
	}
	return out
}

// rank sorts by score, then recency (newest first), then ID, and keeps limit items (0 keeps all).
func rank(cands []*candidate, limit int) []*candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		ra, rb := a.entity.Recency(), b.entity.Recency()
		if !ra.Equal(rb) {
			return ra.After(rb)
		}
		return a.entity.ID < b.entity.ID
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	return cands
}

func (m *Matcher) toRecommendation(c *candidate, profile *models.UserInterestProfile, opts MatchOptions) models.Recommendation {
	ids := c.userTagIDs
	if ids == nil {
		ids = []models.TagID{}
	}
	idSet := make(map[models.TagID]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}

	rec := models.Recommendation{
		Entity:    *c.entity,
		Algorithm: string(opts.Algorithm),
		RecommendationScore: models.RecommendationScore{
			Score:                 c.score,
			Confidence:            c.confidence,
			MatchedInterestTagIDs: ids,
			MatchedInterests:      profile.KeywordsFor(idSet),
		},
	}
	if opts.IncludeReasons {
		rec.Reasons = m.reasons(c, rec.MatchedInterests)
	}
	return rec
}

func (m *Matcher) reasons(c *candidate, interests []string) []string {
	var out []string
	if len(interests) > 0 {
		out = append(out, "Matches your interests: "+strings.Join(interests[:min(len(interests), maxReasonItems)], ", "))
	}
	if len(c.entityTags) > 0 {
		names := make([]string, 0, maxReasonItems)
		for _, tag := range c.entityTags[:min(len(c.entityTags), maxReasonItems)] {
			names = append(names, fmt.Sprintf("%s (#%d)", m.tagName(tag.TagID), tag.TagID))
		}
		out = append(out, "Related to: "+strings.Join(names, ", "))
	}
	if c.peerVotes > 0 {
		out = append(out, fmt.Sprintf("Popular with %d people who share your interests", c.peerVotes))
	}
	switch {
	case c.confidence > 0.8:
		out = append(out, "High confidence match")
	case c.confidence > 0.5:
		out = append(out, "Good match based on your profile")
	}
	return out
}

func (m *Matcher) tagName(id models.TagID) string {
	if m.mapping == nil {
		return fmt.Sprintf("tag %d", id)
	}
	return m.mapping.Name(id)
}

func algorithmsUsed(a Algorithm) []string {
	switch a {
	case AlgorithmCollaborative:
		return []string{string(AlgorithmCollaborative)}
	case AlgorithmHybrid:
		return []string{string(AlgorithmContentBased), string(AlgorithmCollaborative)}
	default:
		return []string{string(AlgorithmContentBased)}
	}
}

// buildMetrics summarizes items; coverage is the share of qualifying primary
// interests that at least one item matched.
func buildMetrics(items []models.Recommendation, qualifying map[models.TagID]float64, a Algorithm) models.RecommendationMetrics {
	out := models.RecommendationMetrics{
		TotalRecommendations: len(items),
		AlgorithmsUsed:       algorithmsUsed(a),
	}
	if len(items) == 0 {
		return out
	}
	covered := make(map[models.TagID]bool)
	var sum float64
	for _, item := range items {
		sum += item.Score
		for _, id := range item.MatchedInterestTagIDs {
			if _, ok := qualifying[id]; ok {
				covered[id] = true
			}
		}
	}
	out.AverageScore = sum / float64(len(items))
	if len(qualifying) > 0 {
		out.CoverageScore = float64(len(covered)) / float64(len(qualifying))
	}
	return out
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
