package recommend

import (
	"fmt"
	"time"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/validation"
)

// Algorithm selects how matches are found
type Algorithm string

const (
	AlgorithmContentBased  Algorithm = "content_based"
	AlgorithmCollaborative Algorithm = "collaborative"
	AlgorithmHybrid        Algorithm = "hybrid"
)

// ParseAlgorithm parses an algorithm name; the empty string means content_based.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch s {
	case "", "content", "content_based", "content-based":
		return AlgorithmContentBased, nil
	case "collaborative":
		return AlgorithmCollaborative, nil
	case "hybrid":
		return AlgorithmHybrid, nil
	default:
		return "", fmt.Errorf("unknown algorithm %q", s)
	}
}

// Status tells an empty result apart from a user who has nothing to match on
type Status string

const (
	StatusOK                    Status = "ok"
	StatusNoQualifyingInterests Status = "no_qualifying_interests"
	StatusNoMatches             Status = "no_matches"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// TimeWindow is an inclusive time range
type TimeWindow struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required,gtefield=Start"`
}

// MatchOptions controls one matching call
type MatchOptions struct {
	Limit          int         `json:"limit" validate:"gte=0,lte=100"`
	MinScore       float64     `json:"minScore" validate:"gte=0,lte=1"`
	Algorithm      Algorithm   `json:"algorithm" validate:"omitempty,oneof=content_based collaborative hybrid"`
	IncludeReasons bool        `json:"includeReasons"`
	TimeWindow     *TimeWindow `json:"timeWindow,omitempty" validate:"omitempty"`
	// IncludePast keeps events that already ended.
	IncludePast bool `json:"includePast"`

	// Peers are other users' profiles used by collaborative and hybrid matching.
	Peers []models.UserInterestProfile `json:"-" validate:"-"`
}

// Normalize validates the options and fills defaults.
func (o MatchOptions) Normalize() (MatchOptions, error) {
	if err := validation.Struct(o); err != nil {
		return o, err
	}
	if o.Limit == 0 {
		o.Limit = DefaultLimit
	}
	if o.Algorithm == "" {
		o.Algorithm = AlgorithmContentBased
	}
	return o, nil
}

// Thresholds are the matching weight bars
type Thresholds struct {
	// Primary is the weight a user primary tag needs to qualify, and the weight
	// an entity primary tag needs to match it.
	Primary float64 `validate:"gt=0,lte=1"`
	// Secondary is the weight an entity secondary tag needs to match through its parent.
	Secondary float64 `validate:"gt=0,lte=1"`
	// PeerSimilarity is the minimum profile similarity for a collaborative vote.
	PeerSimilarity float64 `validate:"gte=0,lte=1"`
}

// DefaultThresholds returns 0.7 for primaries, 0.6 for secondaries and 0.3 for peers
func DefaultThresholds() Thresholds {
	return Thresholds{Primary: 0.7, Secondary: 0.6, PeerSimilarity: 0.3}
}
