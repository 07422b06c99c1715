package database

import (
	"time"

	"github.com/benvon/tagmatch/internal/models"
)

// EntityFilter selects tagged entities. Zero values disable a condition.
//
// The tag conditions (TagIDs, ParentTagIDs, MinWeight, Level) apply to a single
// tag: an entity matches when at least one of its tags satisfies all of them,
// where TagIDs and ParentTagIDs are alternatives (tag ID in TagIDs OR parent in
// ParentTagIDs).
type EntityFilter struct {
	// NeedsAnalysis keeps entities never analyzed, or analyzed before StaleBefore.
	NeedsAnalysis bool
	StaleBefore   time.Time

	TagIDs       []models.TagID
	ParentTagIDs []models.TagID
	MinWeight    float64
	Level        models.TagLevel

	IDs   []int64
	Limit int
}

// HasAnyTagOrParent selects entities carrying any of ids directly or as a parent
func HasAnyTagOrParent(ids []models.TagID) EntityFilter {
	return EntityFilter{TagIDs: ids, ParentTagIDs: ids}
}

// NeedsAnalysisBefore selects entities that were never analyzed or went stale before cutoff
func NeedsAnalysisBefore(cutoff time.Time, limit int) EntityFilter {
	return EntityFilter{NeedsAnalysis: true, StaleBefore: cutoff, Limit: limit}
}

func (f EntityFilter) hasTagConditions() bool {
	return len(f.TagIDs) > 0 || len(f.ParentTagIDs) > 0 || f.MinWeight > 0 || f.Level != ""
}

// Matches reports whether e satisfies every condition except Limit.
func (f EntityFilter) Matches(e *models.TaggedEntity) bool {
	if len(f.IDs) > 0 && !containsID(f.IDs, e.ID) {
		return false
	}
	if f.NeedsAnalysis && !e.NeedsAnalysis(f.StaleBefore) {
		return false
	}
	if !f.hasTagConditions() {
		return true
	}
	for _, tag := range e.Tags {
		if f.matchesTag(tag) {
			return true
		}
	}
	return false
}

func (f EntityFilter) matchesTag(tag models.WeightedTag) bool {
	if len(f.TagIDs) > 0 || len(f.ParentTagIDs) > 0 {
		byID := containsTag(f.TagIDs, tag.TagID)
		byParent := tag.ParentTagID != nil && containsTag(f.ParentTagIDs, *tag.ParentTagID)
		if !byID && !byParent {
			return false
		}
	}
	if tag.Weight < f.MinWeight {
		return false
	}
	if f.Level != "" && tag.Level != f.Level {
		return false
	}
	return true
}

func containsTag(ids []models.TagID, id models.TagID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func tagIDsToInt64(ids []models.TagID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
