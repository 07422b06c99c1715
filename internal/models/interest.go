package models

import (
	"sort"
	"time"
)

// Interest is a user-declared interest with its classified tags
type Interest struct {
	ID              int64         `json:"id" bson:"_id"`
	UserID          string        `json:"userId" bson:"user_id"`
	Keyword         string        `json:"keyword" bson:"keyword"`
	Description     string        `json:"description,omitempty" bson:"description,omitempty"`
	SuggestedLabel  string        `json:"suggestedLabel,omitempty" bson:"suggested_label,omitempty"`
	LinkedTags      []WeightedTag `json:"linkedTags" bson:"linked_tags"`
	LastAnalyzed    *time.Time    `json:"lastAnalyzed,omitempty" bson:"last_analyzed,omitempty"`
	AnalyzerVersion string        `json:"analyzerVersion,omitempty" bson:"analyzer_version,omitempty"`
}

// Subject builds the classification subject for the interest.
func (i *Interest) Subject(userContext map[string]string) InterestSubject {
	return InterestSubject{Keyword: i.Keyword, Description: i.Description, UserContext: userContext}
}

// UserInterestProfile is the set of interests a user holds
type UserInterestProfile struct {
	UserID    string     `json:"userId"`
	Interests []Interest `json:"interests"`
}

// Tags returns the union of linked tags across all interests. When several
// interests carry the same tag the highest weight wins. Output is ordered by tag ID.
func (p *UserInterestProfile) Tags() []WeightedTag {
	if p == nil {
		return nil
	}
	best := make(map[TagID]WeightedTag)
	for _, interest := range p.Interests {
		for _, tag := range interest.LinkedTags {
			if cur, ok := best[tag.TagID]; !ok || tag.Weight > cur.Weight {
				best[tag.TagID] = tag
			}
		}
	}
	out := make([]WeightedTag, 0, len(best))
	for _, tag := range best {
		out = append(out, tag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// KeywordsFor returns the keywords of interests linking any of ids, in profile order.
func (p *UserInterestProfile) KeywordsFor(ids map[TagID]bool) []string {
	if p == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, interest := range p.Interests {
		for _, tag := range interest.LinkedTags {
			if ids[tag.TagID] && !seen[interest.Keyword] {
				seen[interest.Keyword] = true
				out = append(out, interest.Keyword)
				break
			}
		}
	}
	return out
}
