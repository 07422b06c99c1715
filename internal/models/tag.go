package models

// TagID identifies a taxonomy tag. Primary tags occupy 1..P and secondary tags P+1..P+S.
type TagID int

// TagLevel is the taxonomy level of a tag
type TagLevel string

const (
	TagLevelPrimary   TagLevel = "primary"
	TagLevelSecondary TagLevel = "secondary"
)

// Valid reports whether l is a known level.
func (l TagLevel) Valid() bool {
	return l == TagLevelPrimary || l == TagLevelSecondary
}

// WeightedTag is a tag assignment with a strength in [0,1].
// ParentTagID is set if and only if Level is secondary.
type WeightedTag struct {
	TagID       TagID    `json:"tagId" bson:"tag_id"`
	Weight      float64  `json:"weight" bson:"weight"`
	Level       TagLevel `json:"level" bson:"level"`
	ParentTagID *TagID   `json:"parentTagId,omitempty" bson:"parent_tag_id,omitempty"`
}

// IsPrimary reports whether the tag is a primary tag
func (t WeightedTag) IsPrimary() bool {
	return t.Level == TagLevelPrimary
}

// Parent returns the parent tag ID, or 0 for primary tags.
func (t WeightedTag) Parent() TagID {
	if t.ParentTagID == nil {
		return 0
	}
	return *t.ParentTagID
}

// PrimaryTag builds a primary weighted tag
func PrimaryTag(id TagID, weight float64) WeightedTag {
	return WeightedTag{TagID: id, Weight: weight, Level: TagLevelPrimary}
}

// SecondaryTag builds a secondary weighted tag under parent
func SecondaryTag(id TagID, weight float64, parent TagID) WeightedTag {
	p := parent
	return WeightedTag{TagID: id, Weight: weight, Level: TagLevelSecondary, ParentTagID: &p}
}

// CloneTags returns a deep copy of tags.
func CloneTags(tags []WeightedTag) []WeightedTag {
	if tags == nil {
		return nil
	}
	out := make([]WeightedTag, len(tags))
	for i, t := range tags {
		out[i] = t
		if t.ParentTagID != nil {
			p := *t.ParentTagID
			out[i].ParentTagID = &p
		}
	}
	return out
}
