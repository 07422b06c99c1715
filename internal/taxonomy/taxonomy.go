// Package taxonomy holds the two-level tag taxonomy and the integer ID
// assignment derived from it.
package taxonomy

import (
	"errors"
	"fmt"

	"github.com/benvon/tagmatch/internal/models"
)

var (
	// ErrEmptyTaxonomy is returned when no tags are defined
	ErrEmptyTaxonomy = errors.New("taxonomy has no tags")
	// ErrNoPrimaryTags is returned when only secondary tags are defined
	ErrNoPrimaryTags = errors.New("taxonomy has no primary tags")
	// ErrUnknownParent is returned when a secondary tag names a parent that is not a primary tag
	ErrUnknownParent = errors.New("unknown parent tag")
	// ErrDuplicateTag is returned when two definitions share a name
	ErrDuplicateTag = errors.New("duplicate tag name")
	// ErrInvalidLevel is returned for levels other than primary and secondary
	ErrInvalidLevel = errors.New("invalid tag level")
)

// TagDefinition is one entry of the taxonomy
type TagDefinition struct {
	Name        string          `yaml:"name" validate:"required"`
	Level       models.TagLevel `yaml:"level" validate:"required,tag_level"`
	Parent      string          `yaml:"parent,omitempty" validate:"required_if=Level secondary,excluded_if=Level primary"`
	Description string          `yaml:"description,omitempty"`
	Synonyms    []string        `yaml:"synonyms,omitempty"`
}

// Tag is a resolved taxonomy entry
type Tag struct {
	ID          models.TagID
	Name        string
	Level       models.TagLevel
	ParentID    models.TagID // 0 for primary tags
	ParentName  string
	Description string
	Synonyms    []string
}

// SecondaryMeta is the ID assignment of a secondary tag
type SecondaryMeta struct {
	ID       models.TagID
	ParentID models.TagID
}

// Mapping is the immutable ID assignment for a taxonomy. It is safe for concurrent use.
type Mapping struct {
	tags            []Tag // index is ID-1
	primaryCount    int
	primaryByName   map[string]models.TagID
	secondaryByName map[string]SecondaryMeta
	children        map[models.TagID][]models.TagID
}

// BuildMapping assigns IDs 1..P to primary definitions and P+1..P+S to secondary
// definitions, each in definition order. It fails without building anything if a
// definition is invalid or a secondary tag references an unknown parent.
func BuildMapping(defs []TagDefinition) (*Mapping, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyTaxonomy
	}

	m := &Mapping{
		primaryByName:   make(map[string]models.TagID),
		secondaryByName: make(map[string]SecondaryMeta),
		children:        make(map[models.TagID][]models.TagID),
	}
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tag definition with empty name")
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, def.Name)
		}
		seen[def.Name] = true
		if !def.Level.Valid() {
			return nil, fmt.Errorf("%w %q for tag %q", ErrInvalidLevel, def.Level, def.Name)
		}
	}

	for _, def := range defs {
		if def.Level != models.TagLevelPrimary {
			continue
		}
		id := models.TagID(len(m.tags) + 1)
		m.primaryByName[def.Name] = id
		m.tags = append(m.tags, newTag(id, def, 0))
	}
	m.primaryCount = len(m.tags)
	if m.primaryCount == 0 {
		return nil, ErrNoPrimaryTags
	}

	for _, def := range defs {
		if def.Level != models.TagLevelSecondary {
			continue
		}
		parentID, ok := m.primaryByName[def.Parent]
		if !ok {
			return nil, fmt.Errorf("%w %q for secondary tag %q", ErrUnknownParent, def.Parent, def.Name)
		}
		id := models.TagID(len(m.tags) + 1)
		m.secondaryByName[def.Name] = SecondaryMeta{ID: id, ParentID: parentID}
		m.children[parentID] = append(m.children[parentID], id)
		m.tags = append(m.tags, newTag(id, def, parentID))
	}

	return m, nil
}

func newTag(id models.TagID, def TagDefinition, parentID models.TagID) Tag {
	synonyms := append([]string(nil), def.Synonyms...)
	return Tag{
		ID:          id,
		Name:        def.Name,
		Level:       def.Level,
		ParentID:    parentID,
		ParentName:  def.Parent,
		Description: def.Description,
		Synonyms:    synonyms,
	}
}

// PrimaryCount returns P, the number of primary tags
func (m *Mapping) PrimaryCount() int { return m.primaryCount }

// SecondaryCount returns S, the number of secondary tags
func (m *Mapping) SecondaryCount() int { return len(m.tags) - m.primaryCount }

// Len returns P+S, the highest valid tag ID
func (m *Mapping) Len() int { return len(m.tags) }

// PrimaryNameToID returns a copy of the primary name to ID map
func (m *Mapping) PrimaryNameToID() map[string]models.TagID {
	out := make(map[string]models.TagID, len(m.primaryByName))
	for k, v := range m.primaryByName {
		out[k] = v
	}
	return out
}

// SecondaryNameToMeta returns a copy of the secondary name to ID/parent map
func (m *Mapping) SecondaryNameToMeta() map[string]SecondaryMeta {
	out := make(map[string]SecondaryMeta, len(m.secondaryByName))
	for k, v := range m.secondaryByName {
		out[k] = v
	}
	return out
}

// Lookup returns the tag with the given ID
func (m *Mapping) Lookup(id models.TagID) (Tag, bool) {
	if id < 1 || int(id) > len(m.tags) {
		return Tag{}, false
	}
	return m.tags[id-1], true
}

// IDByName resolves a tag name at either level
func (m *Mapping) IDByName(name string) (models.TagID, bool) {
	if id, ok := m.primaryByName[name]; ok {
		return id, true
	}
	if meta, ok := m.secondaryByName[name]; ok {
		return meta.ID, true
	}
	return 0, false
}

// ParentOf returns the parent of a secondary tag
func (m *Mapping) ParentOf(id models.TagID) (models.TagID, bool) {
	tag, ok := m.Lookup(id)
	if !ok || tag.Level != models.TagLevelSecondary {
		return 0, false
	}
	return tag.ParentID, true
}

// Name returns the tag name, or "tag <id>" for unknown IDs
func (m *Mapping) Name(id models.TagID) string {
	if tag, ok := m.Lookup(id); ok {
		return tag.Name
	}
	return fmt.Sprintf("tag %d", id)
}

// Primaries returns the primary tags in ID order
func (m *Mapping) Primaries() []Tag {
	return append([]Tag(nil), m.tags[:m.primaryCount]...)
}

// Children returns the secondary tags of a primary tag in ID order
func (m *Mapping) Children(parent models.TagID) []Tag {
	ids := m.children[parent]
	out := make([]Tag, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.tags[id-1])
	}
	return out
}

// Tags returns every tag in ID order
func (m *Mapping) Tags() []Tag {
	return append([]Tag(nil), m.tags...)
}
