package models

import (
	"fmt"
	"strconv"
	"time"
)

// ContentKind is the kind of a tagged content entity
type ContentKind string

const (
	KindEvent        ContentKind = "event"
	KindOrganization ContentKind = "organization"
	KindLab          ContentKind = "lab"
)

// ContentKinds lists every content kind in a stable order
var ContentKinds = []ContentKind{KindEvent, KindOrganization, KindLab}

// ParseContentKind parses a kind name, accepting plurals
func ParseContentKind(s string) (ContentKind, error) {
	switch s {
	case "event", "events":
		return KindEvent, nil
	case "organization", "organizations", "org", "orgs":
		return KindOrganization, nil
	case "lab", "labs":
		return KindLab, nil
	default:
		return "", fmt.Errorf("unknown content kind %q", s)
	}
}

// TaggedEntity is a content item that owns weighted tags and analysis metadata.
type TaggedEntity struct {
	ID              int64         `json:"id" bson:"_id"`
	Kind            ContentKind   `json:"kind" bson:"kind"`
	Title           string        `json:"title" bson:"title"`
	Description     string        `json:"description" bson:"description"`
	Tags            []WeightedTag `json:"tags" bson:"tags"`
	LastAnalyzed    *time.Time    `json:"lastAnalyzed,omitempty" bson:"last_analyzed,omitempty"`
	AnalyzerVersion string        `json:"analyzerVersion,omitempty" bson:"analyzer_version,omitempty"`
	CreatedAt       time.Time     `json:"createdAt" bson:"created_at"`

	// Event
	StartTime *time.Time `json:"startTime,omitempty" bson:"start_time,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty" bson:"end_time,omitempty"`
	Location  string     `json:"location,omitempty" bson:"location,omitempty"`

	// Organization
	Category    string `json:"category,omitempty" bson:"category,omitempty"`
	MemberCount int    `json:"memberCount,omitempty" bson:"member_count,omitempty"`

	// Lab
	Department        string `json:"department,omitempty" bson:"department,omitempty"`
	AcceptingStudents bool   `json:"acceptingStudents,omitempty" bson:"accepting_students,omitempty"`
}

// NeedsAnalysis reports whether the entity was never analyzed or was analyzed before cutoff.
func (e *TaggedEntity) NeedsAnalysis(cutoff time.Time) bool {
	return e.LastAnalyzed == nil || e.LastAnalyzed.Before(cutoff)
}

// Subject builds the classification subject for the entity.
func (e *TaggedEntity) Subject() ContentSubject {
	extra := map[string]string{"kind": string(e.Kind)}
	switch e.Kind {
	case KindEvent:
		if e.Location != "" {
			extra["location"] = e.Location
		}
		if e.StartTime != nil {
			extra["startTime"] = e.StartTime.UTC().Format(time.RFC3339)
		}
	case KindOrganization:
		if e.Category != "" {
			extra["category"] = e.Category
		}
		if e.MemberCount > 0 {
			extra["memberCount"] = strconv.Itoa(e.MemberCount)
		}
	case KindLab:
		if e.Department != "" {
			extra["department"] = e.Department
		}
		extra["acceptingStudents"] = strconv.FormatBool(e.AcceptingStudents)
	}
	return ContentSubject{Title: e.Title, Body: e.Description, ExtraContext: extra}
}

// Recency returns the timestamp used to order otherwise equal matches:
// the start time for events, the creation time for everything else.
func (e *TaggedEntity) Recency() time.Time {
	if e.Kind == KindEvent && e.StartTime != nil {
		return *e.StartTime
	}
	return e.CreatedAt
}

// Overlaps reports whether an event's time range intersects [start, end].
// A missing end time is treated as the start time.
func (e *TaggedEntity) Overlaps(start, end time.Time) bool {
	if e.StartTime == nil {
		return false
	}
	evEnd := *e.StartTime
	if e.EndTime != nil {
		evEnd = *e.EndTime
	}
	return !e.StartTime.After(end) && !evEnd.Before(start)
}

// Ended reports whether an event finished before now.
func (e *TaggedEntity) Ended(now time.Time) bool {
	if e.StartTime == nil {
		return false
	}
	end := *e.StartTime
	if e.EndTime != nil {
		end = *e.EndTime
	}
	return end.Before(now)
}
