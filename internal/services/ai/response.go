package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/taxonomy"
)

// DefaultOverallConfidence is used when the oracle omits overallConfidence
const DefaultOverallConfidence = 0.8

// rawTag is one oracle tag before validation. Numbers are kept loose since
// models occasionally quote them.
type rawTag struct {
	TagID       any    `json:"tagId"`
	Weight      any    `json:"weight"`
	Category    string `json:"category"`
	ParentTagID any    `json:"parentTagId"`
}

// rawResponse is the decoded oracle answer
type rawResponse struct {
	Tags              []rawTag
	InvalidEntries    int // array elements that were not objects
	OverallConfidence float64
	SuggestedName     string
}

// decodeResponse parses the oracle content. It fails with ErrInvalidResponseShape
// when the content is not a JSON object or its tags field is missing or not an array.
func decodeResponse(content string) (*rawResponse, error) {
	obj, err := decodeObject(content)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponseShape, err)
	}

	tagsRaw, ok := obj["tags"]
	if !ok {
		return nil, ErrInvalidResponseShape
	}
	trimmed := bytes.TrimSpace(tagsRaw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrInvalidResponseShape
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponseShape, err)
	}

	out := &rawResponse{OverallConfidence: DefaultOverallConfidence}
	for _, elem := range elems {
		var tag rawTag
		if err := json.Unmarshal(elem, &tag); err != nil {
			out.InvalidEntries++
			continue
		}
		out.Tags = append(out.Tags, tag)
	}

	if rawConf, ok := obj["overallConfidence"]; ok {
		var v any
		if json.Unmarshal(rawConf, &v) == nil {
			if f, ok := asNumber(v); ok {
				out.OverallConfidence = clamp01(f)
			}
		}
	}
	if rawName, ok := obj["suggestedInterestName"]; ok {
		var name string
		if json.Unmarshal(rawName, &name) == nil {
			out.SuggestedName = strings.TrimSpace(name)
		}
	}

	return out, nil
}

// decodeObject unmarshals content as a JSON object, falling back to the outermost
// {...} substring for answers wrapped in prose or code fences.
func decodeObject(content string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	err := json.Unmarshal([]byte(content), &obj)
	if err == nil && obj != nil {
		return obj, nil
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		if err == nil {
			err = fmt.Errorf("response is not a JSON object")
		}
		return nil, err
	}
	obj = nil
	if err := json.Unmarshal([]byte(content[start:end+1]), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("response is not a JSON object")
	}
	return obj, nil
}

// normalizeStats counts tags removed at each step
type normalizeStats struct {
	invalid        int
	ungated        int
	truncated      int
	belowThreshold int
}

// normalizeTags validates raw tags against the taxonomy and applies policy:
// invalid tags are dropped, secondaries whose parent did not clear primaryThreshold
// are dropped, the list is cut to maxTags and then tags under confidenceThreshold
// are removed. Parent IDs always come from the taxonomy.
func normalizeTags(m *taxonomy.Mapping, raw []rawTag, primaryThreshold, confidenceThreshold float64, maxTags int) ([]models.WeightedTag, normalizeStats) {
	var stats normalizeStats
	valid := make([]models.WeightedTag, 0, len(raw))
	seen := make(map[models.TagID]bool, len(raw))

	for _, r := range raw {
		tag, ok := validateTag(m, r)
		if !ok || seen[tag.TagID] {
			stats.invalid++
			continue
		}
		seen[tag.TagID] = true
		valid = append(valid, tag)
	}

	primaryWeight := make(map[models.TagID]float64)
	for _, tag := range valid {
		if tag.IsPrimary() {
			primaryWeight[tag.TagID] = tag.Weight
		}
	}
	gated := valid[:0]
	for _, tag := range valid {
		if !tag.IsPrimary() && primaryWeight[tag.Parent()] < primaryThreshold {
			stats.ungated++
			continue
		}
		gated = append(gated, tag)
	}

	if maxTags > 0 && len(gated) > maxTags {
		stats.truncated = len(gated) - maxTags
		gated = gated[:maxTags]
	}

	out := make([]models.WeightedTag, 0, len(gated))
	for _, tag := range gated {
		if tag.Weight < confidenceThreshold {
			stats.belowThreshold++
			continue
		}
		out = append(out, tag)
	}
	return out, stats
}

func validateTag(m *taxonomy.Mapping, r rawTag) (models.WeightedTag, bool) {
	idf, ok := asNumber(r.TagID)
	if !ok || idf != math.Trunc(idf) || idf < 1 || idf > float64(m.Len()) {
		return models.WeightedTag{}, false
	}
	id := models.TagID(idf)

	weight, ok := asNumber(r.Weight)
	if !ok || weight < 0 || weight > 1 {
		return models.WeightedTag{}, false
	}

	level := models.TagLevel(strings.ToLower(strings.TrimSpace(r.Category)))
	def, ok := m.Lookup(id)
	if !ok || !level.Valid() || level != def.Level {
		return models.WeightedTag{}, false
	}

	if level == models.TagLevelPrimary {
		return models.PrimaryTag(id, weight), true
	}
	return models.SecondaryTag(id, weight, def.ParentID), true
}

// asNumber accepts JSON numbers and numeric strings; NaN and infinities are rejected.
func asNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
