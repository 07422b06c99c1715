package ai

import (
	"fmt"
	"sort"
	"strings"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/taxonomy"
	"github.com/benvon/tagmatch/internal/validation"
)

const (
	// maxSubjectBodyLength bounds the description text sent to the oracle
	maxSubjectBodyLength = 4000
	// maxContextValueLength bounds each extra context value
	maxContextValueLength = 300

	systemPrompt = "You classify university events, organizations, research labs and student interests " +
		"against a fixed two-level tag taxonomy. Use only the tag IDs you are given. Respond with valid JSON only."
)

// promptOptions are the policy values rendered into the instructions
type promptOptions struct {
	primaryThreshold    float64
	confidenceThreshold float64
	maxTags             int
	secondarySample     int
}

// buildRequest renders the classification request for subject.
func buildRequest(m *taxonomy.Mapping, subject models.ClassificationSubject, opts promptOptions) (*ClassificationRequest, error) {
	var b strings.Builder

	switch s := subject.(type) {
	case models.ContentSubject:
		kind := s.ExtraContext["kind"]
		if kind == "" {
			kind = "content item"
		}
		fmt.Fprintf(&b, "Classify the following %s using ONLY the tag IDs listed below.\n\n", kind)
	case models.InterestSubject:
		b.WriteString("Classify the following student interest using ONLY the tag IDs listed below, ")
		b.WriteString("and suggest a short canonical name for it.\n\n")
	default:
		return nil, fmt.Errorf("unsupported subject type %T", subject)
	}

	writeTaxonomy(&b, m, opts.secondarySample)
	writeRules(&b, subject.Mode(), opts)

	switch s := subject.(type) {
	case models.ContentSubject:
		b.WriteString("CONTENT:\n")
		fmt.Fprintf(&b, "Title: %s\n", clean(s.Title, maxContextValueLength))
		fmt.Fprintf(&b, "Description: %s\n", clean(s.Body, maxSubjectBodyLength))
		writeContext(&b, s.ExtraContext, "kind")
	case models.InterestSubject:
		b.WriteString("INTEREST:\n")
		fmt.Fprintf(&b, "Keyword: %s\n", clean(s.Keyword, maxContextValueLength))
		if s.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", clean(s.Description, maxSubjectBodyLength))
		}
		writeContext(&b, s.UserContext)
	}

	b.WriteString("\nRespond with JSON in exactly this shape:\n")
	if subject.Mode() == models.ModeInterest {
		b.WriteString(`{"tags":[{"tagId":1,"weight":0.9,"category":"primary"},{"tagId":20,"weight":0.8,"category":"secondary","parentTagId":1}],"overallConfidence":0.85,"suggestedInterestName":"short name"}`)
	} else {
		b.WriteString(`{"tags":[{"tagId":1,"weight":0.9,"category":"primary"},{"tagId":20,"weight":0.8,"category":"secondary","parentTagId":1}],"overallConfidence":0.85}`)
	}
	b.WriteString("\n")

	return &ClassificationRequest{
		Mode:         subject.Mode(),
		SystemPrompt: systemPrompt,
		Prompt:       b.String(),
		MaxTags:      opts.maxTags,
	}, nil
}

func writeTaxonomy(b *strings.Builder, m *taxonomy.Mapping, sample int) {
	fmt.Fprintf(b, "PRIMARY TAGS (IDs 1-%d):\n", m.PrimaryCount())
	for _, tag := range m.Primaries() {
		if tag.Description != "" {
			fmt.Fprintf(b, "%d: %s - %s\n", tag.ID, tag.Name, tag.Description)
		} else {
			fmt.Fprintf(b, "%d: %s\n", tag.ID, tag.Name)
		}
	}

	if m.SecondaryCount() == 0 {
		b.WriteString("\n")
		return
	}
	fmt.Fprintf(b, "\nSECONDARY TAGS (IDs %d-%d), grouped by parent:\n", m.PrimaryCount()+1, m.Len())
	for _, parent := range m.Primaries() {
		children := m.Children(parent.ID)
		if len(children) == 0 {
			continue
		}
		if sample > 0 && len(children) > sample {
			children = children[:sample]
		}
		parts := make([]string, 0, len(children))
		for _, child := range children {
			parts = append(parts, fmt.Sprintf("%d: %s", child.ID, child.Name))
		}
		fmt.Fprintf(b, "under %d (%s): %s\n", parent.ID, parent.Name, strings.Join(parts, ", "))
	}
	b.WriteString("\n")
}

func writeRules(b *strings.Builder, mode models.ClassificationMode, opts promptOptions) {
	b.WriteString("RULES:\n")
	b.WriteString("1. Assign weights (0.0 to 1.0) to the relevant PRIMARY tags first.\n")
	fmt.Fprintf(b, "2. Only primary tags with weight >= %.2f may receive secondary tags.\n", opts.primaryThreshold)
	b.WriteString("3. Every secondary tag MUST include parentTagId set to the ID of its primary tag.\n")
	fmt.Fprintf(b, "4. Omit tags with weight below %.2f.\n", opts.confidenceThreshold)
	fmt.Fprintf(b, "5. Return at most %d tags, strongest first.\n", opts.maxTags)
	b.WriteString("6. category is \"primary\" or \"secondary\" and must match the list above.\n")
	if mode == models.ModeInterest {
		b.WriteString("7. suggestedInterestName is a concise, human readable name for the interest.\n")
	}
	b.WriteString("\n")
}

// writeContext renders key/value context in sorted key order, skipping keys in skip.
func writeContext(b *strings.Builder, ctx map[string]string, skip ...string) {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		if contains(skip, k) || strings.TrimSpace(ctx[k]) == "" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return
	}
	sort.Strings(keys)
	b.WriteString("Context:\n")
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", clean(k, 64), clean(ctx[k], maxContextValueLength))
	}
}

func clean(s string, maxLen int) string {
	s = validation.SanitizeText(s)
	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && (s[cut]&0xC0) == 0x80 {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
