package models

// ClassificationMode selects content or interest classification
type ClassificationMode string

const (
	ModeContent  ClassificationMode = "content"
	ModeInterest ClassificationMode = "interest"
)

// ClassificationSubject is the text submitted for classification. It is closed:
// the only implementations are ContentSubject and InterestSubject.
type ClassificationSubject interface {
	Mode() ClassificationMode
	isClassificationSubject()
}

// ContentSubject describes an event, organization or lab
type ContentSubject struct {
	Title        string            `json:"title"`
	Body         string            `json:"body"`
	ExtraContext map[string]string `json:"extraContext,omitempty"`
}

// Mode implements ClassificationSubject
func (ContentSubject) Mode() ClassificationMode { return ModeContent }

func (ContentSubject) isClassificationSubject() {}

// InterestSubject describes a user-declared interest
type InterestSubject struct {
	Keyword     string            `json:"keyword"`
	Description string            `json:"description,omitempty"`
	UserContext map[string]string `json:"userContext,omitempty"`
}

// Mode implements ClassificationSubject
func (InterestSubject) Mode() ClassificationMode { return ModeInterest }

func (InterestSubject) isClassificationSubject() {}

// ClassificationResult is the filtered output of one classification
type ClassificationResult struct {
	Tags              []WeightedTag `json:"tags"`
	OverallConfidence float64       `json:"overallConfidence"`
	// SuggestedLabel is only set for interests.
	SuggestedLabel string `json:"suggestedLabel,omitempty"`
}
