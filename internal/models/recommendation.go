package models

// RecommendationScore explains why an entity was recommended. It is derived
// on every matching call and never persisted.
type RecommendationScore struct {
	Score                 float64  `json:"score"`
	Confidence            float64  `json:"confidence"`
	Reasons               []string `json:"reasons,omitempty"`
	MatchedInterestTagIDs []TagID  `json:"matchedInterestTagIds"`
	MatchedInterests      []string `json:"matchedInterests,omitempty"`
}

// Recommendation pairs an entity with its score
type Recommendation struct {
	Entity    TaggedEntity `json:"entity"`
	Algorithm string       `json:"algorithm"`
	RecommendationScore
}

// RecommendationMetrics summarizes one matching call
type RecommendationMetrics struct {
	TotalRecommendations int      `json:"totalRecommendations"`
	AverageScore         float64  `json:"averageScore"`
	AlgorithmsUsed       []string `json:"algorithmsUsed"`
	ProcessingTimeMs     int64    `json:"processingTimeMs"`
	CoverageScore        float64  `json:"coverageScore"`
}
