package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/google/uuid"
)

// JobType represents the type of job
type JobType string

const (
	// JobTypeReanalyzeContent re-tags stale entities of one kind (metadata "kind")
	JobTypeReanalyzeContent JobType = "reanalyze_content"
	// JobTypeAnalyzeInterest tags a single user interest (metadata "interest_id")
	JobTypeAnalyzeInterest JobType = "analyze_interest"

	// MetadataKind holds the content kind for reanalysis jobs
	MetadataKind = "kind"
	// MetadataInterestID holds the interest ID for interest jobs
	MetadataInterestID = "interest_id"

	// DefaultMaxRetries is the retry budget of new jobs
	DefaultMaxRetries = 3
)

// Job represents a job in the queue
type Job struct {
	ID         uuid.UUID      `json:"id"`
	Type       JobType        `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	NotBefore  *time.Time     `json:"not_before,omitempty"` // Earliest time to process job (nil = immediate)
	NotAfter   *time.Time     `json:"not_after,omitempty"`  // Latest time to process job (nil = no expiration)
	Metadata   map[string]any `json:"metadata,omitempty"`   // Job-specific data
	CreatedAt  time.Time      `json:"created_at"`
	RetryCount int            `json:"retry_count"`
	MaxRetries int            `json:"max_retries"`
}

// NewJob creates a new job
func NewJob(jobType JobType, userID string) *Job {
	return &Job{
		ID:         uuid.New(),
		Type:       jobType,
		UserID:     userID,
		Metadata:   make(map[string]any),
		CreatedAt:  time.Now(),
		RetryCount: 0,
		MaxRetries: DefaultMaxRetries,
	}
}

// NewReanalyzeContentJob creates a reanalysis job for one content kind
func NewReanalyzeContentJob(kind models.ContentKind) *Job {
	job := NewJob(JobTypeReanalyzeContent, "")
	job.Metadata[MetadataKind] = string(kind)
	return job
}

// NewAnalyzeInterestJob creates an analysis job for a user interest
func NewAnalyzeInterestJob(userID string, interestID int64) *Job {
	job := NewJob(JobTypeAnalyzeInterest, userID)
	job.Metadata[MetadataInterestID] = interestID
	return job
}

// Kind returns the content kind of a reanalysis job
func (j *Job) Kind() (models.ContentKind, error) {
	raw, ok := j.Metadata[MetadataKind].(string)
	if !ok {
		return "", fmt.Errorf("job %s: metadata %q is missing", j.ID, MetadataKind)
	}
	return models.ParseContentKind(raw)
}

// InterestID returns the interest ID of an interest job. JSON decoding turns the
// stored integer into a float64, so numeric strings and floats are accepted.
func (j *Job) InterestID() (int64, error) {
	switch v := j.Metadata[MetadataInterestID].(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != float64(int64(v)) {
			return 0, fmt.Errorf("job %s: interest_id %v is not an integer", j.ID, v)
		}
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	case nil:
		return 0, fmt.Errorf("job %s: metadata %q is missing", j.ID, MetadataInterestID)
	default:
		return 0, fmt.Errorf("job %s: unexpected interest_id type %T", j.ID, v)
	}
}

// ShouldProcess checks if the job should be processed now
func (j *Job) ShouldProcess() bool {
	now := time.Now()

	if j.NotBefore != nil && now.Before(*j.NotBefore) {
		return false
	}

	if j.NotAfter != nil && now.After(*j.NotAfter) {
		return false
	}

	return true
}

// IsExpired checks if the job has expired
func (j *Job) IsExpired() bool {
	if j.NotAfter == nil {
		return false
	}

	return time.Now().After(*j.NotAfter)
}

// CanRetry checks if the job can be retried
func (j *Job) CanRetry() bool {
	return j.RetryCount < j.MaxRetries
}

// IncrementRetry increments the retry count
func (j *Job) IncrementRetry() {
	j.RetryCount++
}

// Delayed returns a copy of the job scheduled for notBefore with one more retry recorded.
func (j *Job) Delayed(notBefore time.Time) *Job {
	delayed := *j
	delayed.NotBefore = &notBefore
	delayed.RetryCount = j.RetryCount + 1
	return &delayed
}
