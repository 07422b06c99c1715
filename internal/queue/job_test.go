package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/google/uuid"
)

func TestNewReanalyzeContentJob(t *testing.T) {
	t.Parallel()

	job := NewReanalyzeContentJob(models.KindLab)

	if job.ID == uuid.Nil {
		t.Error("Expected job ID to be set")
	}
	if job.Type != JobTypeReanalyzeContent {
		t.Errorf("Expected job type %s, got %s", JobTypeReanalyzeContent, job.Type)
	}
	if job.MaxRetries != DefaultMaxRetries || job.RetryCount != 0 {
		t.Errorf("unexpected retry budget %d/%d", job.RetryCount, job.MaxRetries)
	}
	kind, err := job.Kind()
	if err != nil || kind != models.KindLab {
		t.Errorf("Kind() = %q, %v", kind, err)
	}
}

func TestJob_MetadataSurvivesEncoding(t *testing.T) {
	t.Parallel()

	job := NewAnalyzeInterestJob("user-7", 9001)
	body, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded Job
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	id, err := decoded.InterestID()
	if err != nil || id != 9001 {
		t.Errorf("InterestID() = %d, %v", id, err)
	}
	if decoded.UserID != "user-7" || decoded.Type != JobTypeAnalyzeInterest {
		t.Errorf("unexpected decoded job %+v", decoded)
	}
}

func TestJob_MetadataErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		metadata map[string]any
	}{
		{name: "missing interest", metadata: map[string]any{}},
		{name: "fractional interest", metadata: map[string]any{MetadataInterestID: 1.5}},
		{name: "wrong type", metadata: map[string]any{MetadataInterestID: true}},
		{name: "bad string", metadata: map[string]any{MetadataInterestID: "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := &Job{ID: uuid.New(), Metadata: tt.metadata}
			if _, err := job.InterestID(); err == nil {
				t.Error("expected error")
			}
		})
	}

	job := &Job{ID: uuid.New(), Metadata: map[string]any{MetadataKind: "concerts"}}
	if _, err := job.Kind(); err == nil {
		t.Error("expected unknown kind error")
	}
	job = &Job{ID: uuid.New(), Metadata: map[string]any{MetadataInterestID: "42"}}
	if id, err := job.InterestID(); err != nil || id != 42 {
		t.Errorf("InterestID(string) = %d, %v", id, err)
	}
}

func TestJob_ShouldProcess(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name      string
		notBefore *time.Time
		notAfter  *time.Time
		want      bool
	}{
		{name: "no time constraints", want: true},
		{name: "not before in past", notBefore: timePtr(now.Add(-time.Hour)), want: true},
		{name: "not before in future", notBefore: timePtr(now.Add(time.Hour)), want: false},
		{name: "not after in past", notAfter: timePtr(now.Add(-time.Hour)), want: false},
		{name: "within time window", notBefore: timePtr(now.Add(-time.Hour)), notAfter: timePtr(now.Add(time.Hour)), want: true},
		{name: "outside time window - before", notBefore: timePtr(now.Add(time.Hour)), notAfter: timePtr(now.Add(2 * time.Hour)), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			job := &Job{ID: uuid.New(), Type: JobTypeReanalyzeContent, NotBefore: tt.notBefore, NotAfter: tt.notAfter}
			if got := job.ShouldProcess(); got != tt.want {
				t.Errorf("ShouldProcess() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJob_IsExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	if (&Job{}).IsExpired() {
		t.Error("job without NotAfter should not expire")
	}
	if !(&Job{NotAfter: timePtr(now.Add(-time.Minute))}).IsExpired() {
		t.Error("past NotAfter should be expired")
	}
	if (&Job{NotAfter: timePtr(now.Add(time.Minute))}).IsExpired() {
		t.Error("future NotAfter should not be expired")
	}
}

func TestJob_Retries(t *testing.T) {
	t.Parallel()

	job := NewReanalyzeContentJob(models.KindEvent)
	for i := 0; i < DefaultMaxRetries; i++ {
		if !job.CanRetry() {
			t.Fatalf("CanRetry() false after %d retries", i)
		}
		job.IncrementRetry()
	}
	if job.CanRetry() {
		t.Error("CanRetry() should be false at max retries")
	}

	at := time.Now().Add(time.Minute)
	fresh := NewReanalyzeContentJob(models.KindEvent)
	delayed := fresh.Delayed(at)
	if delayed.ID != fresh.ID || delayed.RetryCount != 1 || delayed.NotBefore == nil || !delayed.NotBefore.Equal(at) {
		t.Errorf("unexpected delayed job %+v", delayed)
	}
	if fresh.RetryCount != 0 || fresh.NotBefore != nil {
		t.Error("Delayed must not modify the original job")
	}
}

func TestBuildPublishing(t *testing.T) {
	t.Parallel()

	now := time.Now()
	future := now.Add(90 * time.Second)
	expires := now.Add(time.Hour)

	tests := []struct {
		name         string
		job          *Job
		delayed      bool
		wantExchange string
		wantDelay    bool
		wantExpiry   bool
	}{
		{name: "immediate", job: NewReanalyzeContentJob(models.KindEvent), delayed: true, wantExchange: "main"},
		{name: "future via delayed exchange", job: &Job{ID: uuid.New(), NotBefore: &future}, delayed: true, wantExchange: "delayed", wantDelay: true},
		{name: "future without plugin", job: &Job{ID: uuid.New(), NotBefore: &future}, delayed: false, wantExchange: "main"},
		{name: "expiring", job: &Job{ID: uuid.New(), NotAfter: &expires}, delayed: true, wantExchange: "main", wantExpiry: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exchange, pub, err := buildPublishing(tt.job, "main", "delayed", tt.delayed, now)
			if err != nil {
				t.Fatalf("buildPublishing() error = %v", err)
			}
			if exchange != tt.wantExchange {
				t.Errorf("exchange = %s, want %s", exchange, tt.wantExchange)
			}
			if _, ok := pub.Headers["x-delay"]; ok != tt.wantDelay {
				t.Errorf("x-delay present = %v, want %v", ok, tt.wantDelay)
			}
			if (pub.Expiration != "") != tt.wantExpiry {
				t.Errorf("Expiration = %q", pub.Expiration)
			}
			if pub.MessageId != tt.job.ID.String() || pub.ContentType != "application/json" {
				t.Errorf("unexpected publishing %+v", pub)
			}
		})
	}
}

func TestRabbitMQQueue_Integration(t *testing.T) {
	t.Skip("Requires RabbitMQ setup")
}

// Helper function to create time pointers
func timePtr(t time.Time) *time.Time {
	return &t
}
