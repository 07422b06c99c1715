package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/queue"
)

func TestReprocessor_ScheduleReprocessingJobs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		enqueueErr  func(job *queue.Job) error
		expectError bool
		wantJobs    int
	}{
		{
			name:     "one job per kind",
			wantJobs: 3,
		},
		{
			name: "enqueue failure still schedules remaining kinds",
			enqueueErr: func(job *queue.Job) error {
				if job.Metadata[queue.MetadataKind] == string(models.KindOrganization) {
					return errors.New("channel closed")
				}
				return nil
			},
			expectError: true,
			wantJobs:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			q := &mockJobQueue{}
			if tt.enqueueErr != nil {
				q.enqueueFunc = func(_ context.Context, job *queue.Job) error { return tt.enqueueErr(job) }
			}
			r := NewReprocessor(q, time.Hour, nil)
			r.now = func() time.Time { return fixedNow }

			err := r.ScheduleReprocessingJobs(context.Background())
			if (err != nil) != tt.expectError {
				t.Errorf("ScheduleReprocessingJobs() error = %v, expectError %v", err, tt.expectError)
			}

			jobs := q.jobs()
			if len(jobs) != tt.wantJobs {
				t.Fatalf("expected %d jobs, got %d", tt.wantJobs, len(jobs))
			}
			for _, job := range jobs {
				if job.Type != queue.JobTypeReanalyzeContent {
					t.Errorf("unexpected job type %s", job.Type)
				}
				if _, err := job.Kind(); err != nil {
					t.Errorf("job kind: %v", err)
				}
				if job.NotAfter == nil || !job.NotAfter.Equal(fixedNow.Add(time.Hour)) {
					t.Errorf("NotAfter = %v, want next tick", job.NotAfter)
				}
			}
		})
	}
}

func TestReprocessor_StartStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	q := &mockJobQueue{
		enqueueFunc: func(context.Context, *queue.Job) error {
			cancel()
			return nil
		},
	}
	r := NewReprocessor(q, time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	if len(q.jobs()) == 0 {
		t.Error("expected an immediate scheduling pass")
	}
}
