package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benvon/tagmatch/internal/database"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/queue"
)

// mockInvalidator is a mock implementation of CacheInvalidator
type mockInvalidator struct {
	mu    sync.Mutex
	users []string
	kinds []models.ContentKind
	err   error
}

func (m *mockInvalidator) InvalidateUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, userID)
	return m.err
}

func (m *mockInvalidator) InvalidateKind(_ context.Context, kind models.ContentKind) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kinds = append(m.kinds, kind)
	return 1, m.err
}

// Ensure mock implements interface
var _ CacheInvalidator = (*mockInvalidator)(nil)

// failingSaveStore fails SaveTags for one entity
type failingSaveStore struct {
	*database.MemoryStore
	failID int64
}

func (s *failingSaveStore) SaveTags(ctx context.Context, kind models.ContentKind, id int64, tags []models.WeightedTag, version string, at time.Time) error {
	if id == s.failID {
		return errors.New("disk full")
	}
	return s.MemoryStore.SaveTags(ctx, kind, id, tags, version, at)
}

var fixedNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func seedStore() *database.MemoryStore {
	store := database.NewMemoryStore()
	fresh := fixedNow.Add(-time.Hour)
	stale := fixedNow.Add(-30 * 24 * time.Hour)
	store.PutEntity(models.TaggedEntity{ID: 1, Kind: models.KindEvent, Title: "Hackathon"})
	store.PutEntity(models.TaggedEntity{ID: 2, Kind: models.KindEvent, Title: "Gallery walk",
		Tags: []models.WeightedTag{models.PrimaryTag(2, 0.9)}, LastAnalyzed: &stale})
	store.PutEntity(models.TaggedEntity{ID: 3, Kind: models.KindEvent, Title: "Fresh talk",
		Tags: []models.WeightedTag{models.PrimaryTag(1, 0.8)}, LastAnalyzed: &fresh})
	store.PutInterest(models.Interest{ID: 10, UserID: "alice", Keyword: "robots"})
	return store
}

func newTestAnalyzer(store AnalysisStore, c Classifier, cache CacheInvalidator) *ContentAnalyzer {
	b, _ := newTestBatcher(c, DefaultBatchOptions())
	a := NewContentAnalyzer(store, b, cache, AnalyzerOptions{StaleAfter: 7 * 24 * time.Hour, Limit: 10, AnalyzerVersion: "test:v1"}, nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func tagsResult(tags ...models.WeightedTag) *models.ClassificationResult {
	return &models.ClassificationResult{Tags: tags, OverallConfidence: 0.85}
}

func TestContentAnalyzer_AnalyzeStale(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore()
	mock := &mockClassifier{
		classifyFunc: func(_ context.Context, subject models.ClassificationSubject) (*models.ClassificationResult, error) {
			s := subject.(models.ContentSubject)
			if s.ExtraContext["kind"] != "event" {
				t.Errorf("expected kind context, got %v", s.ExtraContext)
			}
			if s.Title == "Gallery walk" {
				return nil, errors.New("invalid response shape")
			}
			return tagsResult(models.PrimaryTag(1, 0.9), models.SecondaryTag(3, 0.8, 1)), nil
		},
	}
	a := newTestAnalyzer(store, mock, nil)

	report, err := a.AnalyzeStale(ctx, models.KindEvent)
	if err != nil {
		t.Fatalf("AnalyzeStale() error = %v", err)
	}
	if report.Total != 2 || report.Succeeded != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(report.FailedIDs) != 1 || report.FailedIDs[0] != 2 {
		t.Errorf("FailedIDs = %v, want [2]", report.FailedIDs)
	}
	if mock.callCount() != 2 {
		t.Errorf("expected fresh entity to be skipped, got %d calls", mock.callCount())
	}

	got, _ := store.GetTaggedEntities(ctx, models.KindEvent, database.EntityFilter{IDs: []int64{1, 2}})
	byID := map[int64]models.TaggedEntity{}
	for _, e := range got {
		byID[e.ID] = e
	}

	saved := byID[1]
	if len(saved.Tags) != 2 || saved.AnalyzerVersion != "test:v1" || saved.LastAnalyzed == nil || !saved.LastAnalyzed.Equal(fixedNow) {
		t.Errorf("entity 1 not stamped: %+v", saved)
	}

	failed := byID[2]
	if len(failed.Tags) != 1 || failed.Tags[0].TagID != 2 {
		t.Errorf("failed entity lost its prior tags: %+v", failed.Tags)
	}
	if !failed.NeedsAnalysis(fixedNow.Add(-7 * 24 * time.Hour)) {
		t.Error("failed entity should still need analysis")
	}
}

func TestContentAnalyzer_AnalyzeStaleInvalidatesRecommendations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		fail      bool
		cacheErr  error
		wantKinds []models.ContentKind
	}{
		{"successful pass drops cached lists for the kind", false, nil, []models.ContentKind{models.KindEvent}},
		{"pass without saved tags keeps the cache", true, nil, nil},
		{"cache failure does not fail the pass", false, errors.New("redis down"), []models.ContentKind{models.KindEvent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mock := &mockClassifier{
				classifyFunc: func(context.Context, models.ClassificationSubject) (*models.ClassificationResult, error) {
					if tt.fail {
						return nil, errors.New("boom")
					}
					return tagsResult(models.PrimaryTag(1, 0.9)), nil
				},
			}
			cache := &mockInvalidator{err: tt.cacheErr}
			a := newTestAnalyzer(seedStore(), mock, cache)

			if _, err := a.AnalyzeStale(context.Background(), models.KindEvent); err != nil {
				t.Fatalf("AnalyzeStale() error = %v", err)
			}
			if len(cache.kinds) != len(tt.wantKinds) {
				t.Fatalf("invalidated kinds = %v, want %v", cache.kinds, tt.wantKinds)
			}
			for i := range tt.wantKinds {
				if cache.kinds[i] != tt.wantKinds[i] {
					t.Errorf("invalidated kinds = %v, want %v", cache.kinds, tt.wantKinds)
				}
			}
			if len(cache.users) != 0 {
				t.Errorf("content analysis must not drop profiles, got %v", cache.users)
			}
		})
	}
}

func TestContentAnalyzer_AnalyzeStaleErrors(t *testing.T) {
	t.Parallel()

	t.Run("save failure aborts with partial report", func(t *testing.T) {
		t.Parallel()
		store := &failingSaveStore{MemoryStore: seedStore(), failID: 2}
		a := newTestAnalyzer(store, &mockClassifier{}, nil)

		report, err := a.AnalyzeStale(context.Background(), models.KindEvent)
		if err == nil {
			t.Fatal("expected save error")
		}
		if report == nil || report.Succeeded != 1 {
			t.Errorf("expected partial report with one success, got %+v", report)
		}
	})

	t.Run("nothing to analyze", func(t *testing.T) {
		t.Parallel()
		mock := &mockClassifier{}
		a := newTestAnalyzer(seedStore(), mock, nil)
		report, err := a.AnalyzeStale(context.Background(), models.KindLab)
		if err != nil {
			t.Fatalf("AnalyzeStale() error = %v", err)
		}
		if report.Total != 0 || mock.callCount() != 0 {
			t.Errorf("expected empty pass, got %+v with %d calls", report, mock.callCount())
		}
	})
}

func TestContentAnalyzer_AnalyzeInterest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := seedStore()
	cache := &mockInvalidator{}
	mock := &mockClassifier{
		classifyFunc: func(_ context.Context, subject models.ClassificationSubject) (*models.ClassificationResult, error) {
			s, ok := subject.(models.InterestSubject)
			if !ok || s.Keyword != "robots" {
				t.Errorf("unexpected subject %+v", subject)
			}
			res := tagsResult(models.PrimaryTag(1, 0.8))
			res.SuggestedLabel = "Robotics"
			return res, nil
		},
	}
	a := newTestAnalyzer(store, mock, cache)

	res, err := a.AnalyzeInterestByID(ctx, 10)
	if err != nil {
		t.Fatalf("AnalyzeInterestByID() error = %v", err)
	}
	if res.SuggestedLabel != "Robotics" {
		t.Errorf("SuggestedLabel = %q", res.SuggestedLabel)
	}

	interest, _ := store.GetInterest(ctx, 10)
	if len(interest.LinkedTags) != 1 || interest.SuggestedLabel != "Robotics" || interest.AnalyzerVersion != "test:v1" {
		t.Errorf("interest not updated: %+v", interest)
	}
	if len(cache.users) != 1 || cache.users[0] != "alice" {
		t.Errorf("expected alice's cache to be invalidated, got %v", cache.users)
	}

	if _, err := a.AnalyzeInterestByID(ctx, 404); !errors.Is(err, database.ErrInterestNotFound) {
		t.Errorf("expected ErrInterestNotFound, got %v", err)
	}
}

func TestContentAnalyzer_AnalyzeInterestKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("rate limited")
	mock := &mockClassifier{
		classifyFunc: func(context.Context, models.ClassificationSubject) (*models.ClassificationResult, error) {
			return nil, cause
		},
	}
	cache := &mockInvalidator{}
	a := newTestAnalyzer(seedStore(), mock, cache)

	_, err := a.AnalyzeInterest(context.Background(), &models.Interest{ID: 10, UserID: "alice", Keyword: "robots"})
	if !errors.Is(err, cause) {
		t.Errorf("expected wrapped cause, got %v", err)
	}
	if len(cache.users) != 0 {
		t.Error("cache must not be invalidated on failure")
	}
}

func TestContentAnalyzer_JobProcessors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("reanalyze all failed", func(t *testing.T) {
		t.Parallel()
		mock := &mockClassifier{
			classifyFunc: func(context.Context, models.ClassificationSubject) (*models.ClassificationResult, error) {
				return nil, errors.New("boom")
			},
		}
		a := newTestAnalyzer(seedStore(), mock, nil)
		err := a.ProcessReanalyzeContentJob(ctx, queue.NewReanalyzeContentJob(models.KindEvent))
		if !errors.Is(err, ErrAllItemsFailed) {
			t.Errorf("expected ErrAllItemsFailed, got %v", err)
		}
	})

	t.Run("reanalyze interrupted by shutdown", func(t *testing.T) {
		t.Parallel()
		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		mock := &mockClassifier{
			classifyFunc: func(context.Context, models.ClassificationSubject) (*models.ClassificationResult, error) {
				cancel()
				return nil, context.Canceled
			},
		}
		a := newTestAnalyzer(seedStore(), mock, nil)
		err := a.ProcessReanalyzeContentJob(jobCtx, queue.NewReanalyzeContentJob(models.KindEvent))
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if errors.Is(err, ErrAllItemsFailed) {
			t.Errorf("an interrupted pass must not count as all items failed: %v", err)
		}
	})

	t.Run("reanalyze missing kind", func(t *testing.T) {
		t.Parallel()
		a := newTestAnalyzer(seedStore(), &mockClassifier{}, nil)
		if err := a.ProcessReanalyzeContentJob(ctx, queue.NewJob(queue.JobTypeReanalyzeContent, "")); err == nil {
			t.Error("expected error for missing kind")
		}
	})

	t.Run("analyze interest job", func(t *testing.T) {
		t.Parallel()
		a := newTestAnalyzer(seedStore(), &mockClassifier{}, nil)
		if err := a.ProcessAnalyzeInterestJob(ctx, queue.NewAnalyzeInterestJob("alice", 10)); err != nil {
			t.Errorf("ProcessAnalyzeInterestJob() error = %v", err)
		}
	})
}
