package database

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/benvon/tagmatch/internal/models"
)

// Fixtures is the JSON document MemoryStore loads
type Fixtures struct {
	Entities  []models.TaggedEntity `json:"entities"`
	Interests []models.Interest     `json:"interests"`
}

type entityKey struct {
	kind models.ContentKind
	id   int64
}

// MemoryStore implements Store in process memory. It backs the CLI's offline
// mode and tests; values are copied on the way in and out.
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[entityKey]models.TaggedEntity
	interests map[int64]models.Interest
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:  make(map[entityKey]models.TaggedEntity),
		interests: make(map[int64]models.Interest),
	}
}

// LoadFixtures reads a Fixtures document into the store
func (s *MemoryStore) LoadFixtures(r io.Reader) error {
	var fx Fixtures
	if err := json.NewDecoder(r).Decode(&fx); err != nil {
		return fmt.Errorf("failed to decode fixtures: %w", err)
	}
	for _, e := range fx.Entities {
		kind, err := models.ParseContentKind(string(e.Kind))
		if err != nil {
			return fmt.Errorf("entity %d: %w", e.ID, err)
		}
		e.Kind = kind
		s.PutEntity(e)
	}
	for _, i := range fx.Interests {
		s.PutInterest(i)
	}
	return nil
}

// LoadFixturesFile opens path and loads it
func (s *MemoryStore) LoadFixturesFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open fixtures: %w", err)
	}
	defer f.Close()
	return s.LoadFixtures(f)
}

// PutEntity inserts or replaces an entity
func (s *MemoryStore) PutEntity(e models.TaggedEntity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entityKey{e.Kind, e.ID}] = cloneEntity(e)
}

// PutInterest inserts or replaces an interest
func (s *MemoryStore) PutInterest(i models.Interest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i.LinkedTags = models.CloneTags(i.LinkedTags)
	s.interests[i.ID] = i
}

// GetTaggedEntities implements EntityStore
func (s *MemoryStore) GetTaggedEntities(_ context.Context, kind models.ContentKind, filter EntityFilter) ([]models.TaggedEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TaggedEntity
	for key, e := range s.entities {
		if key.kind != kind || !filter.Matches(&e) {
			continue
		}
		out = append(out, cloneEntity(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// SaveTags implements EntityStore
func (s *MemoryStore) SaveTags(_ context.Context, kind models.ContentKind, id int64, tags []models.WeightedTag, analyzerVersion string, analyzedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey{kind, id}
	e, ok := s.entities[key]
	if !ok {
		return fmt.Errorf("%s %d: %w", kind, id, ErrEntityNotFound)
	}
	e.Tags = models.CloneTags(tags)
	if e.Tags == nil {
		e.Tags = []models.WeightedTag{}
	}
	e.AnalyzerVersion = analyzerVersion
	at := analyzedAt
	e.LastAnalyzed = &at
	s.entities[key] = e
	return nil
}

// GetInterest implements InterestStore
func (s *MemoryStore) GetInterest(_ context.Context, id int64) (*models.Interest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.interests[id]
	if !ok {
		return nil, fmt.Errorf("interest %d: %w", id, ErrInterestNotFound)
	}
	i.LinkedTags = models.CloneTags(i.LinkedTags)
	return &i, nil
}

// GetUserInterestProfile implements InterestStore
func (s *MemoryStore) GetUserInterestProfile(_ context.Context, userID string) (*models.UserInterestProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile := s.profileLocked(userID)
	if len(profile.Interests) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrProfileNotFound)
	}
	return &profile, nil
}

// GetPeerProfiles implements InterestStore
func (s *MemoryStore) GetPeerProfiles(_ context.Context, userID string, tagIDs []models.TagID, limit int) ([]models.UserInterestProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make(map[string]bool)
	for _, i := range s.interests {
		if i.UserID == userID {
			continue
		}
		for _, tag := range i.LinkedTags {
			if containsTag(tagIDs, tag.TagID) {
				peers[i.UserID] = true
				break
			}
		}
	}

	ids := make([]string, 0, len(peers))
	for id := range peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]models.UserInterestProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.profileLocked(id))
	}
	return out, nil
}

func (s *MemoryStore) profileLocked(userID string) models.UserInterestProfile {
	profile := models.UserInterestProfile{UserID: userID}
	for _, i := range s.interests {
		if i.UserID == userID {
			i.LinkedTags = models.CloneTags(i.LinkedTags)
			profile.Interests = append(profile.Interests, i)
		}
	}
	sort.Slice(profile.Interests, func(a, b int) bool { return profile.Interests[a].ID < profile.Interests[b].ID })
	return profile
}

// SaveInterestTags implements InterestStore
func (s *MemoryStore) SaveInterestTags(_ context.Context, id int64, tags []models.WeightedTag, suggestedLabel, analyzerVersion string, analyzedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.interests[id]
	if !ok {
		return fmt.Errorf("interest %d: %w", id, ErrInterestNotFound)
	}
	i.LinkedTags = models.CloneTags(tags)
	i.SuggestedLabel = suggestedLabel
	i.AnalyzerVersion = analyzerVersion
	at := analyzedAt
	i.LastAnalyzed = &at
	s.interests[id] = i
	return nil
}

// HealthCheck implements Store
func (s *MemoryStore) HealthCheck(ctx context.Context) error { return ctx.Err() }

// Close implements Store
func (s *MemoryStore) Close() error { return nil }

func cloneEntity(e models.TaggedEntity) models.TaggedEntity {
	e.Tags = models.CloneTags(e.Tags)
	if e.LastAnalyzed != nil {
		t := *e.LastAnalyzed
		e.LastAnalyzed = &t
	}
	if e.StartTime != nil {
		t := *e.StartTime
		e.StartTime = &t
	}
	if e.EndTime != nil {
		t := *e.EndTime
		e.EndTime = &t
	}
	return e
}

var _ Store = (*MemoryStore)(nil)
