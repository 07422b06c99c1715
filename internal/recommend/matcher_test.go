package recommend

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/benvon/tagmatch/internal/taxonomy"
)

var testNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

// scenarioMapping is technology(1), arts(2), ai(3, parent technology)
func scenarioMapping(t *testing.T) *taxonomy.Mapping {
	t.Helper()
	m, err := taxonomy.BuildMapping([]taxonomy.TagDefinition{
		{Name: "technology", Level: models.TagLevelPrimary},
		{Name: "arts", Level: models.TagLevelPrimary},
		{Name: "ai", Level: models.TagLevelSecondary, Parent: "technology"},
	})
	if err != nil {
		t.Fatalf("BuildMapping() error = %v", err)
	}
	return m
}

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m := NewMatcher(scenarioMapping(t), DefaultThresholds(), nil)
	m.now = func() time.Time { return testNow }
	return m
}

func profileOf(userID string, interests ...models.Interest) *models.UserInterestProfile {
	for i := range interests {
		interests[i].UserID = userID
	}
	return &models.UserInterestProfile{UserID: userID, Interests: interests}
}

func interest(id int64, keyword string, tags ...models.WeightedTag) models.Interest {
	return models.Interest{ID: id, Keyword: keyword, LinkedTags: tags}
}

func org(id int64, age time.Duration, tags ...models.WeightedTag) models.TaggedEntity {
	return models.TaggedEntity{ID: id, Kind: models.KindOrganization, Title: "org", Tags: tags, CreatedAt: testNow.Add(-age)}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func ids(items []models.Recommendation) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.Entity.ID
	}
	return out
}

func TestMatch_NoQualifyingInterests(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	profile := profileOf("alice", interest(1, "tech", models.PrimaryTag(1, 0.5)))
	pool := []models.TaggedEntity{org(1, time.Hour, models.PrimaryTag(1, 1.0), models.SecondaryTag(3, 1.0, 1))}
	peers := []models.UserInterestProfile{*profileOf("bob", interest(2, "tech", models.PrimaryTag(1, 0.9)))}

	for _, algo := range []Algorithm{AlgorithmContentBased, AlgorithmCollaborative, AlgorithmHybrid} {
		res, err := m.MatchOrganizations(context.Background(), profile, pool, MatchOptions{Algorithm: algo, Peers: peers})
		if err != nil {
			t.Fatalf("%s: Match() error = %v", algo, err)
		}
		if len(res.Items) != 0 || res.Status != StatusNoQualifyingInterests {
			t.Errorf("%s: expected empty result with no_qualifying_interests, got %d items status %s", algo, len(res.Items), res.Status)
		}
	}

	res, _ := m.MatchOrganizations(context.Background(), nil, pool, MatchOptions{})
	if res.Status != StatusNoQualifyingInterests {
		t.Errorf("nil profile: status = %s", res.Status)
	}
}

func TestMatch_EndToEndScenario(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	entity := org(7, time.Hour, models.PrimaryTag(1, 0.9), models.SecondaryTag(3, 0.8, 1))
	// Stored interest tags may omit the level; the taxonomy supplies it
	profile := profileOf("alice", interest(1, "robots", models.WeightedTag{TagID: 1, Weight: 0.8}))

	res, err := m.MatchOrganizations(context.Background(), profile, []models.TaggedEntity{entity}, MatchOptions{IncludeReasons: true})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if res.Status != StatusOK || len(res.Items) != 1 {
		t.Fatalf("expected one match, got %+v", res)
	}
	rec := res.Items[0]
	if rec.Entity.ID != 7 || rec.Algorithm != string(AlgorithmContentBased) {
		t.Errorf("unexpected recommendation %+v", rec)
	}
	if !approx(rec.Score, 0.85) {
		t.Errorf("score = %v, want 0.85", rec.Score)
	}
	if !approx(rec.Confidence, 0.85) {
		t.Errorf("confidence = %v, want mean of matched weights 0.85", rec.Confidence)
	}
	if len(rec.MatchedInterestTagIDs) != 1 || rec.MatchedInterestTagIDs[0] != 1 {
		t.Errorf("matched interest tags = %v, want [1]", rec.MatchedInterestTagIDs)
	}
	if len(rec.MatchedInterests) != 1 || rec.MatchedInterests[0] != "robots" {
		t.Errorf("matched interests = %v", rec.MatchedInterests)
	}

	joined := strings.Join(rec.Reasons, " | ")
	for _, want := range []string{"Matches your interests: robots", "Related to: technology (#1), ai (#3)", "High confidence match"} {
		if !strings.Contains(joined, want) {
			t.Errorf("reasons %q missing %q", joined, want)
		}
	}

	if res.Metrics.TotalRecommendations != 1 || !approx(res.Metrics.AverageScore, 0.85) || res.Metrics.CoverageScore != 1 {
		t.Errorf("unexpected metrics %+v", res.Metrics)
	}

	noReasons, _ := m.MatchOrganizations(context.Background(), profile, []models.TaggedEntity{entity}, MatchOptions{})
	if len(noReasons.Items[0].Reasons) != 0 {
		t.Errorf("reasons attached without IncludeReasons: %v", noReasons.Items[0].Reasons)
	}
}

func TestMatch_TwoPhaseThresholds(t *testing.T) {
	t.Parallel()

	profile := profileOf("alice",
		interest(1, "tech", models.PrimaryTag(1, 0.8)),
		interest(2, "art", models.PrimaryTag(2, 0.6)),
	)

	tests := []struct {
		name      string
		tags      []models.WeightedTag
		wantMatch bool
		wantScore float64
	}{
		{"primary at threshold", []models.WeightedTag{models.PrimaryTag(1, 0.7)}, true, 0.75},
		{"primary below threshold", []models.WeightedTag{models.PrimaryTag(1, 0.65)}, false, 0},
		{"secondary via qualifying parent", []models.WeightedTag{models.SecondaryTag(3, 0.65, 1)}, true, 0.725},
		{"secondary below secondary bar", []models.WeightedTag{models.SecondaryTag(3, 0.55, 1)}, false, 0},
		{"primary the user holds below bar", []models.WeightedTag{models.PrimaryTag(2, 0.95)}, false, 0},
		{"best pair wins", []models.WeightedTag{models.SecondaryTag(3, 0.6, 1), models.PrimaryTag(1, 1.0)}, true, 0.9},
		{"untagged entity", nil, false, 0},
	}

	m := newTestMatcher(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := m.MatchOrganizations(context.Background(), profile, []models.TaggedEntity{org(1, time.Hour, tt.tags...)}, MatchOptions{})
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			if got := len(res.Items) == 1; got != tt.wantMatch {
				t.Fatalf("matched = %v, want %v", got, tt.wantMatch)
			}
			if !tt.wantMatch {
				if res.Status != StatusNoMatches {
					t.Errorf("status = %s, want no_matches", res.Status)
				}
				return
			}
			if !approx(res.Items[0].Score, tt.wantScore) {
				t.Errorf("score = %v, want %v", res.Items[0].Score, tt.wantScore)
			}
		})
	}
}

func TestMatch_RankingFilterAndLimit(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	profile := profileOf("alice", interest(1, "tech", models.PrimaryTag(1, 0.8)))
	pool := []models.TaggedEntity{
		org(1, 3*time.Hour, models.PrimaryTag(1, 0.9)), // 0.85
		org(2, 2*time.Hour, models.PrimaryTag(1, 1.0)), // 0.90
		org(3, 1*time.Hour, models.PrimaryTag(1, 0.9)), // 0.85, newer than 1
		org(4, 1*time.Hour, models.PrimaryTag(1, 0.9)), // 0.85, same age as 3
		org(5, 1*time.Hour, models.PrimaryTag(1, 0.7)), // 0.75
		org(6, 1*time.Hour, models.PrimaryTag(2, 0.9)), // no match
	}
	pool = append(pool, models.TaggedEntity{ID: 9, Kind: models.KindLab, AcceptingStudents: true, Tags: []models.WeightedTag{models.PrimaryTag(1, 1)}})

	tests := []struct {
		name string
		opts MatchOptions
		want []int64
	}{
		{"score then recency then id", MatchOptions{}, []int64{2, 3, 4, 1, 5}},
		{"min score", MatchOptions{MinScore: 0.8}, []int64{2, 3, 4, 1}},
		{"limit", MatchOptions{Limit: 2}, []int64{2, 3}},
		{"min score above all", MatchOptions{MinScore: 0.95}, []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			res, err := m.MatchOrganizations(context.Background(), profile, pool, tt.opts)
			if err != nil {
				t.Fatalf("Match() error = %v", err)
			}
			got := ids(res.Items)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestMatch_EventsAndLabs(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	profile := profileOf("alice", interest(1, "tech", models.PrimaryTag(1, 0.8)))
	at := func(d time.Duration) *time.Time {
		ts := testNow.Add(d)
		return &ts
	}
	tag := models.PrimaryTag(1, 0.9)

	events := []models.TaggedEntity{
		{ID: 1, Kind: models.KindEvent, StartTime: at(-48 * time.Hour), EndTime: at(-47 * time.Hour), Tags: []models.WeightedTag{tag}},
		{ID: 2, Kind: models.KindEvent, StartTime: at(15 * 24 * time.Hour), Tags: []models.WeightedTag{tag}},
		{ID: 3, Kind: models.KindEvent, StartTime: at(60 * 24 * time.Hour), Tags: []models.WeightedTag{tag}},
	}

	res, _ := m.MatchEvents(context.Background(), profile, events, MatchOptions{})
	if got := ids(res.Items); len(got) != 2 || got[0] != 3 || got[1] != 2 {
		t.Fatalf("expected [3 2] with ended event excluded, got %v", got)
	}
	if !approx(res.Items[0].Score, 0.85) {
		t.Errorf("event beyond 30 days should be unadjusted, got %v", res.Items[0].Score)
	}
	if !approx(res.Items[1].Score, 0.85*0.85) {
		t.Errorf("event in 15 days should get factor 0.85, got %v", res.Items[1].Score)
	}

	past, _ := m.MatchEvents(context.Background(), profile, events, MatchOptions{IncludePast: true})
	if len(past.Items) != 3 {
		t.Errorf("IncludePast should keep ended events, got %v", ids(past.Items))
	}

	window := &TimeWindow{Start: testNow.Add(10 * 24 * time.Hour), End: testNow.Add(20 * 24 * time.Hour)}
	windowed, _ := m.MatchEvents(context.Background(), profile, events, MatchOptions{TimeWindow: window})
	if got := ids(windowed.Items); len(got) != 1 || got[0] != 2 {
		t.Errorf("time window should keep only event 2, got %v", got)
	}

	labs := []models.TaggedEntity{
		{ID: 1, Kind: models.KindLab, AcceptingStudents: false, Tags: []models.WeightedTag{tag}},
		{ID: 2, Kind: models.KindLab, AcceptingStudents: true, Tags: []models.WeightedTag{tag}},
	}
	labRes, _ := m.MatchLabs(context.Background(), profile, labs, MatchOptions{TimeWindow: window})
	if got := ids(labRes.Items); len(got) != 1 || got[0] != 2 {
		t.Errorf("only labs accepting students should match, got %v", got)
	}
}

// collabFixture: alice qualifies on technology only, bob shares it and also likes arts.
func collabFixture() (*models.UserInterestProfile, []models.UserInterestProfile, []models.TaggedEntity) {
	alice := profileOf("alice",
		interest(1, "tech", models.PrimaryTag(1, 0.7)),
		interest(2, "sketching", models.PrimaryTag(2, 0.69)),
	)
	bob := profileOf("bob",
		interest(3, "computers", models.PrimaryTag(1, 0.7)),
		interest(4, "painting", models.PrimaryTag(2, 1.0)),
	)
	carol := profileOf("carol", interest(5, "sports", models.PrimaryTag(2, 0.1)))
	pool := []models.TaggedEntity{
		org(10, time.Hour, models.PrimaryTag(1, 0.7)), // content 0.7
		org(11, time.Hour, models.PrimaryTag(2, 1.0)), // only bob matches
	}
	return alice, []models.UserInterestProfile{*bob, *carol}, pool
}

func TestMatch_Collaborative(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	alice, peers, pool := collabFixture()
	sim := Similarity(alice.Tags(), peers[0].Tags())
	if !approx(sim, 1.39/1.7) {
		t.Fatalf("similarity = %v", sim)
	}

	res, err := m.MatchOrganizations(context.Background(), alice, pool, MatchOptions{Algorithm: AlgorithmCollaborative, Peers: peers, IncludeReasons: true})
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	if got := ids(res.Items); len(got) != 2 || got[0] != 11 || got[1] != 10 {
		t.Fatalf("expected [11 10], got %v", got)
	}
	if !approx(res.Items[0].Score, sim*1.0) {
		t.Errorf("collaborative score = %v, want %v", res.Items[0].Score, sim)
	}
	if !strings.Contains(strings.Join(res.Items[0].Reasons, "|"), "Popular with 1 people who share your interests") {
		t.Errorf("missing collaborative reason: %v", res.Items[0].Reasons)
	}

	none, _ := m.MatchOrganizations(context.Background(), alice, pool, MatchOptions{Algorithm: AlgorithmCollaborative})
	if len(none.Items) != 0 || none.Status != StatusNoMatches {
		t.Errorf("collaborative without peers should be empty, got %+v", none)
	}
}

func TestMatch_HybridContainsContentBased(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	alice, peers, pool := collabFixture()

	for _, limit := range []int{1, 2, 10} {
		for _, minScore := range []float64{0, 0.5, 0.75} {
			opts := MatchOptions{Limit: limit, MinScore: minScore, Peers: peers}
			cb, err := m.MatchOrganizations(context.Background(), alice, pool, opts)
			if err != nil {
				t.Fatalf("content-based error = %v", err)
			}
			opts.Algorithm = AlgorithmHybrid
			hy, err := m.MatchOrganizations(context.Background(), alice, pool, opts)
			if err != nil {
				t.Fatalf("hybrid error = %v", err)
			}
			if len(hy.Items) > limit {
				t.Errorf("limit %d: hybrid returned %d items", limit, len(hy.Items))
			}
			hybridScores := make(map[int64]float64)
			for _, item := range hy.Items {
				hybridScores[item.Entity.ID] = item.Score
			}
			for _, item := range cb.Items {
				hs, ok := hybridScores[item.Entity.ID]
				if !ok {
					t.Errorf("limit %d min %v: content match %d missing from hybrid %v", limit, minScore, item.Entity.ID, ids(hy.Items))
					continue
				}
				if hs < item.Score {
					t.Errorf("hybrid score %v below content score %v", hs, item.Score)
				}
			}
		}
	}

	hy, _ := m.MatchOrganizations(context.Background(), alice, pool, MatchOptions{Algorithm: AlgorithmHybrid, Peers: peers})
	if got := ids(hy.Items); len(got) != 2 || got[0] != 11 {
		t.Errorf("hybrid should rank the collaborative find first without a tight limit, got %v", got)
	}
	if !approx(hy.Items[1].Score, 0.7*1.1) {
		t.Errorf("hybrid content score = %v, want 0.77", hy.Items[1].Score)
	}
	if got := hy.Metrics.AlgorithmsUsed; len(got) != 2 {
		t.Errorf("algorithms used = %v", got)
	}
}

func TestMatch_InvalidOptions(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	profile := profileOf("alice", interest(1, "tech", models.PrimaryTag(1, 0.8)))
	tests := []struct {
		name string
		opts MatchOptions
	}{
		{"negative limit", MatchOptions{Limit: -1}},
		{"limit too large", MatchOptions{Limit: MaxLimit + 1}},
		{"min score above one", MatchOptions{MinScore: 1.5}},
		{"unknown algorithm", MatchOptions{Algorithm: "popularity"}},
		{"inverted window", MatchOptions{TimeWindow: &TimeWindow{Start: testNow, End: testNow.Add(-time.Hour)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := m.MatchEvents(context.Background(), profile, nil, tt.opts); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMatch_Coverage(t *testing.T) {
	t.Parallel()

	m := newTestMatcher(t)
	profile := profileOf("alice",
		interest(1, "tech", models.PrimaryTag(1, 0.8)),
		interest(2, "art", models.PrimaryTag(2, 0.9)),
	)
	res, _ := m.MatchOrganizations(context.Background(), profile, []models.TaggedEntity{org(1, time.Hour, models.PrimaryTag(1, 0.9))}, MatchOptions{})
	if !approx(res.Metrics.CoverageScore, 0.5) {
		t.Errorf("coverage = %v, want 0.5", res.Metrics.CoverageScore)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b []models.WeightedTag
		want float64
	}{
		{"identical", []models.WeightedTag{models.PrimaryTag(1, 0.8)}, []models.WeightedTag{models.PrimaryTag(1, 0.8)}, 1},
		{"disjoint", []models.WeightedTag{models.PrimaryTag(1, 0.8)}, []models.WeightedTag{models.PrimaryTag(2, 0.8)}, 0},
		{"partial", []models.WeightedTag{models.PrimaryTag(1, 0.5)}, []models.WeightedTag{models.PrimaryTag(1, 1.0)}, 0.5},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Similarity(tt.a, tt.b); !approx(got, tt.want) {
				t.Errorf("Similarity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	tests := map[string]Algorithm{
		"":              AlgorithmContentBased,
		"content_based": AlgorithmContentBased,
		"collaborative": AlgorithmCollaborative,
		"hybrid":        AlgorithmHybrid,
	}
	for in, want := range tests {
		got, err := ParseAlgorithm(in)
		if err != nil || got != want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseAlgorithm("random"); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}
