package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/tagmatch/internal/models"
	"github.com/lib/pq"
)

const (
	entityColumns = `id, kind, title, description, tags, last_analyzed, analyzer_version, created_at,
		start_time, end_time, location, category, member_count, department, accepting_students`
	interestColumns = `id, user_id, keyword, description, suggested_label, linked_tags, last_analyzed, analyzer_version`
)

// PostgresStore implements Store on PostgreSQL. Tags live in JSONB columns.
type PostgresStore struct {
	db *DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db *DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// GetTaggedEntities returns entities of kind matching filter, ordered by ID
func (s *PostgresStore) GetTaggedEntities(ctx context.Context, kind models.ContentKind, filter EntityFilter) ([]models.TaggedEntity, error) {
	query, args := buildEntityQuery(kind, filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s entities: %w", kind, err)
	}
	defer rows.Close()

	var entities []models.TaggedEntity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s entities: %w", kind, err)
	}
	return entities, nil
}

// buildEntityQuery renders filter as SQL with positional arguments.
func buildEntityQuery(kind models.ContentKind, f EntityFilter) (string, []any) {
	args := []any{string(kind)}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	var b strings.Builder
	b.WriteString("SELECT " + entityColumns + " FROM tagged_entities WHERE kind = $1")

	if len(f.IDs) > 0 {
		b.WriteString(" AND id = ANY(" + arg(pq.Array(f.IDs)) + ")")
	}
	if f.NeedsAnalysis {
		if f.StaleBefore.IsZero() {
			b.WriteString(" AND last_analyzed IS NULL")
		} else {
			b.WriteString(" AND (last_analyzed IS NULL OR last_analyzed < " + arg(f.StaleBefore) + ")")
		}
	}

	if f.hasTagConditions() {
		var conds []string
		var ids []string
		if len(f.TagIDs) > 0 {
			ids = append(ids, "(t->>'tagId')::bigint = ANY("+arg(pq.Array(tagIDsToInt64(f.TagIDs)))+")")
		}
		if len(f.ParentTagIDs) > 0 {
			ids = append(ids, "(t->>'parentTagId')::bigint = ANY("+arg(pq.Array(tagIDsToInt64(f.ParentTagIDs)))+")")
		}
		if len(ids) > 0 {
			conds = append(conds, "("+strings.Join(ids, " OR ")+")")
		}
		if f.MinWeight > 0 {
			conds = append(conds, "(t->>'weight')::float8 >= "+arg(f.MinWeight))
		}
		if f.Level != "" {
			conds = append(conds, "t->>'level' = "+arg(string(f.Level)))
		}
		b.WriteString(" AND EXISTS (SELECT 1 FROM jsonb_array_elements(tags) AS t WHERE " + strings.Join(conds, " AND ") + ")")
	}

	b.WriteString(" ORDER BY id")
	if f.Limit > 0 {
		b.WriteString(" LIMIT " + arg(f.Limit))
	}
	return b.String(), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*models.TaggedEntity, error) {
	entity := &models.TaggedEntity{}
	var kind string
	var tagsJSON []byte
	var lastAnalyzed, startTime, endTime sql.NullTime

	err := row.Scan(
		&entity.ID,
		&kind,
		&entity.Title,
		&entity.Description,
		&tagsJSON,
		&lastAnalyzed,
		&entity.AnalyzerVersion,
		&entity.CreatedAt,
		&startTime,
		&endTime,
		&entity.Location,
		&entity.Category,
		&entity.MemberCount,
		&entity.Department,
		&entity.AcceptingStudents,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	entity.Kind = models.ContentKind(kind)
	if err := json.Unmarshal(tagsJSON, &entity.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags for entity %d: %w", entity.ID, err)
	}
	entity.LastAnalyzed = nullTime(lastAnalyzed)
	entity.StartTime = nullTime(startTime)
	entity.EndTime = nullTime(endTime)
	return entity, nil
}

// SaveTags replaces the entity's tags
func (s *PostgresStore) SaveTags(ctx context.Context, kind models.ContentKind, id int64, tags []models.WeightedTag, analyzerVersion string, analyzedAt time.Time) error {
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return err
	}

	query := `
		UPDATE tagged_entities
		SET tags = $1, analyzer_version = $2, last_analyzed = $3
		WHERE kind = $4 AND id = $5
	`
	result, err := s.db.ExecContext(ctx, query, tagsJSON, analyzerVersion, analyzedAt, string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to save tags for %s %d: %w", kind, id, err)
	}
	return requireRow(result, fmt.Errorf("%s %d: %w", kind, id, ErrEntityNotFound))
}

// GetInterest retrieves an interest by ID
func (s *PostgresStore) GetInterest(ctx context.Context, id int64) (*models.Interest, error) {
	query := "SELECT " + interestColumns + " FROM user_interests WHERE id = $1"
	interest, err := scanInterest(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("interest %d: %w", id, ErrInterestNotFound)
	}
	if err != nil {
		return nil, err
	}
	return interest, nil
}

// GetUserInterestProfile returns all interests of a user
func (s *PostgresStore) GetUserInterestProfile(ctx context.Context, userID string) (*models.UserInterestProfile, error) {
	query := "SELECT " + interestColumns + " FROM user_interests WHERE user_id = $1 ORDER BY id"
	profiles, err := s.queryProfiles(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, ErrProfileNotFound)
	}
	return &profiles[0], nil
}

// GetPeerProfiles returns profiles of other users sharing any of tagIDs
func (s *PostgresStore) GetPeerProfiles(ctx context.Context, userID string, tagIDs []models.TagID, limit int) ([]models.UserInterestProfile, error) {
	if len(tagIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + interestColumns + `
		FROM user_interests
		WHERE user_id IN (
			SELECT DISTINCT ui.user_id
			FROM user_interests ui, jsonb_array_elements(ui.linked_tags) AS t
			WHERE ui.user_id <> $1 AND (t->>'tagId')::bigint = ANY($2)
			LIMIT $3
		)
		ORDER BY user_id, id
	`
	return s.queryProfiles(ctx, query, userID, pq.Array(tagIDsToInt64(tagIDs)), limit)
}

// queryProfiles groups interest rows, which must be ordered by user_id, into profiles.
func (s *PostgresStore) queryProfiles(ctx context.Context, query string, args ...any) ([]models.UserInterestProfile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query interests: %w", err)
	}
	defer rows.Close()

	var profiles []models.UserInterestProfile
	for rows.Next() {
		interest, err := scanInterest(rows)
		if err != nil {
			return nil, err
		}
		if n := len(profiles); n == 0 || profiles[n-1].UserID != interest.UserID {
			profiles = append(profiles, models.UserInterestProfile{UserID: interest.UserID})
		}
		last := &profiles[len(profiles)-1]
		last.Interests = append(last.Interests, *interest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate interests: %w", err)
	}
	return profiles, nil
}

func scanInterest(row rowScanner) (*models.Interest, error) {
	interest := &models.Interest{}
	var tagsJSON []byte
	var lastAnalyzed sql.NullTime

	err := row.Scan(
		&interest.ID,
		&interest.UserID,
		&interest.Keyword,
		&interest.Description,
		&interest.SuggestedLabel,
		&tagsJSON,
		&lastAnalyzed,
		&interest.AnalyzerVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan interest: %w", err)
	}
	if err := json.Unmarshal(tagsJSON, &interest.LinkedTags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal linked tags for interest %d: %w", interest.ID, err)
	}
	interest.LastAnalyzed = nullTime(lastAnalyzed)
	return interest, nil
}

// SaveInterestTags replaces an interest's linked tags and suggested label
func (s *PostgresStore) SaveInterestTags(ctx context.Context, id int64, tags []models.WeightedTag, suggestedLabel, analyzerVersion string, analyzedAt time.Time) error {
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return err
	}

	query := `
		UPDATE user_interests
		SET linked_tags = $1, suggested_label = $2, analyzer_version = $3, last_analyzed = $4
		WHERE id = $5
	`
	result, err := s.db.ExecContext(ctx, query, tagsJSON, suggestedLabel, analyzerVersion, analyzedAt, id)
	if err != nil {
		return fmt.Errorf("failed to save tags for interest %d: %w", id, err)
	}
	return requireRow(result, fmt.Errorf("interest %d: %w", id, ErrInterestNotFound))
}

// HealthCheck pings the database
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func marshalTags(tags []models.WeightedTag) ([]byte, error) {
	if tags == nil {
		tags = []models.WeightedTag{}
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return data, nil
}

func requireRow(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ Store = (*PostgresStore)(nil)
