package database

import (
	"context"
	"errors"
	"time"

	"github.com/benvon/tagmatch/internal/models"
)

var (
	// ErrEntityNotFound is returned when a tagged entity does not exist
	ErrEntityNotFound = errors.New("entity not found")
	// ErrProfileNotFound is returned when a user has no stored interests
	ErrProfileNotFound = errors.New("interest profile not found")
	// ErrInterestNotFound is returned when an interest does not exist
	ErrInterestNotFound = errors.New("interest not found")
)

// EntityStore reads and writes weighted tags on content entities.
// Writes are last-write-wins per entity; no cross-entity transaction is used.
type EntityStore interface {
	GetTaggedEntities(ctx context.Context, kind models.ContentKind, filter EntityFilter) ([]models.TaggedEntity, error)
	// SaveTags replaces the entity's tags and stamps the analysis metadata.
	SaveTags(ctx context.Context, kind models.ContentKind, id int64, tags []models.WeightedTag, analyzerVersion string, analyzedAt time.Time) error
}

// InterestStore reads user interests and writes their linked tags
type InterestStore interface {
	GetInterest(ctx context.Context, id int64) (*models.Interest, error)
	GetUserInterestProfile(ctx context.Context, userID string) (*models.UserInterestProfile, error)
	// GetPeerProfiles returns up to limit other users whose interests link any of tagIDs.
	GetPeerProfiles(ctx context.Context, userID string, tagIDs []models.TagID, limit int) ([]models.UserInterestProfile, error)
	SaveInterestTags(ctx context.Context, id int64, tags []models.WeightedTag, suggestedLabel, analyzerVersion string, analyzedAt time.Time) error
}

// Store is a complete weighted tag store backend
type Store interface {
	EntityStore
	InterestStore
	HealthCheck(ctx context.Context) error
	Close() error
}
