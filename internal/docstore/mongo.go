// Package docstore implements the weighted tag store on MongoDB.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benvon/tagmatch/internal/database"
	"github.com/benvon/tagmatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	interestsCollection = "interests"
	defaultPeerLimit    = 100
)

// MongoStore implements database.Store with one collection per content kind
// plus an interests collection. Documents use the entity ID as _id.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client for uri and pings it
func Connect(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return NewMongoStore(client, dbName), nil
}

// NewMongoStore wraps an existing client
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(dbName)}
}

// collectionFor returns the collection holding kind
func collectionFor(kind models.ContentKind) string {
	switch kind {
	case models.KindEvent:
		return "events"
	case models.KindOrganization:
		return "organizations"
	case models.KindLab:
		return "labs"
	default:
		return string(kind)
	}
}

// EnsureIndexes creates the indexes the tag queries rely on
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	entityIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "tags.tag_id", Value: 1}, {Key: "tags.weight", Value: -1}}},
		{Keys: bson.D{{Key: "tags.parent_tag_id", Value: 1}}},
		{Keys: bson.D{{Key: "last_analyzed", Value: 1}}},
	}
	for _, kind := range models.ContentKinds {
		if _, err := s.db.Collection(collectionFor(kind)).Indexes().CreateMany(ctx, entityIndexes); err != nil {
			return fmt.Errorf("failed to create %s indexes: %w", kind, err)
		}
	}
	interestIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "linked_tags.tag_id", Value: 1}}},
	}
	if _, err := s.db.Collection(interestsCollection).Indexes().CreateMany(ctx, interestIndexes); err != nil {
		return fmt.Errorf("failed to create interest indexes: %w", err)
	}
	return nil
}

// GetTaggedEntities implements database.EntityStore
func (s *MongoStore) GetTaggedEntities(ctx context.Context, kind models.ContentKind, filter database.EntityFilter) ([]models.TaggedEntity, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.db.Collection(collectionFor(kind)).Find(ctx, buildEntityFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s entities: %w", kind, err)
	}
	defer cursor.Close(ctx)

	var entities []models.TaggedEntity
	if err := cursor.All(ctx, &entities); err != nil {
		return nil, fmt.Errorf("failed to decode %s entities: %w", kind, err)
	}
	for i := range entities {
		entities[i].Kind = kind
	}
	return entities, nil
}

// buildEntityFilter translates an EntityFilter into a query document. Tag
// conditions go through $elemMatch so they hold on a single tag.
func buildEntityFilter(f database.EntityFilter) bson.M {
	filter := bson.M{}

	if len(f.IDs) > 0 {
		filter["_id"] = bson.M{"$in": f.IDs}
	}

	if f.NeedsAnalysis {
		if f.StaleBefore.IsZero() {
			filter["last_analyzed"] = nil
		} else {
			filter["$or"] = bson.A{
				bson.M{"last_analyzed": nil},
				bson.M{"last_analyzed": bson.M{"$lt": f.StaleBefore}},
			}
		}
	}

	elem := bson.M{}
	var byID bson.A
	if len(f.TagIDs) > 0 {
		byID = append(byID, bson.M{"tag_id": bson.M{"$in": tagIDs(f.TagIDs)}})
	}
	if len(f.ParentTagIDs) > 0 {
		byID = append(byID, bson.M{"parent_tag_id": bson.M{"$in": tagIDs(f.ParentTagIDs)}})
	}
	switch len(byID) {
	case 1:
		for k, v := range byID[0].(bson.M) {
			elem[k] = v
		}
	case 2:
		elem["$or"] = byID
	}
	if f.MinWeight > 0 {
		elem["weight"] = bson.M{"$gte": f.MinWeight}
	}
	if f.Level != "" {
		elem["level"] = string(f.Level)
	}
	if len(elem) > 0 {
		filter["tags"] = bson.M{"$elemMatch": elem}
	}

	return filter
}

// SaveTags implements database.EntityStore
func (s *MongoStore) SaveTags(ctx context.Context, kind models.ContentKind, id int64, tags []models.WeightedTag, analyzerVersion string, analyzedAt time.Time) error {
	if tags == nil {
		tags = []models.WeightedTag{}
	}
	update := bson.M{"$set": bson.M{
		"tags":             tags,
		"analyzer_version": analyzerVersion,
		"last_analyzed":    analyzedAt,
	}}
	result, err := s.db.Collection(collectionFor(kind)).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to save tags for %s %d: %w", kind, id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, database.ErrEntityNotFound)
	}
	return nil
}

// GetInterest implements database.InterestStore
func (s *MongoStore) GetInterest(ctx context.Context, id int64) (*models.Interest, error) {
	var interest models.Interest
	err := s.db.Collection(interestsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&interest)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("interest %d: %w", id, database.ErrInterestNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interest %d: %w", id, err)
	}
	return &interest, nil
}

// GetUserInterestProfile implements database.InterestStore
func (s *MongoStore) GetUserInterestProfile(ctx context.Context, userID string) (*models.UserInterestProfile, error) {
	profiles, err := s.findProfiles(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("user %s: %w", userID, database.ErrProfileNotFound)
	}
	return &profiles[0], nil
}

// GetPeerProfiles implements database.InterestStore
func (s *MongoStore) GetPeerProfiles(ctx context.Context, userID string, ids []models.TagID, limit int) ([]models.UserInterestProfile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultPeerLimit
	}

	raw, err := s.db.Collection(interestsCollection).Distinct(ctx, "user_id", bson.M{
		"user_id":            bson.M{"$ne": userID},
		"linked_tags.tag_id": bson.M{"$in": tagIDs(ids)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find peers: %w", err)
	}

	peers := make([]string, 0, len(raw))
	for _, v := range raw {
		if id, ok := v.(string); ok {
			peers = append(peers, id)
		}
	}
	sort.Strings(peers)
	if len(peers) > limit {
		peers = peers[:limit]
	}
	if len(peers) == 0 {
		return nil, nil
	}
	return s.findProfiles(ctx, bson.M{"user_id": bson.M{"$in": peers}})
}

// findProfiles loads interests matching filter grouped by user.
func (s *MongoStore) findProfiles(ctx context.Context, filter bson.M) ([]models.UserInterestProfile, error) {
	opts := options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.db.Collection(interestsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query interests: %w", err)
	}
	defer cursor.Close(ctx)

	var interests []models.Interest
	if err := cursor.All(ctx, &interests); err != nil {
		return nil, fmt.Errorf("failed to decode interests: %w", err)
	}
	return groupProfiles(interests), nil
}

// groupProfiles groups interests, ordered by user, into profiles.
func groupProfiles(interests []models.Interest) []models.UserInterestProfile {
	var profiles []models.UserInterestProfile
	for _, interest := range interests {
		if n := len(profiles); n == 0 || profiles[n-1].UserID != interest.UserID {
			profiles = append(profiles, models.UserInterestProfile{UserID: interest.UserID})
		}
		last := &profiles[len(profiles)-1]
		last.Interests = append(last.Interests, interest)
	}
	return profiles
}

// SaveInterestTags implements database.InterestStore
func (s *MongoStore) SaveInterestTags(ctx context.Context, id int64, tags []models.WeightedTag, suggestedLabel, analyzerVersion string, analyzedAt time.Time) error {
	if tags == nil {
		tags = []models.WeightedTag{}
	}
	update := bson.M{"$set": bson.M{
		"linked_tags":      tags,
		"suggested_label":  suggestedLabel,
		"analyzer_version": analyzerVersion,
		"last_analyzed":    analyzedAt,
	}}
	result, err := s.db.Collection(interestsCollection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to save tags for interest %d: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("interest %d: %w", id, database.ErrInterestNotFound)
	}
	return nil
}

// HealthCheck pings the primary
func (s *MongoStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func tagIDs(ids []models.TagID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

var _ database.Store = (*MongoStore)(nil)
