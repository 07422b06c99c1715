// Package cache keeps interest profiles and recommendation lists in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/metrics"
	"github.com/benvon/tagmatch/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix = "tagmatch"

	// DefaultTTL applies when no TTL is configured
	DefaultTTL = 15 * time.Minute
)

// RedisCache stores JSON values under user-scoped keys
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisCache connects to redisURL
func NewRedisCache(redisURL string, ttl time.Duration, log *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCacheFromClient(client, ttl, log), nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger.Component(log, "cache")}
}

// ProfileKey is the key of a user's interest profile
func ProfileKey(userID string) string {
	return fmt.Sprintf("%s:profile:%s", keyPrefix, userID)
}

// RecommendationKey is the key of one recommendation variant for a user. Parts
// describe the request (kind, mode, limit...) and are joined in order.
func RecommendationKey(userID string, parts ...string) string {
	return fmt.Sprintf("%s:recs:%s:%s", keyPrefix, userID, strings.Join(parts, ":"))
}

func userPattern(userID string) string {
	return fmt.Sprintf("%s:recs:%s:*", keyPrefix, userID)
}

// kindPattern matches every user's recommendation lists for kind. Kind is the
// first request part of a recommendation key.
func kindPattern(kind models.ContentKind) string {
	return fmt.Sprintf("%s:recs:*:%s:*", keyPrefix, kind)
}

const scanBatch = 100

// GetProfile returns the cached profile. A miss or decode failure reports false.
func (c *RedisCache) GetProfile(ctx context.Context, userID string) (*models.UserInterestProfile, bool) {
	var profile models.UserInterestProfile
	if !c.get(ctx, "profile", ProfileKey(userID), &profile) {
		return nil, false
	}
	return &profile, true
}

// SetProfile caches profile
func (c *RedisCache) SetProfile(ctx context.Context, profile *models.UserInterestProfile) error {
	if profile == nil {
		return nil
	}
	return c.set(ctx, ProfileKey(profile.UserID), profile)
}

// GetRecommendations decodes the cached value at key into dst
func (c *RedisCache) GetRecommendations(ctx context.Context, key string, dst any) bool {
	return c.get(ctx, "recommendations", key, dst)
}

// SetRecommendations caches v at key
func (c *RedisCache) SetRecommendations(ctx context.Context, key string, v any) error {
	return c.set(ctx, key, v)
}

// InvalidateUser drops a user's profile and every cached recommendation list
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, ProfileKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache keys: %w", err)
	}
	_, err := c.deleteMatching(ctx, userPattern(userID))
	return err
}

// InvalidateKind drops every user's cached recommendation lists for kind and
// returns how many were removed. Profiles are kept.
func (c *RedisCache) InvalidateKind(ctx context.Context, kind models.ContentKind) (int, error) {
	n, err := c.deleteMatching(ctx, kindPattern(kind))
	if err == nil && n > 0 {
		c.logger.Debug("recommendation_cache_invalidated", zap.String("kind", string(kind)), zap.Int("keys", n))
	}
	return n, err
}

// deleteMatching scans for pattern and deletes the keys one scan page at a time
func (c *RedisCache) deleteMatching(ctx context.Context, pattern string) (int, error) {
	deleted := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("failed to delete cache keys: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan cache keys: %w", err)
	}
	return deleted, flush()
}

// HealthCheck pings Redis
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) get(ctx context.Context, name, key string, dst any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheResult(name, "miss")
		return false
	}
	if err != nil {
		metrics.RecordCacheResult(name, "error")
		c.logger.Warn("cache_get_failed", zap.String("cache", name), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		metrics.RecordCacheResult(name, "error")
		c.logger.Warn("cache_decode_failed", zap.String("cache", name), zap.Error(err))
		return false
	}
	metrics.RecordCacheResult(name, "hit")
	return true
}

func (c *RedisCache) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}
