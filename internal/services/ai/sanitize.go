package ai

import (
	"context"
	"strconv"

	"github.com/benvon/tagmatch/internal/logger"
	"go.uber.org/zap"
)

// Context key types for logging (to avoid collisions with string keys)
type contextKey string

const (
	userIDContextKey   contextKey = "user_id"
	entityIDContextKey contextKey = "entity_id"
	jobIDContextKey    contextKey = "job_id"
)

const (
	// RedactedValue is the value used to replace sensitive data
	RedactedValue = "[REDACTED]"
)

// WithUserID attaches the user an interest belongs to, for log correlation
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// WithEntityID attaches the content or interest ID being classified
func WithEntityID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, entityIDContextKey, id)
}

// WithJobID attaches the queue job driving the classification
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDContextKey, jobID)
}

// SanitizeAPIKey sanitizes an API key for logging
func SanitizeAPIKey(apiKey string) string {
	if apiKey == "" {
		return ""
	}
	if len(apiKey) <= 8 {
		return RedactedValue
	}
	// Show first 4 and last 4 characters, redact the middle
	return apiKey[:4] + RedactedValue + apiKey[len(apiKey)-4:]
}

// contextFields returns the correlation fields present in ctx. User IDs are hashed.
func contextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := ctx.Value(userIDContextKey).(string); ok && v != "" {
		fields = append(fields, zap.String("user_hash", logger.HashUserID(v)))
	}
	if v, ok := ctx.Value(entityIDContextKey).(int64); ok {
		fields = append(fields, zap.String("entity_id", strconv.FormatInt(v, 10)))
	}
	if v, ok := ctx.Value(jobIDContextKey).(string); ok && v != "" {
		fields = append(fields, zap.String("job_id", v))
	}
	return fields
}
