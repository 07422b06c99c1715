package ai

import (
	"context"
	"sort"
	"time"

	"github.com/benvon/tagmatch/internal/models"
	"go.uber.org/zap"
)

// ClassificationRequest is one fully rendered request for the oracle.
type ClassificationRequest struct {
	Mode         models.ClassificationMode
	SystemPrompt string
	Prompt       string
	// MaxTags is the largest tag list the caller will keep; adapters may use it in schemas.
	MaxTags int
}

// OracleResponse is the oracle's undecoded answer.
type OracleResponse struct {
	Content string
	Model   string
	Latency time.Duration
}

// ContentClassifier is the external text-classification oracle.
type ContentClassifier interface {
	// Classify sends req and returns the raw JSON answer
	Classify(ctx context.Context, req *ClassificationRequest) (*OracleResponse, error)
	// Name identifies the provider in logs and metrics
	Name() string
}

// ProviderFactory creates an oracle from string settings
type ProviderFactory func(config map[string]string, logger *zap.Logger) (ContentClassifier, error)

// ProviderRegistry stores available oracle providers
type ProviderRegistry struct {
	providers map[string]ProviderFactory
}

// NewProviderRegistry creates a new provider registry
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]ProviderFactory),
	}
}

// NewDefaultRegistry returns a registry with the OpenAI and Gemini providers registered
func NewDefaultRegistry() *ProviderRegistry {
	r := NewProviderRegistry()
	RegisterOpenAI(r)
	RegisterGemini(r)
	return r
}

// Register registers a provider factory
func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.providers[name] = factory
}

// GetProvider gets a provider by name
func (r *ProviderRegistry) GetProvider(name string, config map[string]string, logger *zap.Logger) (ContentClassifier, error) {
	factory, ok := r.providers[name]
	if !ok {
		return nil, &ErrProviderNotFound{Name: name}
	}

	return factory(config, logger)
}

// Names returns the registered provider names in sorted order
func (r *ProviderRegistry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrProviderNotFound is returned when a provider is not found
type ErrProviderNotFound struct {
	Name string
}

func (e *ErrProviderNotFound) Error() string {
	return "AI provider not found: " + e.Name
}
