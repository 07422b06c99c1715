package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/benvon/tagmatch/internal/models"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// DefaultGeminiModel is the default Gemini model
const DefaultGeminiModel = "gemini-2.0-flash"

// GeminiClassifier implements ContentClassifier with Gemini structured output
type GeminiClassifier struct {
	client    *genai.Client
	model     string
	logger    *zap.Logger
	debugMode bool
}

// NewGeminiClassifier creates a Gemini-backed oracle. baseURL is optional.
func NewGeminiClassifier(ctx context.Context, apiKey, baseURL, model string, timeout time.Duration, log *zap.Logger, debugMode bool) (*GeminiClassifier, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClassifier{
		client:    client,
		model:     model,
		logger:    logger.OrNop(log),
		debugMode: debugMode,
	}, nil
}

// Name implements ContentClassifier
func (g *GeminiClassifier) Name() string { return "gemini" }

// Classify implements ContentClassifier
func (g *GeminiClassifier) Classify(ctx context.Context, req *ClassificationRequest) (*OracleResponse, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    responseSchema(req.Mode),
	}
	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}

	fields := contextFields(ctx)
	if g.debugMode {
		g.logger.Debug("llm_api_request", append(fields,
			zap.String("provider", g.Name()),
			zap.String("mode", string(req.Mode)),
			zap.String("model", g.model),
			zap.Int("prompt_length", len(req.Prompt)),
			zap.String("prompt_preview", logger.SanitizePayload(req.Prompt, true)),
		)...)
	}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	latency := time.Since(start)
	if err != nil {
		if g.debugMode {
			g.logger.Debug("llm_api_error", append(fields,
				zap.String("provider", g.Name()),
				zap.String("model", g.model),
				zap.String("error", logger.SanitizeError(err)),
				zap.Int64("latency_ms", latency.Milliseconds()),
			)...)
		}
		return nil, fmt.Errorf("gemini request failed: %w", convertGeminiError(err))
	}

	content := responseText(resp)
	if content == "" {
		return nil, ErrEmptyResponse
	}
	if g.debugMode {
		g.logger.Debug("llm_api_response", append(fields,
			zap.String("provider", g.Name()),
			zap.String("model", g.model),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", logger.SanitizePayload(content, true)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)...)
	}

	return &OracleResponse{Content: content, Model: g.model, Latency: latency}, nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// responseSchema is the structured output contract handed to Gemini.
func responseSchema(mode models.ClassificationMode) *genai.Schema {
	tag := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"tagId":       {Type: genai.TypeInteger},
			"weight":      {Type: genai.TypeNumber},
			"category":    {Type: genai.TypeString, Enum: []string{"primary", "secondary"}},
			"parentTagId": {Type: genai.TypeInteger},
		},
		Required: []string{"tagId", "weight", "category"},
	}
	props := map[string]*genai.Schema{
		"tags":              {Type: genai.TypeArray, Items: tag},
		"overallConfidence": {Type: genai.TypeNumber},
	}
	if mode == models.ModeInterest {
		props["suggestedInterestName"] = &genai.Schema{Type: genai.TypeString}
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: props,
		Required:   []string{"tags", "overallConfidence"},
	}
}

// convertGeminiError maps genai API errors onto APIError.
func convertGeminiError(err error) error {
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return geminiStatusError(gErr, err)
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		return geminiStatusError(*gErrPtr, err)
	}
	if apiErr := ExtractAPIError(err); apiErr != nil {
		return apiErr
	}
	return err
}

// Gemini reports per-minute limits and exhausted quota alike as 429
// RESOURCE_EXHAUSTED, so both are treated as retryable rate limits.
func geminiStatusError(gErr genai.APIError, cause error) *APIError {
	return newStatusError(gErr.Code, gErr.Status, gErr.Status, gErr.Message, nil, cause)
}

// RegisterGemini registers the Gemini provider with the registry
func RegisterGemini(registry *ProviderRegistry) {
	registry.Register("gemini", func(config map[string]string, log *zap.Logger) (ContentClassifier, error) {
		apiKey, ok := config["api_key"]
		if !ok || apiKey == "" {
			return nil, fmt.Errorf("gemini api_key is required")
		}
		timeout, err := parseTimeout(config["timeout"])
		if err != nil {
			return nil, err
		}
		g, err := NewGeminiClassifier(context.Background(), apiKey, config["base_url"], config["model"], timeout, log, config["debug"] == "true")
		if err != nil {
			return nil, err
		}
		return g, nil
	})
}
