package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/benvon/tagmatch/internal/logger"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"
)

const (
	// DefaultOpenAIModel is the default model to use
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultOpenAIBaseURL is the default OpenAI API base URL
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout is the default timeout for API calls
	DefaultTimeout = 30 * time.Second

	// ErrNoChoicesInResponse is returned when the API response has no choices
	ErrNoChoicesInResponse = "no choices in response"
)

// OpenAIClassifier implements ContentClassifier with OpenAI chat completions in JSON mode
type OpenAIClassifier struct {
	client    openai.Client
	model     string
	logger    *zap.Logger
	debugMode bool
}

// NewOpenAIClassifier creates an OpenAI-backed oracle. SDK-level retries are
// disabled; the Tagger owns retry policy.
func NewOpenAIClassifier(apiKey, baseURL, model string, timeout time.Duration, log *zap.Logger, debugMode bool) *OpenAIClassifier {
	if model == "" {
		model = DefaultOpenAIModel
	}
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := &http.Client{
		Timeout: timeout,
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	p := &OpenAIClassifier{
		client:    client,
		model:     model,
		logger:    logger.OrNop(log),
		debugMode: debugMode,
	}
	p.logger.Debug("openai_classifier_configured",
		zap.String("base_url", baseURL),
		zap.String("model", model),
		zap.String("api_key", SanitizeAPIKey(apiKey)),
	)
	return p
}

// Name implements ContentClassifier
func (p *OpenAIClassifier) Name() string { return "openai" }

// Classify implements ContentClassifier
func (p *OpenAIClassifier) Classify(ctx context.Context, req *ClassificationRequest) (*OracleResponse, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.SystemPrompt),
		openai.UserMessage(req.Prompt),
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	fields := contextFields(ctx)
	if p.debugMode {
		p.logger.Debug("llm_api_request", append(fields,
			zap.String("provider", p.Name()),
			zap.String("mode", string(req.Mode)),
			zap.String("model", p.model),
			zap.Int("prompt_length", len(req.Prompt)),
			zap.String("prompt_preview", logger.SanitizePayload(req.Prompt, true)),
		)...)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start)
	if err != nil {
		if p.debugMode {
			p.logger.Debug("llm_api_error", append(fields,
				zap.String("provider", p.Name()),
				zap.String("model", p.model),
				zap.String("error", logger.SanitizeError(err)),
				zap.Int64("latency_ms", latency.Milliseconds()),
			)...)
		}
		return nil, fmt.Errorf("openai request failed: %w", convertOpenAIError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New(ErrNoChoicesInResponse)
	}

	content := resp.Choices[0].Message.Content
	if p.debugMode {
		p.logger.Debug("llm_api_response", append(fields,
			zap.String("provider", p.Name()),
			zap.String("model", p.model),
			zap.Int("response_length", len(content)),
			zap.String("response_preview", logger.SanitizePayload(content, true)),
			zap.Int64("latency_ms", latency.Milliseconds()),
		)...)
	}

	return &OracleResponse{Content: content, Model: p.model, Latency: latency}, nil
}

// convertOpenAIError maps SDK errors onto APIError so retry policy can inspect them.
func convertOpenAIError(err error) error {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		var header http.Header
		if oaErr.Response != nil {
			header = oaErr.Response.Header
		}
		return newStatusError(oaErr.StatusCode, oaErr.Code, oaErr.Type, oaErr.Message, header, err)
	}
	if apiErr := ExtractAPIError(err); apiErr != nil {
		return apiErr
	}
	return err
}

// RegisterOpenAI registers the OpenAI provider with the registry
func RegisterOpenAI(registry *ProviderRegistry) {
	registry.Register("openai", func(config map[string]string, log *zap.Logger) (ContentClassifier, error) {
		apiKey, ok := config["api_key"]
		if !ok || apiKey == "" {
			return nil, fmt.Errorf("openai api_key is required")
		}
		timeout, err := parseTimeout(config["timeout"])
		if err != nil {
			return nil, err
		}
		return NewOpenAIClassifier(apiKey, config["base_url"], config["model"], timeout, log, config["debug"] == "true"), nil
	})
}

func parseTimeout(v string) (time.Duration, error) {
	if v == "" {
		return DefaultTimeout, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", v, err)
	}
	return d, nil
}
