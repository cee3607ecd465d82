// Package llm provides the text-completion client used to draft slide content
// via OpenAI-compatible Chat Completion API endpoints.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultEndpoint is the Gemini OpenAI-compatible base URL.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/openai"

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// DefaultTimeout bounds a single completion call.
const DefaultTimeout = 60 * time.Second

var (
	// ErrNoAPIKey is returned without any network traffic when no key is configured.
	ErrNoAPIKey = errors.New("llm: no API key configured")
	// ErrEmptyCompletion means the backend answered but produced no text.
	ErrEmptyCompletion = errors.New("llm: empty completion")
)

// Completer sends a single prompt and returns the raw completion text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// APILLMService implements Completer using an OpenAI-compatible Chat Completion API.
type APILLMService struct {
	Endpoint    string
	APIKey      string
	ModelName   string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Observe, if set, receives the duration of every backend round trip.
	Observe func(time.Duration)

	logger     *zap.Logger
	httpClient *http.Client
}

// NewAPILLMService creates a new APILLMService with the given configuration.
// Zero values for endpoint, model and timeout select the defaults.
func NewAPILLMService(endpoint, apiKey, modelName string, temperature float64, maxTokens int, timeout time.Duration) *APILLMService {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &APILLMService{
		Endpoint:    endpoint,
		APIKey:      apiKey,
		ModelName:   modelName,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Timeout:     timeout,
		logger:      zap.NewNop(),
		httpClient:  &http.Client{},
	}
}

// WithLogger attaches a logger and returns s.
func (s *APILLMService) WithLogger(l *zap.Logger) *APILLMService {
	if l != nil {
		s.logger = l
	}
	return s
}

// Complete sends prompt as a single user message. The call is bounded by
// s.Timeout in addition to any deadline on ctx. No retries are made.
func (s *APILLMService) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return "", ErrNoAPIKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: s.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(s.Temperature),
		MaxTokens:   s.MaxTokens,
	}

	start := time.Now()
	resp, err := s.client().CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)
	if s.Observe != nil {
		s.Observe(elapsed)
	}
	if err != nil {
		s.logger.Warn("completion request failed",
			zap.String("model", s.ModelName),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return "", fmt.Errorf("LLM API request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}

	s.logger.Debug("completion received",
		zap.String("model", s.ModelName),
		zap.Duration("elapsed", elapsed),
		zap.Int("chars", len(content)))
	return content, nil
}

func (s *APILLMService) client() *openai.Client {
	cfg := openai.DefaultConfig(s.APIKey)
	cfg.BaseURL = strings.TrimRight(s.Endpoint, "/")
	if s.httpClient != nil {
		cfg.HTTPClient = s.httpClient
	}
	return openai.NewClientWithConfig(cfg)
}

func (s *APILLMService) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}
