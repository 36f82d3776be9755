package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"jarvis/core"
	"jarvis/utils/retry"

	"github.com/sashabaranov/go-openai"
)

// DefaultTransientMarkers are substrings identifying a temporarily overloaded
// upstream.
var DefaultTransientMarkers = []string{"UNAVAILABLE", "503"}

// Config holds the configuration for an OpenAI-compatible chat service
type Config struct {
	APIKey           string        `yaml:"-"`
	BaseURL          string        `yaml:"base_url"`
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float32       `yaml:"temperature"`
	Retry            retry.Policy  `yaml:"retry"`
	TransientMarkers []string      `yaml:"transient_markers"`
	Timeout          time.Duration `yaml:"timeout"`
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAILLMService generates replies through the chat completions API of any
// OpenAI-compatible provider.
type OpenAILLMService struct {
	client  chatClient
	config  Config
	retryer *retry.Retryer
	markers retry.Classifier
	logger  *core.Logger
}

// NewOpenAILLMService creates a new instance of OpenAILLMService
func NewOpenAILLMService(config Config, logger *core.Logger) *OpenAILLMService {
	if logger == nil {
		logger = core.GetLogger()
	}
	if len(config.TransientMarkers) == 0 {
		config.TransientMarkers = DefaultTransientMarkers
	}
	if config.Retry == (retry.Policy{}) {
		config.Retry = retry.DefaultPolicy()
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	s := &OpenAILLMService{
		client:  openai.NewClientWithConfig(clientConfig),
		config:  config,
		markers: retry.MarkerClassifier(config.TransientMarkers...),
		logger:  logger.With(map[string]interface{}{"component": "llm", "model": config.Model}),
	}
	s.retryer = retry.NewRetryer(config.Retry, s.IsTransient, s.logger)
	return s
}

// OnRetry registers a callback invoked before every backoff wait.
func (s *OpenAILLMService) OnRetry(fn func(attempt int, err error, delay time.Duration)) {
	s.retryer.WithOnRetry(fn)
}

func (s *OpenAILLMService) Model() string {
	return s.config.Model
}

// Respond appends transcript as a user turn, asks the model for a reply with
// retry on transient overload and, on success, appends the reply as an
// assistant turn.
func (s *OpenAILLMService) Respond(ctx context.Context, conversation *core.Conversation, transcript string) (string, error) {
	if s.config.APIKey == "" {
		return "", errors.New("llm: API key is required")
	}
	conversation.AddUserTurn(transcript)

	reply, err := retry.Do(ctx, s.retryer, func(ctx context.Context) (string, error) {
		return s.Complete(ctx, conversation)
	})
	if err != nil {
		return "", err
	}

	conversation.AddAssistantTurn(reply)
	return reply, nil
}

// Complete runs a single chat completion over the whole conversation.
func (s *OpenAILLMService) Complete(ctx context.Context, conversation *core.Conversation) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    convertTurns(conversation.Turns()),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", markOverload(fmt.Errorf("llm: create completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: completion returned no choices")
	}

	s.logger.Debug("completion received",
		"finish_reason", string(resp.Choices[0].FinishReason),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// IsTransient reports whether err signals a temporarily unavailable upstream:
// either it was marked by Complete after a 503 or its message carries one of
// the configured markers.
func (s *OpenAILLMService) IsTransient(err error) bool {
	if err == nil || retry.IsCancelled(err) {
		return false
	}
	return retry.IsTransient(err) || s.markers(err)
}

// markOverload marks API and request errors that carry HTTP 503 as transient.
func markOverload(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusServiceUnavailable {
		return retry.MarkTransient(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusServiceUnavailable {
		return retry.MarkTransient(err)
	}
	return err
}

// convertTurns converts conversation turns to chat messages
func convertTurns(turns []core.Turn) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    convertRole(t.Role),
			Content: t.Text,
		})
	}
	return messages
}

// convertRole converts core role to OpenAI role
func convertRole(role core.Role) string {
	switch role {
	case core.RoleSystem:
		return openai.ChatMessageRoleSystem
	case core.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
