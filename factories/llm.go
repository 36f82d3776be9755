package factories

import (
	"fmt"
	"sort"
	"strings"

	"jarvis/core"
	openaillm "jarvis/services/openai/llm"
)

// LLMFactoryConfig selects an OpenAI-compatible provider. Every provider is
// served by the same OpenAI service with a provider-specific base URL.
type LLMFactoryConfig struct {
	Provider         string `yaml:"provider"`
	openaillm.Config `yaml:",inline"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type providerDefaults struct {
	baseURL string
	model   string
}

// Default base URLs and models for OpenAI-compatible providers.
var providers = map[string]providerDefaults{
	ProviderGemini: {"https://generativelanguage.googleapis.com/v1beta/openai", "gemini-2.5-flash"},
	ProviderOpenAI: {"https://api.openai.com/v1", "gpt-4o-mini"},
	"together":     {"https://api.together.xyz/v1", "meta-llama/Llama-3.3-70B-Instruct-Turbo"},
	"groq":         {"https://api.groq.com/openai/v1", "llama-3.3-70b-versatile"},
	"deepseek":     {"https://api.deepseek.com/v1", "deepseek-chat"},
	"openrouter":   {"https://openrouter.ai/api/v1", "openai/gpt-4o"},
	"fireworks":    {"https://api.fireworks.ai/inference/v1", "accounts/fireworks/models/llama-v3p3-70b-instruct"},
	"cerebras":     {"https://api.cerebras.ai/v1", "llama-3.3-70b"},
	"xai":          {"https://api.x.ai/v1", "grok-3"},
	"mistral":      {"https://api.mistral.ai/v1", "mistral-large-latest"},
	"perplexity":   {"https://api.perplexity.ai", "sonar-pro"},
}

// Providers lists the known provider names in sorted order.
func Providers() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// applyProviderDefaults fills in base URL and model if not explicitly set.
func (c *LLMFactoryConfig) applyProviderDefaults() error {
	if c.Provider == "" {
		c.Provider = ProviderGemini
	}
	c.Provider = strings.ToLower(c.Provider)
	defaults, ok := providers[c.Provider]
	if !ok {
		return fmt.Errorf("llm: unknown provider %q (known: %s)", c.Provider, strings.Join(Providers(), ", "))
	}
	if c.BaseURL == "" {
		c.BaseURL = defaults.baseURL
	}
	if c.Model == "" {
		c.Model = defaults.model
	}
	return nil
}

func (c LLMFactoryConfig) Validate() error {
	if _, ok := providers[strings.ToLower(c.Provider)]; !ok {
		return fmt.Errorf("unknown provider %q", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative, got %d", c.MaxTokens)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0,2], got %g", c.Temperature)
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return nil
}

// BuildLLMService constructs the responder for the configured provider.
func BuildLLMService(config LLMFactoryConfig, logger *core.Logger) (*openaillm.OpenAILLMService, error) {
	if err := config.applyProviderDefaults(); err != nil {
		return nil, err
	}
	return openaillm.NewOpenAILLMService(config.Config, logger), nil
}
