package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"localmind/config"
)

// Message is a single chat turn sent to a model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of one chat call.
type Completion struct {
	Text     string        `json:"text"`
	Model    string        `json:"model"`
	Usage    Usage         `json:"usage"`
	Duration time.Duration `json:"duration"`
}

// Options tunes a single chat call. Zero values defer to the model config.
type Options struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Provider is a chat-completion backend. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Chat runs a completion with the model registered under modelKey.
	Chat(ctx context.Context, modelKey string, msgs []Message, opts Options) (Completion, error)
	// Ping verifies the backend is reachable and the configured models exist.
	Ping(ctx context.Context) error
	// Name identifies the backend kind for logs and metrics.
	Name() string
}

// NewProvider builds the provider selected by cfg.Provider. The lmstudio,
// server and openai kinds all speak the OpenAI chat completions API and
// differ only in base URL and auth.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaProvider(cfg), nil
	case "lmstudio", "server", "openai":
		return NewOpenAICompatProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// resolveModel maps a routing key to its configured model, falling back to
// the key itself so callers may pass raw API model names.
func resolveModel(cfg config.LLMConfig, key string) (config.LLMModel, error) {
	if m, ok := cfg.Models[key]; ok {
		return m, nil
	}
	for _, m := range cfg.Models {
		if m.Name == key || m.APIName == key {
			return m, nil
		}
	}
	return config.LLMModel{}, fmt.Errorf("model %q is not configured", key)
}

func apiName(m config.LLMModel) string {
	if strings.TrimSpace(m.APIName) != "" {
		return m.APIName
	}
	return m.Name
}
