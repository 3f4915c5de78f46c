package inference

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"localmind/config"
)

// OpenAICompatProvider talks to any server implementing the OpenAI chat
// completions API: LM Studio, llama-server, vLLM or the hosted service.
type OpenAICompatProvider struct {
	client  *openai.Client
	cfg     config.LLMConfig
	retries int
	logger  *log.Logger
}

// NewOpenAICompatProvider builds a client for cfg.BaseURL. A hosted OpenAI
// setup requires an API key; local servers accept any placeholder.
func NewOpenAICompatProvider(cfg config.LLMConfig) (*OpenAICompatProvider, error) {
	key := cfg.APIKey
	if key == "" {
		if cfg.Provider == "openai" {
			return nil, fmt.Errorf("llm.api_key is required for the openai provider")
		}
		key = "local"
	}
	cc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/v1"
		if strings.Contains(cfg.BaseURL, "/v1") {
			cc.BaseURL = cfg.BaseURL
		}
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 2
	}
	return &OpenAICompatProvider{
		client:  openai.NewClientWithConfig(cc),
		cfg:     cfg,
		retries: retries,
		logger:  log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}, nil
}

func (p *OpenAICompatProvider) Name() string { return p.cfg.Provider }

func (p *OpenAICompatProvider) Chat(ctx context.Context, modelKey string, msgs []Message, opts Options) (Completion, error) {
	model, err := resolveModel(p.cfg, modelKey)
	if err != nil {
		return Completion{}, err
	}
	req := openai.ChatCompletionRequest{
		Model:    apiName(model),
		Messages: make([]openai.ChatCompletionMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req.Temperature = float32(model.Temperature)
	if opts.Temperature > 0 {
		req.Temperature = float32(opts.Temperature)
	}
	req.MaxTokens = model.MaxTokens
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	for attempt := 0; ; attempt++ {
		resp, err = p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
		if attempt >= p.retries || ctx.Err() != nil {
			return Completion{}, fmt.Errorf("chat completion (%s): %w", req.Model, err)
		}
		p.logger.Printf("chat attempt %d failed, retrying: %v", attempt+1, err)
		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	if len(resp.Choices) == 0 {
		return Completion{}, fmt.Errorf("chat completion (%s): empty choices", req.Model)
	}
	return Completion{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// Ping lists models on the backend and checks every configured api name is
// served. Hosted OpenAI setups skip the membership check.
func (p *OpenAICompatProvider) Ping(ctx context.Context) error {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	if p.cfg.Provider == "openai" {
		return nil
	}
	served := make(map[string]bool, len(list.Models))
	for _, m := range list.Models {
		served[m.ID] = true
	}
	for key, m := range p.cfg.Models {
		if !served[apiName(m)] {
			return fmt.Errorf("model %s (%s) is not loaded on %s", key, apiName(m), p.cfg.BaseURL)
		}
	}
	return nil
}
