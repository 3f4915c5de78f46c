package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"localmind/config"
)

// OllamaProvider speaks the native Ollama HTTP API.
type OllamaProvider struct {
	baseURL string
	cfg     config.LLMConfig
	httpc   *http.Client
	retries int
	logger  *log.Logger
}

// NewOllamaProvider builds a provider for an Ollama daemon, default
// http://localhost:11434.
func NewOllamaProvider(cfg config.LLMConfig) *OllamaProvider {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = 2
	}
	return &OllamaProvider{
		baseURL: base,
		cfg:     cfg,
		httpc:   &http.Client{Timeout: timeout},
		retries: retries,
		logger:  log.New(log.Writer(), "[LLM] ", log.LstdFlags),
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string                 `json:"model"`
	Messages []Message              `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

func (p *OllamaProvider) Chat(ctx context.Context, modelKey string, msgs []Message, opts Options) (Completion, error) {
	model, err := resolveModel(p.cfg, modelKey)
	if err != nil {
		return Completion{}, err
	}
	req := ollamaChatRequest{
		Model:    apiName(model),
		Messages: msgs,
		Stream:   false,
		Options:  map[string]interface{}{},
	}
	if opts.JSONMode {
		req.Format = "json"
	}
	temp := model.Temperature
	if opts.Temperature > 0 {
		temp = opts.Temperature
	}
	req.Options["temperature"] = temp
	if n := opts.MaxTokens; n > 0 {
		req.Options["num_predict"] = n
	} else if model.MaxTokens > 0 {
		req.Options["num_predict"] = model.MaxTokens
	}

	start := time.Now()
	var out ollamaChatResponse
	for attempt := 0; ; attempt++ {
		err = p.doJSON(ctx, http.MethodPost, "/api/chat", req, &out)
		if err == nil && out.Error == "" {
			break
		}
		if err == nil {
			err = fmt.Errorf("ollama: %s", out.Error)
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
	return Completion{
		Text:  out.Message.Content,
		Model: out.Model,
		Usage: Usage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
		Duration: time.Since(start),
	}, nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Ping checks the daemon is up and every configured model is pulled.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	var tags ollamaTagsResponse
	if err := p.doJSON(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return fmt.Errorf("listing local models: %w", err)
	}
	pulled := make(map[string]bool, len(tags.Models))
	for _, m := range tags.Models {
		pulled[m.Name] = true
		// "qwen2.5:latest" also answers to "qwen2.5"
		if i := strings.Index(m.Name, ":"); i > 0 {
			pulled[m.Name[:i]] = true
		}
	}
	for key, m := range p.cfg.Models {
		if !pulled[apiName(m)] {
			return fmt.Errorf("model %s (%s) is not pulled, run: ollama pull %s", key, apiName(m), apiName(m))
		}
	}
	return nil
}

func (p *OllamaProvider) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, truncate(string(data), 300))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
