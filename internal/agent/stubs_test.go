package agent

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"localmind/config"
	"localmind/internal/inference"
	"localmind/internal/telemetry"
)

// scriptedProvider pops canned replies in call order.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   []string // model keys, for assertions
}

func (s *scriptedProvider) Chat(_ context.Context, modelKey string, _ []inference.Message, _ inference.Options) (inference.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, modelKey)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return inference.Completion{}, err
		}
	}
	if len(s.replies) == 0 {
		return inference.Completion{}, fmt.Errorf("scripted provider exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return inference.Completion{Text: reply, Usage: inference.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}, nil
}

func (s *scriptedProvider) Ping(context.Context) error { return nil }
func (s *scriptedProvider) Name() string               { return "scripted" }

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		Provider: "ollama",
		Models: map[string]config.LLMModel{
			"small": {Name: "qwen2.5:7b"},
			"big":   {Name: "qwen2.5:32b"},
		},
		Routing: config.LLMRoutingConfig{Router: "small", Planning: "big", Fallback: "small"},
	}
}

func testTelemetry() *telemetry.Telemetry {
	return telemetry.New(config.TelemetryConfig{Enabled: true}, prometheus.NewRegistry())
}

func testLLM(p inference.Provider) *llmClient {
	return &llmClient{provider: p, cfg: testLLMConfig(), telemetry: testTelemetry()}
}

// fakeAgent records executions and returns canned content.
type fakeAgent struct {
	role    string
	content string
	err     error
	block   bool // block until context cancellation

	mu     sync.Mutex
	params []map[string]interface{}
}

func (f *fakeAgent) Role() string        { return f.role }
func (f *fakeAgent) Description() string { return "fake " + f.role }
func (f *fakeAgent) Confidence(task Task) float64 {
	if task.Role == f.role {
		return 0.9
	}
	return 0.1
}

func (f *fakeAgent) Execute(ctx context.Context, task Task) (Result, error) {
	f.mu.Lock()
	f.params = append(f.params, task.Parameters)
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Content: f.content, TokensUsed: 10}, nil
}

func (f *fakeAgent) seenParams() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, len(f.params))
	copy(out, f.params)
	return out
}
