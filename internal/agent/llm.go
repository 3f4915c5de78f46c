package agent

import (
	"context"

	"localmind/config"
	"localmind/internal/inference"
	"localmind/internal/telemetry"
)

// llmClient routes chat calls through the model routing table and records
// token usage. Shared by the router, planner and agents.
type llmClient struct {
	provider  inference.Provider
	cfg       config.LLMConfig
	telemetry *telemetry.Telemetry
}

// chat resolves the model for stage and runs a completion.
func (l *llmClient) chat(ctx context.Context, stage string, msgs []inference.Message, opts inference.Options) (inference.Completion, error) {
	key := l.cfg.Routing.Resolve(stage)
	comp, err := l.provider.Chat(ctx, key, msgs, opts)
	if l.telemetry != nil {
		l.telemetry.RecordLLMCall(l.cfg.Models[key], comp.Usage.PromptTokens, comp.Usage.CompletionTokens, err)
	}
	return comp, err
}

// costOf prices a completion with the configured per-1k rates for stage.
func (l *llmClient) costOf(stage string, u inference.Usage) float64 {
	m := l.cfg.Models[l.cfg.Routing.Resolve(stage)]
	return float64(u.PromptTokens)/1000*m.CostPer1K + float64(u.CompletionTokens)/1000*m.CostPer1KOutput
}
