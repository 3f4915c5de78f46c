package agent

import (
	"localmind/config"
	"localmind/internal/inference"
	"localmind/internal/sandbox"
	"localmind/internal/telemetry"
	"localmind/internal/tools/fileindex"
	"localmind/internal/tools/webfetch"
	"localmind/internal/tools/websearch"
)

// NewAgents builds the registry from whatever tooling is available. The talk
// agent is always registered; coding, browsing and files join only when their
// runner, search client or index is configured.
func NewAgents(cfg *config.Config, provider inference.Provider, tel *telemetry.Telemetry, runner *sandbox.Runner, search *websearch.Client, fetcher *webfetch.Fetcher, index *fileindex.Index) (*Registry, error) {
	llm := &llmClient{provider: provider, cfg: cfg.LLM, telemetry: tel}
	agentsCfg := cfg.Agents.Normalize()
	browserCfg := cfg.Browser.Normalize()

	registry := NewRegistry()
	if err := registry.Register(NewTalkAgent(llm)); err != nil {
		return nil, err
	}
	if runner != nil {
		if err := registry.Register(NewCodingAgent(llm, runner, agentsCfg.CodeRepairRounds)); err != nil {
			return nil, err
		}
	}
	if search != nil && fetcher != nil {
		if err := registry.Register(NewBrowsingAgent(llm, search, fetcher, browserCfg.MaxPages)); err != nil {
			return nil, err
		}
	}
	if index != nil {
		if err := registry.Register(NewFileAgent(llm, index)); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
