package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRoutingResolveFallback(t *testing.T) {
	r := LLMRoutingConfig{Planning: "big", Fallback: "small"}
	require.Equal(t, "big", r.Resolve("planning"))
	require.Equal(t, "small", r.Resolve("coding"))
	require.Equal(t, "small", r.Resolve("unknown-stage"))
}

func TestLLMConfigValidate(t *testing.T) {
	cfg := LLMConfig{Provider: "ollama", Models: map[string]LLMModel{"small": {Name: "qwen2.5:7b"}}, Routing: LLMRoutingConfig{Fallback: "small"}}
	require.NoError(t, cfg.Validate())

	cfg.Provider = "anthropic"
	require.Error(t, cfg.Validate())

	cfg.Provider = "lmstudio"
	cfg.Routing.Fallback = "missing"
	require.Error(t, cfg.Validate())
}

func TestNormalizeDefaults(t *testing.T) {
	b := BrowserConfig{}.Normalize()
	require.Equal(t, 15*time.Second, b.PageTimeout)
	require.Equal(t, 20000, b.MaxChars)

	a := AgentsConfig{}.Normalize()
	require.Equal(t, 3, a.MaxConcurrentAgents)
	require.InEpsilon(t, 0.5, a.ConfidenceThreshold, 1e-9)

	s := SessionConfig{}.Normalize()
	require.Equal(t, 8, s.KeepRecentTurns)

	sc := SchedulerConfig{}.Normalize()
	require.Equal(t, "@daily", sc.RunPruneCron)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{User: "mind", Password: "secret", Host: "db", Port: "5433", DBName: "localmind"}
	require.Equal(t, "postgres://mind:secret@db:5433/localmind?sslmode=disable", p.DSN())

	p.URL = "postgres://override"
	require.Equal(t, "postgres://override", p.DSN())
}

func TestSandboxValidate(t *testing.T) {
	require.Error(t, SandboxConfig{}.Validate())
	require.NoError(t, SandboxConfig{AllowedInterpreters: []string{"python3"}}.Validate())
}
