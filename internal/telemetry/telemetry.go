package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"localmind/config"
)

// Telemetry aggregates run metrics and per-model cost accounting.
type Telemetry struct {
	mu sync.RWMutex

	runsTotal       *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	agentExecutions *prometheus.CounterVec
	agentDuration   *prometheus.HistogramVec
	llmTokens       *prometheus.CounterVec
	llmCalls        *prometheus.CounterVec
	routerDecisions *prometheus.CounterVec

	costTracking bool
	totalCostUSD float64
	costByModel  map[string]float64

	logger *log.Logger
}

// New registers the collectors on reg and returns the telemetry handle.
// A nil reg uses the default registry.
func New(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Telemetry{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmind_runs_total",
			Help: "Completed query runs by outcome.",
		}, []string{"status"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "localmind_run_duration_seconds",
			Help:    "End to end query run duration.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		}, []string{"complexity"}),
		agentExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmind_agent_executions_total",
			Help: "Agent task executions by agent type and outcome.",
		}, []string{"agent", "status"}),
		agentDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "localmind_agent_duration_seconds",
			Help:    "Per agent task duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"agent"}),
		llmTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmind_llm_tokens_total",
			Help: "Tokens consumed by model and direction.",
		}, []string{"model", "direction"}),
		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmind_llm_calls_total",
			Help: "Chat completion calls by model and outcome.",
		}, []string{"model", "status"}),
		routerDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "localmind_router_decisions_total",
			Help: "Routing decisions by agent type and complexity.",
		}, []string{"agent", "complexity"}),
		costTracking: cfg.CostTracking,
		costByModel:  make(map[string]float64),
		logger:       log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
	}
}

// RecordRun records one finished query run.
func (t *Telemetry) RecordRun(status, complexity string, d time.Duration) {
	t.runsTotal.WithLabelValues(status).Inc()
	t.runDuration.WithLabelValues(complexity).Observe(d.Seconds())
}

// RecordAgent records one agent task execution.
func (t *Telemetry) RecordAgent(agent, status string, d time.Duration) {
	t.agentExecutions.WithLabelValues(agent, status).Inc()
	t.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RecordRouting records a router decision.
func (t *Telemetry) RecordRouting(agent, complexity string) {
	t.routerDecisions.WithLabelValues(agent, complexity).Inc()
}

// RecordLLMCall records tokens and cost for one completion. Cost uses the
// configured per-1k rates; local models normally carry zero rates.
func (t *Telemetry) RecordLLMCall(model config.LLMModel, promptTokens, completionTokens int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	t.llmCalls.WithLabelValues(model.Name, status).Inc()
	t.llmTokens.WithLabelValues(model.Name, "prompt").Add(float64(promptTokens))
	t.llmTokens.WithLabelValues(model.Name, "completion").Add(float64(completionTokens))

	if !t.costTracking || err != nil {
		return
	}
	cost := float64(promptTokens)/1000*model.CostPer1K + float64(completionTokens)/1000*model.CostPer1KOutput
	if cost == 0 {
		return
	}
	t.mu.Lock()
	t.totalCostUSD += cost
	t.costByModel[model.Name] += cost
	t.mu.Unlock()
}

// TotalCost returns the accumulated USD cost.
func (t *Telemetry) TotalCost() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.totalCostUSD
}

// CostByModel returns a copy of per model costs.
func (t *Telemetry) CostByModel() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.costByModel))
	for k, v := range t.costByModel {
		out[k] = v
	}
	return out
}

// LogSummary writes the cost summary to the log.
func (t *Telemetry) LogSummary() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.logger.Printf("total cost: $%.4f across %d models", t.totalCostUSD, len(t.costByModel))
}
