package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"localmind/config"
	"localmind/internal/inference"
	"localmind/internal/telemetry"
)

// Plan is an ordered set of tasks forming a DAG.
type Plan struct {
	Tasks      []Task  `json:"tasks"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Planner decomposes a high-complexity query into agent tasks using the
// planning model.
type Planner struct {
	llm      *llmClient
	registry *Registry
	timeout  time.Duration
	logger   *log.Logger
}

// NewPlanner builds a planner over the registry's agents.
func NewPlanner(provider inference.Provider, llmCfg config.LLMConfig, agentsCfg config.AgentsConfig, registry *Registry, tel *telemetry.Telemetry) *Planner {
	agentsCfg = agentsCfg.Normalize()
	return &Planner{
		llm:      &llmClient{provider: provider, cfg: llmCfg, telemetry: tel},
		registry: registry,
		timeout:  agentsCfg.AgentTimeout,
		logger:   log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Build asks the planning model for a task list and validates it. An
// invalid first response gets one repair round with the validation error
// attached.
func (p *Planner) Build(ctx context.Context, query Query) (Plan, error) {
	prompt := p.buildPrompt(query)
	msgs := []inference.Message{
		{Role: "system", Content: prompt},
		{Role: "user", Content: query.Content},
	}
	comp, err := p.llm.chat(ctx, "planning", msgs, inference.Options{JSONMode: true})
	if err != nil {
		return Plan{}, fmt.Errorf("planning: %w", err)
	}
	plan, parseErr := p.parse(comp.Text)
	if parseErr == nil {
		parseErr = p.Validate(plan)
	}
	if parseErr == nil {
		return p.normalize(plan), nil
	}

	// one repair round: feed the error back
	p.logger.Printf("plan invalid, requesting repair: %v", parseErr)
	msgs = append(msgs,
		inference.Message{Role: "assistant", Content: comp.Text},
		inference.Message{Role: "user", Content: fmt.Sprintf("That plan is invalid: %v. Respond again with corrected JSON only.", parseErr)},
	)
	comp, err = p.llm.chat(ctx, "planning", msgs, inference.Options{JSONMode: true})
	if err != nil {
		return Plan{}, fmt.Errorf("planning repair: %w", err)
	}
	plan, err = p.parse(comp.Text)
	if err != nil {
		return Plan{}, fmt.Errorf("planning produced unparseable tasks: %w", err)
	}
	if err := p.Validate(plan); err != nil {
		return Plan{}, fmt.Errorf("planning produced an invalid task graph: %w", err)
	}
	return p.normalize(plan), nil
}

func (p *Planner) buildPrompt(query Query) string {
	var b strings.Builder
	b.WriteString("You are a task planner for a local assistant. Break the user's request into tasks for these agents:\n\n")
	b.WriteString(p.registry.Descriptions())
	b.WriteString(`
Respond with JSON only:
{
  "reasoning": "one sentence",
  "confidence": 0.0,
  "tasks": [
    {"id": "task_1", "role": "web", "description": "...", "depends_on": []},
    {"id": "task_2", "role": "talk", "description": "combine the results into a final answer", "depends_on": ["task_1"]}
  ]
}

Rules:
- every task id is unique, depends_on references existing ids only
- no dependency cycles
- use the fewest tasks that cover the request
- the last task aggregates earlier results into the final answer`)
	if query.History != "" {
		b.WriteString("\n\nConversation context:\n")
		b.WriteString(query.History)
	}
	return b.String()
}

type rawPlan struct {
	Reasoning  string    `json:"reasoning"`
	Confidence float64   `json:"confidence"`
	Tasks      []rawTask `json:"tasks"`
}

type rawTask struct {
	ID          string                 `json:"id"`
	Role        string                 `json:"role"`
	Type        string                 `json:"type"` // lenient alias for role
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
	DependsOn   []string               `json:"depends_on"`
	Priority    int                    `json:"priority"`
	TimeoutSecs int                    `json:"timeout_seconds"`
}

// parse extracts and decodes the task list from a model response. Missing
// ids and roles are filled leniently before validation.
func (p *Planner) parse(response string) (Plan, error) {
	raw := inference.ExtractFirstJSON(inference.StripCodeFences(response))
	if raw == "" {
		return Plan{}, fmt.Errorf("no JSON object found in response")
	}
	var rp rawPlan
	if err := json.Unmarshal([]byte(raw), &rp); err != nil {
		// lenient fallback: treat a bare array as the task list
		var tasks []rawTask
		if arrErr := json.Unmarshal([]byte(raw), &tasks); arrErr != nil {
			return Plan{}, fmt.Errorf("decoding plan: %w", err)
		}
		rp.Tasks = tasks
	}
	plan := Plan{Reasoning: rp.Reasoning, Confidence: rp.Confidence}
	for i, rt := range rp.Tasks {
		role := rt.Role
		if role == "" {
			role = rt.Type
		}
		id := strings.TrimSpace(rt.ID)
		if id == "" {
			id = fmt.Sprintf("task_%d", i+1)
		}
		timeout := time.Duration(rt.TimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = p.timeout
		}
		plan.Tasks = append(plan.Tasks, Task{
			ID:          id,
			Role:        normalizePlanRole(role),
			Description: strings.TrimSpace(rt.Description),
			Parameters:  rt.Parameters,
			DependsOn:   rt.DependsOn,
			Priority:    rt.Priority,
			Timeout:     timeout,
		})
	}
	return plan, nil
}

// Validate rejects empty plans, unknown roles, duplicate ids, unknown
// dependencies and cycles.
func (p *Planner) Validate(plan Plan) error {
	if len(plan.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	ids := make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
		if _, ok := p.registry.Get(t.Role); !ok {
			return fmt.Errorf("task %s uses unknown role %q", t.ID, t.Role)
		}
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("task %s has no description", t.ID)
		}
	}
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("task %s depends on unknown task %q", t.ID, dep)
			}
			if dep == t.ID {
				return fmt.Errorf("task %s depends on itself", t.ID)
			}
		}
	}
	if err := checkCycles(plan.Tasks); err != nil {
		return err
	}
	return nil
}

// normalize appends an aggregation step when the plan's final tasks leave
// more than one loose end.
func (p *Planner) normalize(plan Plan) Plan {
	depended := make(map[string]bool)
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			depended[dep] = true
		}
	}
	var leaves []string
	for _, t := range plan.Tasks {
		if !depended[t.ID] {
			leaves = append(leaves, t.ID)
		}
	}
	if len(leaves) <= 1 {
		return plan
	}
	aggRole := RoleTalk
	if _, ok := p.registry.Get(aggRole); !ok {
		// any registered role can aggregate through its model
		aggRole = p.registry.Roles()[0]
	}
	plan.Tasks = append(plan.Tasks, Task{
		ID:          "aggregate",
		Role:        aggRole,
		Description: "Combine the results of the previous tasks into one final answer for the user.",
		DependsOn:   leaves,
		Timeout:     p.timeout,
	})
	return plan
}

// checkCycles runs a DFS over the dependency edges.
func checkCycles(tasks []Task) error {
	deps := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		deps[t.ID] = t.DependsOn
	}
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make(map[string]int, len(tasks))
	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case grey:
			return fmt.Errorf("dependency cycle through task %q", id)
		case black:
			return nil
		}
		color[id] = grey
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}
	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}

func normalizePlanRole(role string) string {
	if r := normalizeRole(role); r != "" {
		return r
	}
	return strings.ToLower(strings.TrimSpace(role))
}
