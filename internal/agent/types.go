package agent

import (
	"context"
	"time"
)

// Agent roles. Router classification and planner task assignment both use
// these values.
const (
	RoleTalk     = "talk"
	RoleCoding   = "code"
	RoleBrowsing = "web"
	RoleFiles    = "files"
	RolePlanner  = "planner"
)

// Complexity is the router's estimate of how much orchestration a query
// needs.
type Complexity string

const (
	ComplexityLow  Complexity = "low"
	ComplexityHigh Complexity = "high"
)

// Run states reported through RunStatus.
const (
	StatePending   = "pending"
	StateRouting   = "routing"
	StatePlanning  = "planning"
	StateExecuting = "executing"
	StateDone      = "done"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

// Query is one user request entering the pipeline.
type Query struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	History   string    `json:"-"` // rendered session context, not persisted with the query
	CreatedAt time.Time `json:"created_at"`
}

// Task is one unit of work assigned to an agent.
type Task struct {
	ID          string                 `json:"id"`
	Role        string                 `json:"role"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	DependsOn   []string               `json:"depends_on,omitempty"`
	Priority    int                    `json:"priority,omitempty"`
	Timeout     time.Duration          `json:"timeout,omitempty"`
}

// Result is the outcome of one task execution.
type Result struct {
	TaskID     string        `json:"task_id"`
	Agent      string        `json:"agent"`
	Success    bool          `json:"success"`
	Content    string        `json:"content"`
	Sources    []string      `json:"sources,omitempty"`
	Error      string        `json:"error,omitempty"`
	TokensUsed int           `json:"tokens_used"`
	Cost       float64       `json:"cost"`
	Duration   time.Duration `json:"duration"`
}

// RunResult is the aggregated outcome of a whole query run.
type RunResult struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	UserID     string        `json:"user_id"`
	Query      string        `json:"query"`
	Answer     string        `json:"answer"`
	Complexity Complexity    `json:"complexity"`
	AgentsUsed []string      `json:"agents_used"`
	Steps      []Result      `json:"steps"`
	TokensUsed int           `json:"tokens_used"`
	Cost       float64       `json:"cost"`
	Duration   time.Duration `json:"duration"`
	CreatedAt  time.Time     `json:"created_at"`
}

// RunStatus is the live progress of an in-flight run.
type RunStatus struct {
	RunID          string    `json:"run_id"`
	State          string    `json:"state"`
	Progress       float64   `json:"progress"`
	CurrentTask    string    `json:"current_task,omitempty"`
	TotalTasks     int       `json:"total_tasks"`
	CompletedTasks int       `json:"completed_tasks"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Agent is a specialised task handler.
type Agent interface {
	// Role identifies the agent in routing and planning.
	Role() string
	// Description is shown to the planner model when building task lists.
	Description() string
	// Confidence scores how well this agent fits a task, 0..1.
	Confidence(task Task) float64
	// Execute runs one task to completion.
	Execute(ctx context.Context, task Task) (Result, error)
}
