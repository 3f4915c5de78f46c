package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"localmind/config"
	"localmind/internal/telemetry"
)

// Coordinator runs queries end to end: route, optionally plan, execute the
// task graph in dependency order and aggregate the answer.
type Coordinator struct {
	registry  *Registry
	router    *Router
	planner   *Planner
	telemetry *telemetry.Telemetry
	cfg       config.AgentsConfig
	logger    *log.Logger

	mu      sync.RWMutex
	running map[string]*RunStatus
	cancels map[string]context.CancelFunc
	latest  map[string]RunResult // last completed run per session

	semaphore chan struct{}
}

// NewCoordinator wires the pipeline together.
func NewCoordinator(registry *Registry, router *Router, planner *Planner, cfg config.AgentsConfig, tel *telemetry.Telemetry) *Coordinator {
	cfg = cfg.Normalize()
	return &Coordinator{
		registry:  registry,
		router:    router,
		planner:   planner,
		telemetry: tel,
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[COORD] ", log.LstdFlags),
		running:   make(map[string]*RunStatus),
		cancels:   make(map[string]context.CancelFunc),
		latest:    make(map[string]RunResult),
		semaphore: make(chan struct{}, cfg.MaxConcurrentAgents),
	}
}

// Process executes one query. Blocks until the run finishes, fails or the
// context is cancelled; live progress is available through Status.
func (c *Coordinator) Process(ctx context.Context, query Query) (RunResult, error) {
	if c.registry.Size() == 0 {
		return RunResult{}, fmt.Errorf("no agents registered")
	}
	if query.ID == "" {
		query.ID = uuid.NewString()
	}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	status := &RunStatus{
		RunID:       query.ID,
		State:       StatePending,
		CreatedAt:   time.Now().UTC(),
		LastUpdated: time.Now().UTC(),
	}
	c.mu.Lock()
	c.running[query.ID] = status
	c.cancels[query.ID] = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.cancels, query.ID)
		c.mu.Unlock()
		// keep the terminal status around briefly for pollers
		go func() {
			time.Sleep(time.Minute)
			c.mu.Lock()
			delete(c.running, query.ID)
			c.mu.Unlock()
		}()
	}()

	c.updateStatus(status, StateRouting, 0.05, "")
	decision, err := c.router.Route(ctx, query)
	if err != nil {
		c.fail(status, err)
		return RunResult{}, err
	}
	c.telemetry.RecordRouting(decision.Role, string(decision.Complexity))

	var plan Plan
	if decision.Complexity == ComplexityHigh {
		if c.planner == nil {
			err := fmt.Errorf("query needs multi-step planning but no planner is configured")
			c.fail(status, err)
			return RunResult{}, err
		}
		c.updateStatus(status, StatePlanning, 0.1, "")
		plan, err = c.planner.Build(ctx, query)
		if err != nil {
			c.fail(status, err)
			c.telemetry.RecordRun("failed", string(decision.Complexity), time.Since(start))
			return RunResult{}, err
		}
	} else {
		plan = Plan{Tasks: []Task{{
			ID:          "task_1",
			Role:        decision.Role,
			Description: query.Content,
			Timeout:     c.cfg.AgentTimeout,
		}}}
	}

	c.mu.Lock()
	status.TotalTasks = len(plan.Tasks)
	c.mu.Unlock()
	c.updateStatus(status, StateExecuting, 0.2, "")

	results, err := c.executeTasks(ctx, query, plan, status)
	if err != nil {
		if ctx.Err() == context.Canceled {
			c.updateStatus(status, StateCancelled, 0, "")
			c.telemetry.RecordRun("cancelled", string(decision.Complexity), time.Since(start))
			return RunResult{}, fmt.Errorf("run cancelled")
		}
		c.fail(status, err)
		c.telemetry.RecordRun("failed", string(decision.Complexity), time.Since(start))
		return RunResult{}, err
	}

	run := c.aggregate(query, decision, plan, results, start)
	c.updateStatus(status, StateDone, 1.0, "")
	c.telemetry.RecordRun("success", string(decision.Complexity), run.Duration)
	c.logger.Printf("run %s done in %v (%d tasks, %d tokens)", run.ID, run.Duration, len(run.Steps), run.TokensUsed)

	c.mu.Lock()
	c.latest[query.SessionID] = run
	c.mu.Unlock()
	return run, nil
}

// executeTasks runs ready tasks in waves: a task is ready once all of its
// dependencies finished. Each wave runs concurrently under the semaphore.
func (c *Coordinator) executeTasks(ctx context.Context, query Query, plan Plan, status *RunStatus) (map[string]Result, error) {
	results := make(map[string]Result, len(plan.Tasks))
	executed := make(map[string]bool, len(plan.Tasks))
	var mu sync.Mutex

	for len(executed) < len(plan.Tasks) {
		var ready []Task
		for _, t := range plan.Tasks {
			if executed[t.ID] {
				continue
			}
			ok := true
			for _, dep := range t.DependsOn {
				if !executed[dep] {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, t)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("task graph is stuck: circular or missing dependencies")
		}

		var wg sync.WaitGroup
		errCh := make(chan error, len(ready))
		for _, task := range ready {
			wg.Add(1)
			go func(t Task) {
				defer wg.Done()

				select {
				case c.semaphore <- struct{}{}:
					defer func() { <-c.semaphore }()
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}

				mu.Lock()
				t.Parameters = withInputs(t, query, results)
				mu.Unlock()
				c.setCurrentTask(status, t.ID)

				res, err := c.runTask(ctx, t)
				if err != nil {
					errCh <- fmt.Errorf("task %s: %w", t.ID, err)
					return
				}
				mu.Lock()
				results[t.ID] = res
				executed[t.ID] = true
				mu.Unlock()
				c.advance(status, len(plan.Tasks))
			}(task)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			if err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// runTask finds the best agent and executes with per-task timeout and
// retries.
func (c *Coordinator) runTask(ctx context.Context, t Task) (Result, error) {
	a := c.registry.Best(t)
	if a == nil {
		return Result{}, fmt.Errorf("no agent available for role %q", t.Role)
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = c.cfg.AgentTimeout
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Printf("retrying task %s (attempt %d): %v", t.ID, attempt+1, lastErr)
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(c.cfg.RetryDelay):
			}
		}
		taskCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		res, err := a.Execute(taskCtx, t)
		cancel()
		if err == nil {
			res.TaskID = t.ID
			res.Agent = a.Role()
			res.Duration = time.Since(start)
			res.Success = true
			c.telemetry.RecordAgent(a.Role(), "success", res.Duration)
			return res, nil
		}
		lastErr = err
		c.telemetry.RecordAgent(a.Role(), "error", time.Since(start))
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}
	return Result{}, lastErr
}

// aggregate assembles the run result. The answer is the content of the
// final task; earlier steps are carried as traces.
func (c *Coordinator) aggregate(query Query, decision Decision, plan Plan, results map[string]Result, start time.Time) RunResult {
	steps := make([]Result, 0, len(plan.Tasks))
	tokens := 0
	cost := 0.0
	agentSet := make(map[string]bool)
	for _, t := range plan.Tasks {
		r := results[t.ID]
		steps = append(steps, r)
		tokens += r.TokensUsed
		cost += r.Cost
		agentSet[r.Agent] = true
	}
	answer := ""
	var sources []string
	if len(plan.Tasks) > 0 {
		final := results[finalTask(plan).ID]
		answer = final.Content
	}
	for _, s := range steps {
		sources = append(sources, s.Sources...)
	}
	agents := make([]string, 0, len(agentSet))
	for a := range agentSet {
		if a != "" {
			agents = append(agents, a)
		}
	}
	return RunResult{
		ID:         query.ID,
		SessionID:  query.SessionID,
		UserID:     query.UserID,
		Query:      query.Content,
		Answer:     FormatAnswer(answer, dedupe(sources)),
		Complexity: decision.Complexity,
		AgentsUsed: agents,
		Steps:      steps,
		TokensUsed: tokens,
		Cost:       cost,
		Duration:   time.Since(start),
		CreatedAt:  time.Now().UTC(),
	}
}

// Status returns live progress for a run.
func (c *Coordinator) Status(runID string) (RunStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.running[runID]
	if !ok {
		return RunStatus{}, false
	}
	return *s, true
}

// Cancel stops an in-flight run.
func (c *Coordinator) Cancel(runID string) bool {
	c.mu.RLock()
	cancel, ok := c.cancels[runID]
	c.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// Active reports whether any run is currently executing.
func (c *Coordinator) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.running {
		switch s.State {
		case StateDone, StateFailed, StateCancelled:
		default:
			return true
		}
	}
	return false
}

// Latest returns the most recent completed run for a session.
func (c *Coordinator) Latest(sessionID string) (RunResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.latest[sessionID]
	return r, ok
}

func (c *Coordinator) updateStatus(s *RunStatus, state string, progress float64, currentTask string) {
	c.mu.Lock()
	s.State = state
	if progress > s.Progress {
		s.Progress = progress
	}
	if currentTask != "" {
		s.CurrentTask = currentTask
	}
	s.LastUpdated = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Coordinator) setCurrentTask(s *RunStatus, taskID string) {
	c.mu.Lock()
	s.CurrentTask = taskID
	s.LastUpdated = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Coordinator) advance(s *RunStatus, total int) {
	c.mu.Lock()
	s.CompletedTasks++
	s.Progress = 0.2 + 0.8*float64(s.CompletedTasks)/float64(total)
	s.LastUpdated = time.Now().UTC()
	c.mu.Unlock()
}

func (c *Coordinator) fail(s *RunStatus, err error) {
	c.mu.Lock()
	s.State = StateFailed
	s.Error = err.Error()
	s.LastUpdated = time.Now().UTC()
	c.mu.Unlock()
}

// finalTask returns the terminal task of the graph: the one no other task
// depends on. Plans may list tasks in any order.
func finalTask(plan Plan) Task {
	depended := make(map[string]bool, len(plan.Tasks))
	for _, t := range plan.Tasks {
		for _, dep := range t.DependsOn {
			depended[dep] = true
		}
	}
	for _, t := range plan.Tasks {
		if !depended[t.ID] {
			return t
		}
	}
	return plan.Tasks[len(plan.Tasks)-1]
}

// withInputs copies dependency outputs into the task parameters so agents
// see upstream results.
func withInputs(t Task, query Query, results map[string]Result) map[string]interface{} {
	params := make(map[string]interface{}, len(t.Parameters)+3)
	for k, v := range t.Parameters {
		params[k] = v
	}
	params["query"] = query.Content
	if query.History != "" {
		params["history"] = query.History
	}
	if len(t.DependsOn) > 0 {
		var b strings.Builder
		for _, dep := range t.DependsOn {
			if r, ok := results[dep]; ok {
				fmt.Fprintf(&b, "Result of %s (%s):\n%s\n\n", dep, r.Agent, r.Content)
			}
		}
		params["inputs"] = b.String()
	}
	return params
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
