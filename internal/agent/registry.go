package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the available agents keyed by role.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Agent)}
}

// Register adds an agent. Registering the same role twice is an error.
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role := a.Role()
	if _, exists := r.agents[role]; exists {
		return fmt.Errorf("agent role %q already registered", role)
	}
	r.agents[role] = a
	return nil
}

// Get returns the agent for a role.
func (r *Registry) Get(role string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[role]
	return a, ok
}

// Roles lists registered roles in sorted order.
func (r *Registry) Roles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Size reports the number of registered agents.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Best returns the agent with the highest confidence for a task. The
// task's own role wins ties. Returns nil only when the registry is empty.
func (r *Registry) Best(task Task) Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Agent
	bestScore := -1.0
	for _, a := range r.agents {
		score := a.Confidence(task)
		if a.Role() == task.Role {
			score += 0.5
		}
		if score > bestScore {
			best = a
			bestScore = score
		}
	}
	return best
}

// Descriptions renders a role list for planner prompts.
func (r *Registry) Descriptions() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]string, 0, len(r.agents))
	for role := range r.agents {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	out := ""
	for _, role := range roles {
		out += fmt.Sprintf("- %s: %s\n", role, r.agents[role].Description())
	}
	return out
}
