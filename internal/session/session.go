package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Turn is one exchange inside a session.
type Turn struct {
	Role      string    `json:"role"` // user or assistant
	Content   string    `json:"content"`
	AgentType string    `json:"agent_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a persisted conversation with optional compressed history.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Summary   string    `json:"summary"` // compressed form of evicted turns
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository stores sessions. Implementations must be safe for concurrent
// use.
type Repository interface {
	Create(ctx context.Context, userID string) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, userID string) ([]Session, error)
	// ListAll walks sessions of every user, the anonymous ones included.
	ListAll(ctx context.Context) ([]Session, error)
}

// NewSession builds an empty session for a user.
func NewSession(userID string) Session {
	now := time.Now().UTC()
	return Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a turn and bumps the update time.
func (s *Session) Append(role, content, agentType string) {
	s.Turns = append(s.Turns, Turn{
		Role:      role,
		Content:   content,
		AgentType: agentType,
		CreatedAt: time.Now().UTC(),
	})
	s.UpdatedAt = time.Now().UTC()
}

// ContextPrompt renders the session history for inclusion in a model
// prompt, capped at maxChars. The summary comes first, then the most
// recent turns that fit.
func (s Session) ContextPrompt(maxChars int) string {
	if maxChars <= 0 {
		maxChars = 8000
	}
	out := ""
	if s.Summary != "" {
		out = "Earlier in this conversation (summarised): " + s.Summary + "\n\n"
	}
	// take turns newest-first until the budget runs out, then restore order
	var kept []Turn
	used := len(out)
	for i := len(s.Turns) - 1; i >= 0; i-- {
		t := s.Turns[i]
		line := len(t.Role) + len(t.Content) + 4
		if used+line > maxChars && len(kept) > 0 {
			break
		}
		kept = append(kept, t)
		used += line
	}
	for i := len(kept) - 1; i >= 0; i-- {
		out += fmt.Sprintf("%s: %s\n", kept[i].Role, kept[i].Content)
	}
	return out
}
