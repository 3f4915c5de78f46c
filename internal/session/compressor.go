package session

import (
	"context"
	"fmt"
	"log"
	"strings"

	"localmind/config"
	"localmind/internal/inference"
)

// Compressor folds old turns into the session summary once a session grows
// past the configured turn count, keeping the most recent turns verbatim.
type Compressor struct {
	provider inference.Provider
	modelKey string
	after    int
	keep     int
	logger   *log.Logger
}

// NewCompressor builds a compressor. modelKey selects the summarisation
// model, normally the routing fallback.
func NewCompressor(provider inference.Provider, modelKey string, cfg config.SessionConfig) *Compressor {
	cfg = cfg.Normalize()
	return &Compressor{
		provider: provider,
		modelKey: modelKey,
		after:    cfg.CompressAfterTurns,
		keep:     cfg.KeepRecentTurns,
		logger:   log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

// Compress summarises the oldest turns when the session exceeds the
// threshold. Returns true when the session was modified.
func (c *Compressor) Compress(ctx context.Context, s *Session) (bool, error) {
	if len(s.Turns) <= c.after {
		return false, nil
	}
	evict := s.Turns[:len(s.Turns)-c.keep]
	recent := s.Turns[len(s.Turns)-c.keep:]

	var b strings.Builder
	if s.Summary != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(s.Summary)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation to fold into the summary:\n")
	for _, t := range evict {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	msgs := []inference.Message{
		{Role: "system", Content: "You summarise conversations. Produce a compact summary preserving user goals, decisions and important facts. Reply with the summary only."},
		{Role: "user", Content: b.String()},
	}
	comp, err := c.provider.Chat(ctx, c.modelKey, msgs, inference.Options{MaxTokens: 512})
	if err != nil {
		return false, fmt.Errorf("summarising session %s: %w", s.ID, err)
	}
	s.Summary = strings.TrimSpace(comp.Text)
	s.Turns = recent
	c.logger.Printf("compressed session %s: evicted %d turns", s.ID, len(evict))
	return true, nil
}
