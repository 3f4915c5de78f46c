package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"localmind/config"
	"localmind/internal/inference"
)

type stubProvider struct {
	reply string
	calls int
}

func (s *stubProvider) Chat(_ context.Context, _ string, _ []inference.Message, _ inference.Options) (inference.Completion, error) {
	s.calls++
	return inference.Completion{Text: s.reply}, nil
}
func (s *stubProvider) Ping(context.Context) error { return nil }
func (s *stubProvider) Name() string               { return "stub" }

func TestMemoryRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	s, err := repo.Create(ctx, "u1")
	require.NoError(t, err)

	s.Append("user", "hello", "")
	s.Append("assistant", "hi", "talk")
	require.NoError(t, repo.Save(ctx, s))

	got, err := repo.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)

	all, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)

	require.NoError(t, repo.Delete(ctx, s.ID))
	_, err = repo.Get(ctx, s.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, repo.Delete(ctx, s.ID), ErrNotFound)
}

func TestListAllSpansUsers(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	_, err := repo.Create(ctx, "")
	require.NoError(t, err)
	_, err = repo.Create(ctx, "u1")
	require.NoError(t, err)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	mine, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestContextPromptIncludesSummaryAndRecentTurns(t *testing.T) {
	s := NewSession("u1")
	s.Summary = "user is planning a trip to Lisbon"
	s.Append("user", "find me flights", "")
	s.Append("assistant", "found three options", "web")

	prompt := s.ContextPrompt(8000)
	require.Contains(t, prompt, "Lisbon")
	require.Contains(t, prompt, "user: find me flights")
	require.Contains(t, prompt, "assistant: found three options")
}

func TestContextPromptRespectsBudget(t *testing.T) {
	s := NewSession("u1")
	for i := 0; i < 50; i++ {
		s.Append("user", fmt.Sprintf("message number %03d with some padding text", i), "")
	}
	prompt := s.ContextPrompt(300)
	require.LessOrEqual(t, len(prompt), 400)
	// newest turn always survives
	require.Contains(t, prompt, "message number 049")
	require.NotContains(t, prompt, "message number 000")
}

func TestCompressorFoldsOldTurns(t *testing.T) {
	s := NewSession("u1")
	for i := 0; i < 12; i++ {
		s.Append("user", fmt.Sprintf("turn %d", i), "")
	}
	p := &stubProvider{reply: "summary of early turns"}
	c := NewCompressor(p, "small", config.SessionConfig{CompressAfterTurns: 10, KeepRecentTurns: 4})

	changed, err := c.Compress(context.Background(), &s)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, "summary of early turns", s.Summary)
	require.Len(t, s.Turns, 4)
	require.Equal(t, "turn 8", s.Turns[0].Content)
}

func TestCompressorSkipsShortSessions(t *testing.T) {
	s := NewSession("u1")
	s.Append("user", "hi", "")
	p := &stubProvider{reply: "should not be called"}
	c := NewCompressor(p, "small", config.SessionConfig{CompressAfterTurns: 10, KeepRecentTurns: 4})

	changed, err := c.Compress(context.Background(), &s)
	require.NoError(t, err)
	require.False(t, changed)
	require.Zero(t, p.calls)
}
