package agent

import (
	"context"
	"strings"

	"localmind/internal/inference"
)

// TalkAgent handles conversation, aggregation steps and anything the other
// agents do not cover.
type TalkAgent struct {
	llm *llmClient
}

// NewTalkAgent builds the conversational agent.
func NewTalkAgent(llm *llmClient) *TalkAgent { return &TalkAgent{llm: llm} }

func (a *TalkAgent) Role() string { return RoleTalk }

func (a *TalkAgent) Description() string {
	return "conversation, explanations, opinions and combining earlier results into a final answer"
}

func (a *TalkAgent) Confidence(task Task) float64 {
	if task.Role == RoleTalk {
		return 0.9
	}
	// can absorb anything at low preference
	return 0.2
}

func (a *TalkAgent) Execute(ctx context.Context, task Task) (Result, error) {
	system := "You are a helpful local assistant. Answer directly and concisely."
	var user strings.Builder
	if h, ok := task.Parameters["history"].(string); ok && h != "" {
		user.WriteString("Conversation so far:\n")
		user.WriteString(h)
		user.WriteString("\n\n")
	}
	if in, ok := task.Parameters["inputs"].(string); ok && in != "" {
		user.WriteString("Work done by other agents:\n")
		user.WriteString(in)
		user.WriteString("\n\n")
	}
	user.WriteString(task.Description)

	comp, err := a.llm.chat(ctx, "talk", []inference.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user.String()},
	}, inference.Options{})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Content:    StripReasoning(comp.Text),
		TokensUsed: comp.Usage.TotalTokens,
		Cost:       a.llm.costOf("talk", comp.Usage),
	}, nil
}
