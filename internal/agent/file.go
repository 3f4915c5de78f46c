package agent

import (
	"context"
	"fmt"
	"strings"

	"localmind/internal/inference"
	"localmind/internal/tools/fileindex"
)

// FileAgent answers questions about the user's workspace through the
// full-text index.
type FileAgent struct {
	llm   *llmClient
	index *fileindex.Index
}

// NewFileAgent builds the file agent over an opened index.
func NewFileAgent(llm *llmClient, index *fileindex.Index) *FileAgent {
	return &FileAgent{llm: llm, index: index}
}

func (a *FileAgent) Role() string { return RoleFiles }

func (a *FileAgent) Description() string {
	return "locates files in the user's workspace by name or content and reports what they contain"
}

func (a *FileAgent) Confidence(task Task) float64 {
	if task.Role == RoleFiles {
		return 0.9
	}
	return 0.1
}

func (a *FileAgent) Execute(ctx context.Context, task Task) (Result, error) {
	query := searchTerms(task.Description)
	hits, err := a.index.Search(ctx, query, 8)
	if err != nil {
		return Result{}, fmt.Errorf("workspace search: %w", err)
	}
	if len(hits) == 0 {
		return Result{Content: fmt.Sprintf("No files in the workspace match %q.", query)}, nil
	}

	var b strings.Builder
	b.WriteString("Request: ")
	b.WriteString(task.Description)
	b.WriteString("\n\nMatching workspace files:\n")
	sources := make([]string, 0, len(hits))
	for _, h := range hits {
		fmt.Fprintf(&b, "- %s (score %.2f)", h.Path, h.Score)
		if h.Fragment != "" {
			fmt.Fprintf(&b, ": %s", h.Fragment)
		}
		b.WriteString("\n")
		sources = append(sources, h.Path)
	}
	b.WriteString("\nAnswer the request using these matches. Always give the file paths.")

	comp, err := a.llm.chat(ctx, "talk", []inference.Message{
		{Role: "system", Content: "You help the user find files in their workspace. Be precise about paths."},
		{Role: "user", Content: b.String()},
	}, inference.Options{})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Content:    StripReasoning(comp.Text),
		Sources:    sources,
		TokensUsed: comp.Usage.TotalTokens,
		Cost:       a.llm.costOf("talk", comp.Usage),
	}, nil
}

// searchTerms strips filler words so the index query carries only content
// terms.
func searchTerms(s string) string {
	filler := map[string]bool{
		"find": true, "locate": true, "where": true, "is": true, "are": true,
		"my": true, "the": true, "a": true, "an": true, "file": true,
		"files": true, "look": true, "for": true, "in": true, "please": true,
		"can": true, "you": true, "me": true,
	}
	var kept []string
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?\"'")
		if w == "" || filler[w] {
			continue
		}
		kept = append(kept, w)
	}
	if len(kept) == 0 {
		return s
	}
	return strings.Join(kept, " ")
}
