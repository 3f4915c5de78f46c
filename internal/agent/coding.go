package agent

import (
	"context"
	"fmt"
	"log"
	"strings"

	"localmind/internal/inference"
	"localmind/internal/sandbox"
)

// interpreters maps fence language tags to sandbox interpreters.
var interpreters = map[string]string{
	"python":  "python3",
	"python3": "python3",
	"py":      "python3",
	"bash":    "bash",
	"sh":      "sh",
	"shell":   "bash",
	"node":    "node",
	"js":      "node",
}

// CodingAgent writes programs with the coding model and runs them in the
// sandbox. Failed executions are fed back to the model for a bounded number
// of repair rounds.
type CodingAgent struct {
	llm          *llmClient
	runner       *sandbox.Runner
	repairRounds int
	logger       *log.Logger
}

// NewCodingAgent builds the coding agent.
func NewCodingAgent(llm *llmClient, runner *sandbox.Runner, repairRounds int) *CodingAgent {
	if repairRounds <= 0 {
		repairRounds = 2
	}
	return &CodingAgent{
		llm:          llm,
		runner:       runner,
		repairRounds: repairRounds,
		logger:       log.New(log.Writer(), "[CODE] ", log.LstdFlags),
	}
}

func (a *CodingAgent) Role() string { return RoleCoding }

func (a *CodingAgent) Description() string {
	return "writes and executes code (python, bash, node) in a sandboxed workspace and reports the output"
}

func (a *CodingAgent) Confidence(task Task) float64 {
	if task.Role == RoleCoding {
		return 0.9
	}
	return 0.1
}

func (a *CodingAgent) Execute(ctx context.Context, task Task) (Result, error) {
	msgs := []inference.Message{
		{Role: "system", Content: `You solve tasks by writing code. Put runnable code in fenced blocks tagged with the language (python, bash or node). The code runs in a scratch workspace directory. Print results to stdout. Explain briefly outside the blocks.`},
		{Role: "user", Content: taskPrompt(task)},
	}

	tokens := 0
	cost := 0.0
	for round := 0; ; round++ {
		comp, err := a.llm.chat(ctx, "coding", msgs, inference.Options{})
		if err != nil {
			return Result{}, err
		}
		tokens += comp.Usage.TotalTokens
		cost += a.llm.costOf("coding", comp.Usage)

		reply := StripReasoning(comp.Text)
		blocks := ExtractCodeBlocks(reply)
		if len(blocks) == 0 {
			// a pure-prose answer is acceptable for questions about code
			return Result{Content: reply, TokensUsed: tokens, Cost: cost}, nil
		}

		outputs, failure := a.runBlocks(ctx, blocks)
		if failure == "" {
			content := reply
			if outputs != "" {
				content += "\n\nExecution output:\n" + outputs
			}
			return Result{Content: content, TokensUsed: tokens, Cost: cost}, nil
		}
		if round >= a.repairRounds {
			return Result{}, fmt.Errorf("code kept failing after %d repair rounds: %s", a.repairRounds, firstLine(failure))
		}
		a.logger.Printf("execution failed, repair round %d", round+1)
		msgs = append(msgs,
			inference.Message{Role: "assistant", Content: comp.Text},
			inference.Message{Role: "user", Content: "The code failed:\n" + failure + "\nFix it and respond with corrected code blocks."},
		)
	}
}

// runBlocks executes every runnable block in order. Returns the combined
// stdout and, when a block fails, its diagnostics.
func (a *CodingAgent) runBlocks(ctx context.Context, blocks []CodeBlock) (string, string) {
	var out strings.Builder
	for i, b := range blocks {
		interp, ok := interpreters[b.Language]
		if !ok {
			// non-runnable fences (json, text) are illustration, not programs
			continue
		}
		res, err := a.runner.Run(ctx, interp, b.Source)
		if err != nil {
			return out.String(), fmt.Sprintf("block %d (%s): %v", i+1, b.Language, err)
		}
		if res.TimedOut {
			return out.String(), fmt.Sprintf("block %d (%s) timed out after %v", i+1, b.Language, res.Duration)
		}
		if res.ExitCode != 0 {
			return out.String(), fmt.Sprintf("block %d (%s) exited %d:\n%s", i+1, b.Language, res.ExitCode, res.Stderr)
		}
		out.WriteString(res.Stdout)
	}
	return strings.TrimSpace(out.String()), ""
}

func taskPrompt(task Task) string {
	var b strings.Builder
	if in, ok := task.Parameters["inputs"].(string); ok && in != "" {
		b.WriteString("Context from earlier tasks:\n")
		b.WriteString(in)
		b.WriteString("\n\n")
	}
	b.WriteString(task.Description)
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
