package agent

import (
	"regexp"
	"strings"
)

// Local reasoning models interleave thinking blocks with the answer.
var reasoningBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// codeFence matches fenced blocks with an optional language tag.
var codeFence = regexp.MustCompile("(?s)```([a-zA-Z0-9_+-]*)\n(.*?)```")

// CodeBlock is one fenced snippet extracted from a model response.
type CodeBlock struct {
	Language string
	Source   string
}

// StripReasoning removes thinking blocks from a model response.
func StripReasoning(text string) string {
	return strings.TrimSpace(reasoningBlock.ReplaceAllString(text, ""))
}

// ExtractCodeBlocks returns all fenced code blocks in order of appearance.
func ExtractCodeBlocks(text string) []CodeBlock {
	matches := codeFence.FindAllStringSubmatch(text, -1)
	blocks := make([]CodeBlock, 0, len(matches))
	for _, m := range matches {
		src := strings.TrimRight(m[2], "\n") + "\n"
		blocks = append(blocks, CodeBlock{
			Language: strings.ToLower(strings.TrimSpace(m[1])),
			Source:   src,
		})
	}
	return blocks
}

// FormatAnswer produces the user-facing answer: reasoning stripped, with a
// sources section appended when the run touched the web or the workspace.
func FormatAnswer(answer string, sources []string) string {
	out := StripReasoning(answer)
	if len(sources) == 0 {
		return out
	}
	var b strings.Builder
	b.WriteString(out)
	b.WriteString("\n\nSources:\n")
	for _, s := range sources {
		b.WriteString("- ")
		b.WriteString(s)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
