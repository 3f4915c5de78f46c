package agent

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStripReasoning(t *testing.T) {
	in := "<think>let me work this out\nstep 1...</think>The answer is 42."
	require.Equal(t, "The answer is 42.", StripReasoning(in))
	require.Equal(t, "plain", StripReasoning("plain"))
}

func TestExtractCodeBlocks(t *testing.T) {
	in := "First:\n```python\nprint(1)\n```\nThen:\n```bash\nls -la\n```\nand a plain fence:\n```\njust text\n```"
	blocks := ExtractCodeBlocks(in)
	require.Len(t, blocks, 3)
	require.Equal(t, "python", blocks[0].Language)
	require.Equal(t, "print(1)\n", blocks[0].Source)
	require.Equal(t, "bash", blocks[1].Language)
	require.Equal(t, "", blocks[2].Language)
}

func TestFormatAnswerAppendsSources(t *testing.T) {
	out := FormatAnswer("It rains tomorrow.", []string{"https://weather.example"})
	require.Contains(t, out, "It rains tomorrow.")
	require.Contains(t, out, "Sources:\n- https://weather.example")

	require.Equal(t, "bare", FormatAnswer("bare", nil))
}
