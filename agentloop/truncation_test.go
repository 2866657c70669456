package agentloop

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateOutput(t *testing.T) {
	assert.Equal(t, "short", TruncateOutput("short", 10, TruncateHeadTail))
	assert.Equal(t, "anything", TruncateOutput("anything", 0, TruncateTail))

	head := TruncateOutput(strings.Repeat("a", 50)+strings.Repeat("b", 50), 20, TruncateHeadTail)
	assert.True(t, strings.HasPrefix(head, strings.Repeat("a", 10)))
	assert.True(t, strings.HasSuffix(head, strings.Repeat("b", 10)))
	assert.Contains(t, head, "80 characters were removed from the middle")

	tail := TruncateOutput(strings.Repeat("a", 50)+"END", 3, TruncateTail)
	assert.True(t, strings.HasSuffix(tail, "END"))
	assert.Contains(t, tail, "First 50 characters were removed")
}

func TestTruncateLines(t *testing.T) {
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = string(rune('a' + i))
	}
	out := TruncateLines(strings.Join(lines, "\n"), 4)
	assert.Equal(t, "a\nb\n[... 6 lines omitted ...]\ni\nj", out)
	assert.Equal(t, "a\nb", TruncateLines("a\nb", 4))
}

func TestTruncateToolOutputOverrides(t *testing.T) {
	long := strings.Repeat("x", 200)

	assert.Equal(t, long, TruncateToolOutput(long, ToolFileReader, nil, nil))
	assert.NotEqual(t, long, TruncateToolOutput(long, ToolFileReader, map[ToolKind]int{ToolFileReader: 50}, nil))

	many := strings.Repeat("line\n", 500)
	out := TruncateToolOutput(many, ToolGoogleSearch, nil, nil)
	assert.Contains(t, out, "lines omitted")
	out = TruncateToolOutput(many, ToolGoogleSearch, nil, map[ToolKind]int{ToolGoogleSearch: 1000})
	assert.NotContains(t, out, "lines omitted")
}
