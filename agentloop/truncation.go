package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// DefaultToolCharLimits caps the size of each tool's result before it is
// appended to the transcript.
var DefaultToolCharLimits = map[ToolKind]int{
	ToolFileReader:   50000,
	ToolFileWriter:   2000,
	ToolGoogleSearch: 20000,
}

// DefaultTruncationModes picks the truncation mode per tool.
var DefaultTruncationModes = map[ToolKind]TruncationMode{
	ToolFileReader:   TruncateHeadTail,
	ToolFileWriter:   TruncateTail,
	ToolGoogleSearch: TruncateTail,
}

// DefaultToolLineLimits applies after character truncation.
var DefaultToolLineLimits = map[ToolKind]int{
	ToolGoogleSearch: 400,
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	default:
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
				"If you need a specific part, ask for it directly.]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation using a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// TruncateToolOutput applies character truncation then line truncation for
// kind. Entries in charLimits and lineLimits override the defaults.
func TruncateToolOutput(output string, kind ToolKind, charLimits, lineLimits map[ToolKind]int) string {
	maxChars, ok := charLimits[kind]
	if !ok {
		maxChars, ok = DefaultToolCharLimits[kind]
		if !ok {
			maxChars = 30000
		}
	}
	mode, ok := DefaultTruncationModes[kind]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)

	maxLines, ok := lineLimits[kind]
	if !ok {
		maxLines = DefaultToolLineLimits[kind]
	}
	return TruncateLines(result, maxLines)
}
