package agentloop

import "fmt"

// DefaultLoopWindow is the number of recent tool calls inspected.
const DefaultLoopWindow = 6

// callHistory remembers the signatures of recently executed tool calls.
type callHistory struct {
	sigs   []string
	window int
}

func newCallHistory(window int) *callHistory {
	if window <= 0 {
		window = DefaultLoopWindow
	}
	return &callHistory{window: window}
}

func (h *callHistory) record(call ToolCall) {
	h.sigs = append(h.sigs, call.Signature())
	if len(h.sigs) > h.window {
		h.sigs = h.sigs[len(h.sigs)-h.window:]
	}
}

func (h *callHistory) reset() {
	h.sigs = h.sigs[:0]
}

// looping reports whether the last window calls follow a repeating pattern
// of length 1, 2 or 3.
func (h *callHistory) looping() bool {
	return DetectLoop(h.sigs, h.window)
}

// DetectLoop checks whether the last windowSize signatures repeat a
// pattern of length 1, 2 or 3.
func DetectLoop(sigs []string, windowSize int) bool {
	if windowSize <= 0 || len(sigs) < windowSize {
		return false
	}
	sigs = sigs[len(sigs)-windowSize:]

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i++ {
			if sigs[i] != sigs[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

func loopWarning(window int) string {
	return fmt.Sprintf("Loop detected: your last %d tool calls repeat the same pattern and their results will not change. "+
		"Try a different approach or answer the user with RESPONSE_START ... RESPONSE_END.", window)
}
