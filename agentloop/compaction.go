package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/engineer/logging"
	"github.com/martinemde/engineer/unifiedllm"
	"github.com/sethvargo/go-retry"
)

// ErrEmptySummary is returned when the summarizer produced no text.
var ErrEmptySummary = errors.New("summarizer returned an empty summary")

// Compaction defaults.
const (
	DefaultCompactionThreshold = 10
	DefaultKeepRecent          = 3
	DefaultSummarizeAttempts   = 2
)

// Summarizer compresses a conversation into a single text block.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message, keepRecent int) (string, error)
}

// LLMSummarizer asks a model to summarize the transcript.
type LLMSummarizer struct {
	llm  LLM
	role ModelRole
}

// NewLLMSummarizer creates a Summarizer backed by llm.
func NewLLMSummarizer(llm LLM, role ModelRole) *LLMSummarizer {
	return &LLMSummarizer{llm: llm, role: role}
}

type summaryEntry struct {
	Role    unifiedllm.Role `json:"role"`
	Content string          `json:"content"`
	Images  int             `json:"images,omitempty"`
}

// Summarize sends the conversation as JSON and returns the trimmed summary.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message, keepRecent int) (string, error) {
	entries := make([]summaryEntry, len(messages))
	for i, m := range messages {
		entries[i] = summaryEntry{Role: m.Role, Content: m.Text()}
		for _, seg := range m.Content.Segments {
			if seg.Kind == SegmentImage {
				entries[i].Images++
			}
		}
	}
	payload, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}

	result, err := s.llm.Generate(ctx, s.role.options([]unifiedllm.Message{
		unifiedllm.SystemMessage(SummarizerPrompt(keepRecent)),
		unifiedllm.UserMessage(string(payload)),
	}))
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(result.Text)
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}

// Compactor collapses a long transcript into the system prompt, a summary
// and the most recent messages.
type Compactor struct {
	summarizer Summarizer
	threshold  int
	keepRecent int
	attempts   int
	retryDelay time.Duration
	emitter    *EventEmitter
	logger     logging.Logger
}

// CompactorOption configures a Compactor.
type CompactorOption func(*Compactor)

// WithThreshold sets the transcript length above which compaction runs.
func WithThreshold(n int) CompactorOption {
	return func(c *Compactor) {
		if n > 0 {
			c.threshold = n
		}
	}
}

// WithKeepRecent sets how many trailing messages survive compaction verbatim.
func WithKeepRecent(n int) CompactorOption {
	return func(c *Compactor) {
		if n > 0 {
			c.keepRecent = n
		}
	}
}

// WithSummarizeAttempts sets how many summarizer calls may be made per
// compaction.
func WithSummarizeAttempts(n int) CompactorOption {
	return func(c *Compactor) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithSummarizeRetryDelay sets the pause between summarizer attempts.
func WithSummarizeRetryDelay(d time.Duration) CompactorOption {
	return func(c *Compactor) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithCompactorEmitter sets the event emitter.
func WithCompactorEmitter(e *EventEmitter) CompactorOption {
	return func(c *Compactor) { c.emitter = e }
}

// WithCompactorLogger sets the logger.
func WithCompactorLogger(l logging.Logger) CompactorOption {
	return func(c *Compactor) { c.logger = l }
}

// NewCompactor creates a Compactor using summarizer.
func NewCompactor(summarizer Summarizer, opts ...CompactorOption) *Compactor {
	c := &Compactor{
		summarizer: summarizer,
		threshold:  DefaultCompactionThreshold,
		keepRecent: DefaultKeepRecent,
		attempts:   DefaultSummarizeAttempts,
		retryDelay: time.Second,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compact replaces the history after the system prompt with a summary and
// the last keepRecent messages once the transcript is longer than the
// threshold. It reports whether compaction happened. On error the
// transcript is left untouched.
func (c *Compactor) Compact(ctx context.Context, t *Transcript) (bool, error) {
	if t.Len() <= c.threshold || t.Len() <= c.keepRecent+1 {
		return false, nil
	}

	messages := t.Messages()
	beforeTokens := estimateTranscriptTokens(messages)

	var summary string
	backoff := retry.WithMaxRetries(uint64(c.attempts-1), retry.NewConstant(c.retryDelay))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := c.summarizer.Summarize(ctx, messages, c.keepRecent)
		if err == nil && strings.TrimSpace(s) == "" {
			err = ErrEmptySummary
		}
		if err != nil {
			c.logger.Warn("summarization failed", "attempt", attempt, "err", err)
			if !unifiedllm.IsRetryable(err) && !errors.Is(err, ErrEmptySummary) {
				return err
			}
			return retry.RetryableError(err)
		}
		summary = strings.TrimSpace(s)
		return nil
	})
	if err != nil {
		c.emitter.Emit(EventError, map[string]any{
			"stage": "compaction",
			"error": err.Error(),
		})
		return false, fmt.Errorf("compact transcript: %w", err)
	}

	recent := messages[len(messages)-c.keepRecent:]
	rest := make([]Message, 0, len(recent)+1)
	rest = append(rest, UserText(summary))
	rest = append(rest, recent...)
	t.replaceHistory(rest)

	afterTokens := estimateTranscriptTokens(t.Messages())
	c.logger.Info("transcript compacted",
		"messages_before", len(messages), "messages_after", t.Len(),
		"tokens_before", beforeTokens, "tokens_after", afterTokens)
	c.emitter.Emit(EventCompaction, map[string]any{
		"messages_before": len(messages),
		"messages_after":  t.Len(),
		"tokens_before":   beforeTokens,
		"tokens_after":    afterTokens,
	})
	return true, nil
}

func estimateTranscriptTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += unifiedllm.EstimateTokens(m.Text())
	}
	return total
}
