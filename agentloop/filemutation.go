package agentloop

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/engineer/logging"
	"github.com/martinemde/engineer/unifiedllm"
	"github.com/pmezard/go-difflib/difflib"
)

// ErrNoUpdatedFile is returned when the rewriter model never produced an
// UPDATED_FILE envelope within the attempt budget.
var ErrNoUpdatedFile = errors.New("rewriter produced no updated file")

// DefaultRewriteAttempts bounds rewriter calls per mutation.
const DefaultRewriteAttempts = 3

// FileMutator applies a described change to a workspace file by asking a
// rewriter model for the complete new file body.
type FileMutator struct {
	workspace *Workspace
	llm       LLM
	role      ModelRole
	attempts  int
	logger    logging.Logger
}

// FileMutatorOption configures a FileMutator.
type FileMutatorOption func(*FileMutator)

// WithRewriteAttempts sets how many rewriter replies may be tried.
func WithRewriteAttempts(n int) FileMutatorOption {
	return func(m *FileMutator) {
		if n > 0 {
			m.attempts = n
		}
	}
}

// WithMutatorLogger sets the logger.
func WithMutatorLogger(l logging.Logger) FileMutatorOption {
	return func(m *FileMutator) { m.logger = l }
}

// NewFileMutator creates a FileMutator over ws using llm with the given role.
func NewFileMutator(ws *Workspace, llm LLM, role ModelRole, opts ...FileMutatorOption) *FileMutator {
	m := &FileMutator{
		workspace: ws,
		llm:       llm,
		role:      role,
		attempts:  DefaultRewriteAttempts,
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mutate rewrites filename according to diff. A missing file and its parent
// directories are created first, so creation is a rewrite of an empty file.
// The file is replaced only after a rewriter reply has been fully parsed; on
// failure its content is unchanged.
func (m *FileMutator) Mutate(ctx context.Context, filename, diff string) (string, error) {
	created, err := m.workspace.EnsureFile(filename)
	if err != nil {
		return "", err
	}
	if created {
		m.logger.Debug("created empty file for rewrite", "file", filename)
	}

	before, _, err := m.workspace.ReadFile(filename)
	if err != nil {
		return "", err
	}

	messages := []unifiedllm.Message{
		unifiedllm.SystemMessage(RewriterPrompt()),
		unifiedllm.UserMessage(rewriteRequest(before, diff)),
	}

	for attempt := 1; attempt <= m.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err := m.llm.Generate(ctx, m.role.options(messages))
		if err != nil {
			return "", fmt.Errorf("rewrite %s: %w", filename, err)
		}
		after, ok := ExtractUpdatedFile(result.Text)
		if !ok {
			m.logger.Warn("rewriter reply had no updated file", "file", filename, "attempt", attempt)
			continue
		}
		if err := m.workspace.ReplaceFile(filename, after); err != nil {
			return "", err
		}
		m.logger.Debug("file rewritten", "file", filename, "attempt", attempt, "diff", unifiedDiff(filename, before, after))
		return fmt.Sprintf("%s was successfully updated", filename), nil
	}

	return "", fmt.Errorf("%s after %d attempts: %w", filename, m.attempts, ErrNoUpdatedFile)
}

func rewriteRequest(current, diff string) string {
	var sb strings.Builder
	sb.WriteString("CURRENT_FILE_CONTENTS:\n```\n")
	sb.WriteString(strings.TrimSpace(current))
	sb.WriteString("\n```\n\nDIFF:\n```diff\n")
	sb.WriteString(strings.TrimSpace(diff))
	sb.WriteString("\n```\n\n")
	return sb.String()
}

func unifiedDiff(filename, before, after string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "before/" + filename,
		ToFile:   "after/" + filename,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}
