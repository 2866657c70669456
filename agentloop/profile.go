package agentloop

import (
	"context"

	"github.com/martinemde/engineer/unifiedllm"
)

// LLM is the model-invocation collaborator. *unifiedllm.Client satisfies it.
type LLM interface {
	Generate(ctx context.Context, opts unifiedllm.GenerateOptions) (*unifiedllm.GenerateResult, error)
}

// ModelRole names a model and its sampling parameters for one job in the
// loop: orchestration, file rewriting or summarization.
type ModelRole struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// options builds the Generate options for messages under this role.
func (r ModelRole) options(messages []unifiedllm.Message) unifiedllm.GenerateOptions {
	temp := r.Temperature
	opts := unifiedllm.GenerateOptions{
		Model:       r.Model,
		Provider:    r.Provider,
		Messages:    messages,
		Temperature: &temp,
	}
	if r.MaxTokens > 0 {
		maxTokens := r.MaxTokens
		opts.MaxTokens = &maxTokens
	}
	return opts
}

// Profile groups the model roles used by a Session.
type Profile struct {
	Brain      ModelRole
	Rewriter   ModelRole
	Summarizer ModelRole
}

// DefaultProfile returns the OpenAI-backed roles: a large model drives the
// conversation while a small fast model rewrites files and summarizes.
func DefaultProfile() Profile {
	return Profile{
		Brain: ModelRole{
			Provider:    "openai",
			Model:       "gpt-4o-2024-08-06",
			Temperature: 0.8,
			MaxTokens:   4096,
		},
		Rewriter: ModelRole{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.8,
			MaxTokens:   16384,
		},
		Summarizer: ModelRole{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: 0.3,
			MaxTokens:   1024,
		},
	}
}
