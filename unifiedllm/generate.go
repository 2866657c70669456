package unifiedllm

import (
	"context"
	"strings"
)

// DefaultMaxCalls bounds how many provider calls a single Generate may make
// while continuing a reply that hit the token limit.
const DefaultMaxCalls = 3

// GenerateOptions holds the parameters for Client.Generate.
type GenerateOptions struct {
	Model         string
	Provider      string
	Messages      []Message
	Temperature   *float64
	MaxTokens     *int
	StopSequences []string

	// MaxCalls caps the total number of provider calls including
	// continuations. Zero means DefaultMaxCalls.
	MaxCalls int
	// RetryPolicy applies to each provider call. Nil means DefaultRetryPolicy.
	RetryPolicy *RetryPolicy
}

// GenerateResult is the outcome of Client.Generate.
type GenerateResult struct {
	Text         string
	Responses    []*Response
	Usage        Usage
	FinishReason FinishReason
}

// Truncated reports whether the final call still stopped on the token limit.
func (r *GenerateResult) Truncated() bool {
	return r.FinishReason.Reason == FinishLength
}

// Generate sends the conversation to the model and returns the full reply
// text. Consecutive same-role messages are merged before sending. Transient
// failures are retried per call. When a reply stops on the token limit the
// partial text is appended as an assistant turn and the model is asked to
// continue, up to MaxCalls calls in total; the pieces are concatenated.
func (c *Client) Generate(ctx context.Context, opts GenerateOptions) (*GenerateResult, error) {
	if len(opts.Messages) == 0 {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "generate requires at least one message"}}
	}

	policy := DefaultRetryPolicy()
	if opts.RetryPolicy != nil {
		policy = *opts.RetryPolicy
	}
	maxCalls := opts.MaxCalls
	if maxCalls <= 0 {
		maxCalls = DefaultMaxCalls
	}

	messages := MergeConsecutive(opts.Messages)
	result := &GenerateResult{}
	var text strings.Builder

	for call := 0; call < maxCalls; call++ {
		req := Request{
			Model:         opts.Model,
			Provider:      opts.Provider,
			Messages:      messages,
			Temperature:   opts.Temperature,
			MaxTokens:     opts.MaxTokens,
			StopSequences: opts.StopSequences,
		}

		resp, err := Retry(ctx, policy, func(ctx context.Context) (*Response, error) {
			return c.Complete(ctx, req)
		})
		if err != nil {
			return nil, err
		}

		piece := resp.Text()
		text.WriteString(piece)
		result.Responses = append(result.Responses, resp)
		result.Usage = result.Usage.Add(resp.Usage)
		result.FinishReason = resp.FinishReason

		if !resp.Truncated() {
			break
		}
		messages = MergeConsecutive(append(messages, AssistantMessage(piece)))
	}

	result.Text = text.String()
	return result, nil
}
