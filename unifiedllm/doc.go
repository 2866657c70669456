// Package unifiedllm is a small provider-agnostic chat completion client built
// on gollm (github.com/teilomillet/gollm).
//
// # Architecture
//
//   - ProviderAdapter: one blocking Complete call per provider
//   - Client: provider routing and middleware
//   - Retry and error classification: typed provider errors and IsRetryable
//   - Generate: the invoke contract used by the agent loop. It merges
//     consecutive same-role messages, retries transient failures and keeps
//     asking for more output when a reply was cut off by the token limit.
//
// # Quick Start
//
//	adapter, _ := unifiedllm.NewGollmAdapter("openai", os.Getenv("OPENAI_API_KEY"))
//	client := unifiedllm.NewClient(unifiedllm.WithProvider("openai", adapter))
//
//	result, err := client.Generate(ctx, unifiedllm.GenerateOptions{
//	    Model:    "gpt-4o-2024-08-06",
//	    Messages: []unifiedllm.Message{unifiedllm.UserMessage("Hello")},
//	})
//	fmt.Println(result.Text)
//
// Images in user messages are not forwarded: gollm prompts are text only, so
// the adapter replaces each image with a notice and logs a warning.
package unifiedllm
