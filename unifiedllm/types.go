package unifiedllm

import (
	"strings"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind is the discriminator tag for ContentPart.
type ContentKind string

const (
	ContentText  ContentKind = "text"
	ContentImage ContentKind = "image"
)

// ImageData holds image content as either a URL or raw bytes.
type ImageData struct {
	URL       string `json:"url,omitempty"`
	Data      []byte `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Detail    string `json:"detail,omitempty"` // "auto", "low", "high"
}

// ContentPart is a tagged union representing one part of a message.
type ContentPart struct {
	Kind  ContentKind `json:"kind"`
	Text  string      `json:"text,omitempty"`
	Image *ImageData  `json:"image,omitempty"`
}

// TextPart creates a text ContentPart.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ImageURLPart creates an image ContentPart from a URL.
func ImageURLPart(url, mediaType, detail string) ContentPart {
	return ContentPart{
		Kind:  ContentImage,
		Image: &ImageData{URL: url, MediaType: mediaType, Detail: detail},
	}
}

// ImageDataPart creates an image ContentPart from raw bytes.
func ImageDataPart(data []byte, mediaType, detail string) ContentPart {
	if mediaType == "" {
		mediaType = "image/png"
	}
	return ContentPart{
		Kind:  ContentImage,
		Image: &ImageData{Data: data, MediaType: mediaType, Detail: detail},
	}
}

// Message is the fundamental unit of conversation.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextContent returns the concatenation of all text content parts.
func (m Message) TextContent() string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Kind == ContentText {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// HasImages reports whether any part of the message is an image.
func (m Message) HasImages() bool {
	for _, part := range m.Content {
		if part.Kind == ContentImage {
			return true
		}
	}
	return false
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentPart{TextPart(text)}}
}

// UserMessage creates a user Message with text content.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentPart{TextPart(text)}}
}

// AssistantMessage creates an assistant Message with text content.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: []ContentPart{TextPart(text)}}
}

// MergeConsecutive collapses runs of messages that share a role into one
// message. Some providers reject conversations that do not alternate roles.
// Adjacent text parts across the boundary are joined with a newline; all
// other parts are concatenated in order. The input slice is not modified.
func MergeConsecutive(messages []Message) []Message {
	merged := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if len(merged) == 0 || merged[len(merged)-1].Role != msg.Role {
			parts := make([]ContentPart, len(msg.Content))
			copy(parts, msg.Content)
			merged = append(merged, Message{Role: msg.Role, Content: parts})
			continue
		}
		prev := &merged[len(merged)-1]
		next := msg.Content
		if n := len(prev.Content); n > 0 && len(next) > 0 &&
			prev.Content[n-1].Kind == ContentText && next[0].Kind == ContentText {
			prev.Content[n-1].Text += "\n" + next[0].Text
			next = next[1:]
		}
		prev.Content = append(prev.Content, next...)
	}
	return merged
}

// FinishReason describes why generation stopped.
type FinishReason struct {
	Reason string `json:"reason"` // "stop", "length", "content_filter", "error", "other"
	Raw    string `json:"raw,omitempty"`
}

const (
	FinishStop   = "stop"
	FinishLength = "length"
)

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add returns a new Usage that is the sum of u and other.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}

// Request is the input type for Complete.
type Request struct {
	Model         string            `json:"model"`
	Messages      []Message         `json:"messages"`
	Provider      string            `json:"provider,omitempty"`
	Temperature   *float64          `json:"temperature,omitempty"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Response is the output of Complete.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Text returns the concatenated text from all text parts in the response message.
func (r Response) Text() string {
	return r.Message.TextContent()
}

// Truncated reports whether the provider stopped because of the token limit.
func (r Response) Truncated() bool {
	return r.FinishReason.Reason == FinishLength
}
