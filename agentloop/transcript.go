package agentloop

import (
	"strings"

	"github.com/martinemde/engineer/unifiedllm"
)

// ContentKind discriminates the two shapes of message content.
type ContentKind string

const (
	ContentText     ContentKind = "text"
	ContentSegments ContentKind = "segments"
)

// SegmentKind discriminates the parts of a multimodal message.
type SegmentKind string

const (
	SegmentText  SegmentKind = "text"
	SegmentImage SegmentKind = "image"
)

// Segment is one ordered part of a multimodal user message.
type Segment struct {
	Kind  SegmentKind           `json:"kind"`
	Text  string                `json:"text,omitempty"`
	Image *unifiedllm.ImageData `json:"image,omitempty"`
}

// TextSegment creates a text Segment.
func TextSegment(text string) Segment {
	return Segment{Kind: SegmentText, Text: text}
}

// ImageSegment creates an image Segment from raw bytes.
func ImageSegment(data []byte, mediaType string) Segment {
	return Segment{Kind: SegmentImage, Image: &unifiedllm.ImageData{Data: data, MediaType: mediaType}}
}

// Content is either plain text or an ordered list of segments.
type Content struct {
	Kind     ContentKind `json:"kind"`
	Text     string      `json:"text,omitempty"`
	Segments []Segment   `json:"segments,omitempty"`
}

// Message is one immutable entry in a Transcript.
type Message struct {
	Role    unifiedllm.Role `json:"role"`
	Content Content         `json:"content"`
}

// SystemText creates a system message.
func SystemText(text string) Message {
	return Message{Role: unifiedllm.RoleSystem, Content: Content{Kind: ContentText, Text: text}}
}

// UserText creates a plain-text user message.
func UserText(text string) Message {
	return Message{Role: unifiedllm.RoleUser, Content: Content{Kind: ContentText, Text: text}}
}

// AssistantText creates an assistant message.
func AssistantText(text string) Message {
	return Message{Role: unifiedllm.RoleAssistant, Content: Content{Kind: ContentText, Text: text}}
}

// UserSegments creates a multimodal user message. The segments are copied
// and keep the order given.
func UserSegments(segments ...Segment) Message {
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	return Message{Role: unifiedllm.RoleUser, Content: Content{Kind: ContentSegments, Segments: segs}}
}

// Text returns the textual content of m. For segmented content the text
// segments are joined with newlines and images are skipped.
func (m Message) Text() string {
	if m.Content.Kind != ContentSegments {
		return m.Content.Text
	}
	var parts []string
	for _, seg := range m.Content.Segments {
		if seg.Kind == SegmentText {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasImages reports whether m carries any image segment.
func (m Message) HasImages() bool {
	for _, seg := range m.Content.Segments {
		if seg.Kind == SegmentImage {
			return true
		}
	}
	return false
}

// toLLM converts m into the provider-agnostic message type.
func (m Message) toLLM() unifiedllm.Message {
	switch m.Content.Kind {
	case ContentSegments:
		parts := make([]unifiedllm.ContentPart, 0, len(m.Content.Segments))
		for _, seg := range m.Content.Segments {
			switch seg.Kind {
			case SegmentText:
				parts = append(parts, unifiedllm.TextPart(seg.Text))
			case SegmentImage:
				if seg.Image != nil {
					img := *seg.Image
					parts = append(parts, unifiedllm.ContentPart{Kind: unifiedllm.ContentImage, Image: &img})
				}
			}
		}
		return unifiedllm.Message{Role: m.Role, Content: parts}
	default:
		return unifiedllm.Message{Role: m.Role, Content: []unifiedllm.ContentPart{unifiedllm.TextPart(m.Content.Text)}}
	}
}

// Transcript is the ordered message history sent to the model. Index 0 is
// always the system prompt given at construction. Messages are only ever
// appended; compaction replaces everything after the system prompt at once.
type Transcript struct {
	messages []Message
}

// NewTranscript creates a Transcript holding only the system prompt.
func NewTranscript(system string) *Transcript {
	return &Transcript{messages: []Message{SystemText(system)}}
}

// Append adds m to the end of the transcript. Segmented content is only
// kept for user messages; for other roles it is flattened to its text.
func (t *Transcript) Append(m Message) {
	if m.Content.Kind == ContentSegments {
		if m.Role == unifiedllm.RoleUser {
			m = UserSegments(m.Content.Segments...)
		} else {
			m = Message{Role: m.Role, Content: Content{Kind: ContentText, Text: m.Text()}}
		}
	}
	t.messages = append(t.messages, m)
}

// Len returns the number of messages including the system prompt.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Last returns the most recent message.
func (t *Transcript) Last() Message {
	return t.messages[len(t.messages)-1]
}

// System returns the system prompt message.
func (t *Transcript) System() Message {
	return t.messages[0]
}

// Messages returns a copy of the transcript contents.
func (t *Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// LLMMessages converts the transcript for a model request.
func (t *Transcript) LLMMessages() []unifiedllm.Message {
	out := make([]unifiedllm.Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = m.toLLM()
	}
	return out
}

// replaceHistory keeps the system prompt and swaps in rest after it.
func (t *Transcript) replaceHistory(rest []Message) {
	msgs := make([]Message, 0, len(rest)+1)
	msgs = append(msgs, t.messages[0])
	msgs = append(msgs, rest...)
	t.messages = msgs
}
