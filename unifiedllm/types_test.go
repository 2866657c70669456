package unifiedllm

import (
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	t.Run("SystemMessage", func(t *testing.T) {
		msg := SystemMessage("You are helpful.")
		if msg.Role != RoleSystem {
			t.Errorf("expected role %q, got %q", RoleSystem, msg.Role)
		}
		if msg.TextContent() != "You are helpful." {
			t.Errorf("expected text %q, got %q", "You are helpful.", msg.TextContent())
		}
	})

	t.Run("UserMessage", func(t *testing.T) {
		msg := UserMessage("Hello")
		if msg.Role != RoleUser {
			t.Errorf("expected role %q, got %q", RoleUser, msg.Role)
		}
		if msg.TextContent() != "Hello" {
			t.Errorf("expected text %q, got %q", "Hello", msg.TextContent())
		}
	})

	t.Run("AssistantMessage", func(t *testing.T) {
		msg := AssistantMessage("Hi there")
		if msg.Role != RoleAssistant {
			t.Errorf("expected role %q, got %q", RoleAssistant, msg.Role)
		}
		if msg.TextContent() != "Hi there" {
			t.Errorf("expected text %q, got %q", "Hi there", msg.TextContent())
		}
	})
}

func TestContentPartConstructors(t *testing.T) {
	t.Run("TextPart", func(t *testing.T) {
		part := TextPart("hello")
		if part.Kind != ContentText {
			t.Errorf("expected kind %q, got %q", ContentText, part.Kind)
		}
		if part.Text != "hello" {
			t.Errorf("expected text %q, got %q", "hello", part.Text)
		}
	})

	t.Run("ImageURLPart", func(t *testing.T) {
		part := ImageURLPart("https://example.com/img.png", "image/png", "auto")
		if part.Kind != ContentImage {
			t.Errorf("expected kind %q, got %q", ContentImage, part.Kind)
		}
		if part.Image == nil {
			t.Fatal("expected image data, got nil")
		}
		if part.Image.URL != "https://example.com/img.png" {
			t.Errorf("expected URL %q, got %q", "https://example.com/img.png", part.Image.URL)
		}
	})

	t.Run("ImageDataPart default media type", func(t *testing.T) {
		part := ImageDataPart([]byte{1, 2, 3}, "", "high")
		if part.Image.MediaType != "image/png" {
			t.Errorf("expected default media type image/png, got %q", part.Image.MediaType)
		}
	})
}

func TestMessageTextContent(t *testing.T) {
	msg := Message{
		Role: RoleUser,
		Content: []ContentPart{
			TextPart("Hello "),
			ImageDataPart([]byte{1}, "image/png", ""),
			TextPart("world"),
		},
	}
	if text := msg.TextContent(); text != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", text)
	}
	if !msg.HasImages() {
		t.Error("expected HasImages to be true")
	}
	if UserMessage("plain").HasImages() {
		t.Error("expected text-only message to have no images")
	}
}

func TestMergeConsecutive(t *testing.T) {
	in := []Message{
		SystemMessage("sys"),
		UserMessage("a"),
		UserMessage("b"),
		AssistantMessage("c"),
		UserMessage("d"),
		{Role: RoleUser, Content: []ContentPart{ImageDataPart([]byte{1}, "image/png", ""), TextPart("e")}},
	}
	out := MergeConsecutive(in)

	if len(out) != 4 {
		t.Fatalf("expected 4 merged messages, got %d", len(out))
	}
	if out[1].TextContent() != "a\nb" {
		t.Errorf("expected merged user text %q, got %q", "a\nb", out[1].TextContent())
	}
	last := out[3]
	if len(last.Content) != 3 {
		t.Fatalf("expected text, image, text parts in last message, got %d parts", len(last.Content))
	}
	if last.Content[1].Kind != ContentImage {
		t.Errorf("expected image part to keep its position, got %q", last.Content[1].Kind)
	}

	// The input is left untouched.
	if in[1].TextContent() != "a" || len(in[4].Content) != 1 {
		t.Error("MergeConsecutive modified its input")
	}
}

func TestUsageAdd(t *testing.T) {
	a := Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	b := Usage{InputTokens: 5, OutputTokens: 15, TotalTokens: 20}
	result := a.Add(b)

	if result.InputTokens != 15 {
		t.Errorf("expected input_tokens 15, got %d", result.InputTokens)
	}
	if result.OutputTokens != 35 {
		t.Errorf("expected output_tokens 35, got %d", result.OutputTokens)
	}
	if result.TotalTokens != 50 {
		t.Errorf("expected total_tokens 50, got %d", result.TotalTokens)
	}
}

func TestResponseAccessors(t *testing.T) {
	resp := Response{
		Message:      AssistantMessage("The answer is 42."),
		FinishReason: FinishReason{Reason: FinishLength},
	}
	if resp.Text() != "The answer is 42." {
		t.Errorf("expected text %q, got %q", "The answer is 42.", resp.Text())
	}
	if !resp.Truncated() {
		t.Error("expected length finish reason to report truncation")
	}
}
