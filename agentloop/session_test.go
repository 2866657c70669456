package agentloop

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/martinemde/engineer/unifiedllm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// routedLLM sends brain, rewriter and summarizer requests to separate
// scripts based on the requested model.
type routedLLM struct {
	brain      *scriptedLLM
	rewriter   *scriptedLLM
	summarizer *scriptedLLM
}

func (r *routedLLM) Generate(ctx context.Context, opts unifiedllm.GenerateOptions) (*unifiedllm.GenerateResult, error) {
	switch opts.Model {
	case testProfile().Rewriter.Model:
		return r.rewriter.Generate(ctx, opts)
	case testProfile().Summarizer.Model:
		return r.summarizer.Generate(ctx, opts)
	default:
		return r.brain.Generate(ctx, opts)
	}
}

func testProfile() Profile {
	p := DefaultProfile()
	p.Rewriter.Model = "rewriter"
	p.Summarizer.Model = "summarizer"
	return p
}

type sessionFixture struct {
	ws      *Workspace
	llm     *routedLLM
	session *Session
}

func newSessionFixture(t *testing.T, files map[string]string, cfg *SessionConfig) *sessionFixture {
	t.Helper()
	ws := newTestWorkspace(t, files)
	llm := &routedLLM{brain: newScriptedLLM(), rewriter: newScriptedLLM(), summarizer: newScriptedLLM()}
	s := NewSession(testProfile(), ws, llm, &fakeSearcher{}, cfg)
	t.Cleanup(s.Close)
	return &sessionFixture{ws: ws, llm: llm, session: s}
}

func TestSessionRespondsImmediately(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llm.brain.reply("RESPONSE_START\nHello!\nRESPONSE_END")

	got, err := f.session.Submit(context.Background(), UserText("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Hello!", got)
	assert.Equal(t, 1, f.llm.brain.calls())
	assert.Equal(t, SessionIdle, f.session.State())

	msgs := f.session.Transcript()
	require.Len(t, msgs, 3)
	assert.Equal(t, unifiedllm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "hi", msgs[1].Text())
	assert.Equal(t, unifiedllm.RoleAssistant, msgs[2].Role)
}

func TestSessionToolRoundTrip(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llm.brain.
		reply(toolCall("file_writer", "FILENAME", "a.py", "DIFF", "add a hello() function")).
		reply("RESPONSE_START Created a.py RESPONSE_END")
	f.llm.rewriter.reply(updatedFile("def hello():\n    print('hello')"))

	got, err := f.session.Submit(context.Background(), UserText("write hello"))
	require.NoError(t, err)
	assert.Equal(t, "Created a.py", got)
	assert.Equal(t, "def hello():\n    print('hello')", readWorkspaceFile(t, f.ws, "a.py"))

	second := f.llm.brain.lastRequest()
	last := second.Messages[len(second.Messages)-1]
	assert.Equal(t, unifiedllm.RoleUser, last.Role)
	assert.Equal(t, "TOOL_OUTPUT:\n\na.py was successfully updated", last.TextContent())
}

func TestSessionUnrecognizedReplyGetsTransientHint(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llm.brain.
		reply("Sure thing.").
		reply("RESPONSE_START ok RESPONSE_END")

	_, err := f.session.Submit(context.Background(), UserText("hi"))
	require.NoError(t, err)

	first := f.llm.brain.requests[0]
	retry := f.llm.brain.requests[1]
	require.Len(t, retry.Messages, len(first.Messages)+1)
	assert.Equal(t, FormattingHint(), retry.Messages[len(retry.Messages)-1].TextContent())

	for _, m := range f.session.Transcript() {
		assert.NotEqual(t, FormattingHint(), m.Text())
		assert.NotEqual(t, "Sure thing.", m.Text())
	}
}

func TestSessionNoProgress(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.llm.brain.reply("one").reply("two").reply("three").reply("RESPONSE_START never RESPONSE_END")

	_, err := f.session.Submit(context.Background(), UserText("hi"))
	require.ErrorIs(t, err, ErrNoProgress)
	assert.Equal(t, 3, f.llm.brain.calls())
	assert.Len(t, f.session.Transcript(), 2)
}

func TestSessionMalformedThenFixed(t *testing.T) {
	f := newSessionFixture(t, map[string]string{"a.txt": "hello"}, nil)
	f.llm.brain.
		reply(toolCall("file_reader")).
		reply(toolCall("file_reader", "FILENAME", "a.txt")).
		reply("RESPONSE_START It says hello. RESPONSE_END")

	got, err := f.session.Submit(context.Background(), UserText("what is in a.txt?"))
	require.NoError(t, err)
	assert.Equal(t, "It says hello.", got)

	msgs := f.session.Transcript()
	require.Len(t, msgs, 7)
	assert.Contains(t, msgs[3].Text(), "missing the required filename field")
	assert.Contains(t, msgs[5].Text(), "hello")
}

func TestSessionTransportErrorLeavesTranscript(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	boom := unifiedllm.ErrorFromStatusCode(401, "bad key", "openai", "", nil)
	f.llm.brain.fail(boom)

	_, err := f.session.Submit(context.Background(), UserText("hi"))
	require.Error(t, err)
	var authErr *unifiedllm.AuthenticationError
	assert.True(t, errors.As(err, &authErr))
	assert.Len(t, f.session.Transcript(), 2)
	assert.Equal(t, SessionIdle, f.session.State())
}

func TestSessionCompactsBeforeModelCall(t *testing.T) {
	cfg := DefaultSessionConfig()
	cfg.EnableLoopDetection = false
	f := newSessionFixture(t, map[string]string{"a.txt": "x"}, &cfg)
	for i := 0; i < 5; i++ {
		f.llm.brain.reply(toolCall("file_reader", "FILENAME", "a.txt"))
	}
	f.llm.brain.reply("RESPONSE_START done RESPONSE_END")
	f.llm.summarizer.reply("we read a.txt several times")

	_, err := f.session.Submit(context.Background(), UserText("read it"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.llm.summarizer.calls())

	// 2 + 5 rounds of 2 messages reaches 12 before the sixth call.
	sixth := f.llm.brain.requests[5]
	require.Len(t, sixth.Messages, 5)
	assert.Equal(t, "we read a.txt several times", sixth.Messages[1].TextContent())
}

func TestSessionCompactionFailureKeepsGoing(t *testing.T) {
	f := newSessionFixture(t, nil, &SessionConfig{
		MaxRetries:          3,
		CompactionThreshold: 2,
		KeepRecent:          1,
		SummarizeAttempts:   1,
	})
	f.llm.brain.reply("RESPONSE_START fine RESPONSE_END")
	f.llm.brain.reply("RESPONSE_START again RESPONSE_END")
	f.llm.summarizer.reply("")

	_, err := f.session.Submit(context.Background(), UserText("one"))
	require.NoError(t, err)
	got, err := f.session.Submit(context.Background(), UserText("two"))
	require.NoError(t, err)
	assert.Equal(t, "again", got)
	assert.Len(t, f.session.Transcript(), 5)
}

func TestSessionLoopDetectionSteers(t *testing.T) {
	f := newSessionFixture(t, map[string]string{"a.txt": "x"}, &SessionConfig{
		MaxRetries:          3,
		CompactionThreshold: 100,
		KeepRecent:          3,
		EnableLoopDetection: true,
		LoopDetectionWindow: 2,
	})
	f.llm.brain.
		reply(toolCall("file_reader", "FILENAME", "a.txt")).
		reply(toolCall("file_reader", "FILENAME", "a.txt")).
		reply("RESPONSE_START ok RESPONSE_END")

	_, err := f.session.Submit(context.Background(), UserText("go"))
	require.NoError(t, err)

	var warned bool
	for _, m := range f.session.Transcript() {
		if strings.HasPrefix(m.Text(), "Loop detected") {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSessionRoundLimit(t *testing.T) {
	f := newSessionFixture(t, map[string]string{"a.txt": "x"}, &SessionConfig{
		MaxRetries:          3,
		MaxRoundsPerInput:   2,
		CompactionThreshold: 100,
	})
	f.llm.brain.
		reply(toolCall("file_reader", "FILENAME", "a.txt")).
		reply(toolCall("file_reader", "FILENAME", "a.txt")).
		reply("RESPONSE_START ok RESPONSE_END")

	_, err := f.session.Submit(context.Background(), UserText("go"))
	assert.ErrorIs(t, err, ErrRoundLimit)
	assert.Equal(t, 2, f.llm.brain.calls())
}

func TestSessionSystemPromptDescribesTools(t *testing.T) {
	f := newSessionFixture(t, map[string]string{"AGENTS.md": "Use tabs."}, nil)
	system := f.session.Transcript()[0].Text()
	for _, def := range Tools() {
		assert.Contains(t, system, def.Name)
	}
	assert.Contains(t, system, "Use tabs.")
	assert.Contains(t, system, "Workspace: /ws")
}

func TestSessionClosed(t *testing.T) {
	f := newSessionFixture(t, nil, nil)
	f.session.Close()
	_, err := f.session.Submit(context.Background(), UserText("hi"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}
