package agentloop

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/martinemde/engineer/unifiedllm"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testRoot = "/ws"

// scriptedLLM returns canned replies in order and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []unifiedllm.GenerateOptions
}

type scriptedReply struct {
	text string
	err  error
}

func newScriptedLLM(texts ...string) *scriptedLLM {
	s := &scriptedLLM{}
	for _, text := range texts {
		s.replies = append(s.replies, scriptedReply{text: text})
	}
	return s
}

func (s *scriptedLLM) fail(err error) *scriptedLLM {
	s.replies = append(s.replies, scriptedReply{err: err})
	return s
}

func (s *scriptedLLM) reply(text string) *scriptedLLM {
	s.replies = append(s.replies, scriptedReply{text: text})
	return s
}

func (s *scriptedLLM) Generate(_ context.Context, opts unifiedllm.GenerateOptions) (*unifiedllm.GenerateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, opts)
	if len(s.replies) == 0 {
		return nil, errors.New("scriptedLLM: no more replies")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	return &unifiedllm.GenerateResult{
		Text:         r.text,
		FinishReason: unifiedllm.FinishReason{Reason: unifiedllm.FinishStop},
	}, nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedLLM) lastRequest() unifiedllm.GenerateOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[len(s.requests)-1]
}

// fakeSearcher returns fixed results or an error.
type fakeSearcher struct {
	results []SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string) ([]SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func newTestWorkspace(t *testing.T, files map[string]string) *Workspace {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(testRoot, 0o755))
	for name, content := range files {
		path := filepath.Join(testRoot, name)
		require.NoError(t, fs.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return NewWorkspace(fs, testRoot)
}

func readWorkspaceFile(t *testing.T, ws *Workspace, name string) string {
	t.Helper()
	data, err := afero.ReadFile(ws.Fs(), filepath.Join(testRoot, name))
	require.NoError(t, err)
	return string(data)
}

func toolCall(name string, fields ...string) string {
	out := "TOOL_CALL_START\nTOOL_NAME: " + name + "\n"
	for i := 0; i+1 < len(fields); i += 2 {
		out += fields[i] + "_START\n" + fields[i+1] + "\n" + fields[i] + "_END\n"
	}
	return out + "TOOL_CALL_END\n"
}

func updatedFile(body string) string {
	return "Here you go.\n<|UPDATED_FILE_START|>\n" + body + "\n<|UPDATED_FILE_END|>"
}
