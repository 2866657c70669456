package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: WarnLevel, Output: &buf})

	l.Info("hidden")
	l.Warn("shown", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "key=value")
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: DebugLevel, Output: &buf, JSON: true})
	l.With("component", "test").Debug("hello", "n", 3)

	line := strings.TrimSpace(buf.String())
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "hello", decoded["msg"])
	assert.Equal(t, "test", decoded["component"])
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Level: InfoLevel, Output: &buf})
	ctx := ContextWithLogger(context.Background(), l)

	FromContext(ctx).Info("via context")
	assert.Contains(t, buf.String(), "via context")

	assert.Equal(t, Default(), FromContext(context.Background()))
}

func TestInitReplacesDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() {
		defaultMu.Lock()
		defaultLogger = prev
		defaultMu.Unlock()
	})

	var buf bytes.Buffer
	Init(&Config{Level: InfoLevel, Output: &buf})
	Default().Info("from default")
	assert.Contains(t, buf.String(), "from default")
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("ignored")
	assert.NotNil(t, l.With("k", "v"))
}
