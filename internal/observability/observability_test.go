package observability

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrentTraceIDIsAvailableInScope(t *testing.T) {
	var seen string
	WithTraceID(context.Background(), "abc123", func(ctx context.Context) {
		id, ok := CurrentTraceID(ctx)
		require.True(t, ok)
		seen = id
	})
	assert.Equal(t, "abc123", seen)
}

func TestCurrentTraceIDFallsBackOnBareContext(t *testing.T) {
	WithTraceID(context.Background(), "fallback-1", func(ctx context.Context) {
		// Simulate a sub-task that never received ctx, only the ambient
		// process-wide fallback slot.
		id, ok := CurrentTraceID(context.Background())
		require.True(t, ok)
		assert.Equal(t, "fallback-1", id)
	})
}

func TestCurrentTraceIDRestoresAfterNestedScope(t *testing.T) {
	WithTraceID(context.Background(), "outer", func(outerCtx context.Context) {
		WithTraceID(outerCtx, "inner", func(innerCtx context.Context) {
			id, _ := CurrentTraceID(innerCtx)
			assert.Equal(t, "inner", id)
		})
		id, _ := CurrentTraceID(context.Background())
		assert.Equal(t, "outer", id)
	})
	_, ok := CurrentTraceID(context.Background())
	assert.False(t, ok)
}

func TestNewTraceIDIsUnique(t *testing.T) {
	a := NewTraceID()
	b := NewTraceID()
	assert.NotEqual(t, a, b)
}

func TestLoggerEmitAppendsDiscriminatedLine(t *testing.T) {
	dir := t.TempDir()
	logger := NewLogger(dir)

	logger.Emit(RequestStart{
		TS:                Now(),
		TraceID:           "t1",
		Provider:          "openai",
		Model:             "gpt-test",
		Endpoint:          "chat_completions",
		Tools:             true,
		SystemPreamble:    true,
		CapabilitySources: []string{"static"},
	})

	files, err := filepath.Glob(filepath.Join(dir, ".order", "logs", "agent-*.log"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	content, err := os.ReadFile(files[0])
	require.NoError(t, err)
	line := strings.TrimSpace(string(content))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &decoded))
	assert.Equal(t, "request_start", decoded["event"])
	assert.Equal(t, "t1", decoded["trace_id"])
}
