package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShirasawaTopaz/order/internal/connection"
)

func TestLoadMissingFileYieldsEmptyMemory(t *testing.T) {
	mem, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, mem.Turns)
	assert.Nil(t, mem.History())
}

func TestAppendSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mem, err := Load(root)
	require.NoError(t, err)
	mem.AppendTurn(connection.RoleUser, "what is in main.go?", now)
	mem.AppendTurn(connection.RoleAssistant, "a CLI entry point", now)
	require.NoError(t, mem.Save())

	reloaded, err := Load(root)
	require.NoError(t, err)
	require.Len(t, reloaded.Turns, 2)
	assert.Equal(t, "what is in main.go?", reloaded.Turns[0].Text)

	history := reloaded.History()
	require.Len(t, history, 2)
	assert.Equal(t, connection.RoleAssistant, history[1].Role)
}

func TestTasksAreIsolatedByTaskID(t *testing.T) {
	root := t.TempDir()
	now := time.Now()

	t.Setenv(EnvTaskID, "task-a")
	memA, err := Load(root)
	require.NoError(t, err)
	memA.AppendTurn(connection.RoleUser, "turn for a", now)
	require.NoError(t, memA.Save())

	t.Setenv(EnvTaskID, "task-b")
	memB, err := Load(root)
	require.NoError(t, err)
	assert.Empty(t, memB.Turns)

	t.Setenv(EnvTaskID, "task-a")
	memA2, err := Load(root)
	require.NoError(t, err)
	require.Len(t, memA2.Turns, 1)
}

func TestMemoryFileOverrideEnvVar(t *testing.T) {
	root := t.TempDir()
	override := filepath.Join(t.TempDir(), "elsewhere.json")
	t.Setenv(EnvMemoryFile, override)

	mem, err := Load(root)
	require.NoError(t, err)
	mem.AppendTurn(connection.RoleUser, "hello", time.Now())
	require.NoError(t, mem.Save())

	_, err = os.Stat(override)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, ".order", "context", "memory.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestByteBudgetDropsOldestTurnsFirst(t *testing.T) {
	mem := &Memory{ByteBudget: 600}
	now := time.Now()
	for i := 0; i < 10; i++ {
		mem.AppendTurn(connection.RoleUser, strings.Repeat(string(rune('a'+i)), 100), now)
	}

	assert.Less(t, len(mem.Turns), 10)
	assert.GreaterOrEqual(t, len(mem.Turns), 1)
	assert.Equal(t, strings.Repeat("j", 100), mem.Turns[len(mem.Turns)-1].Text, "the newest turn is kept")
	assert.NotEqual(t, strings.Repeat("a", 100), mem.Turns[0].Text, "the oldest turn is dropped")
}
