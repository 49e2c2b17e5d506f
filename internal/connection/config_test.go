package connection

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConnectionTOML(t *testing.T, root, body string) {
	t.Helper()
	dir := filepath.Join(root, ".order")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "connection.toml"), []byte(body), 0o644))
}

func TestLoadConfigOverrideReadsPresentFieldsOnly(t *testing.T) {
	root := t.TempDir()
	writeConnectionTOML(t, root, "supports_tools = false\nsupports_stream = true\n")

	overlay, err := LoadConfigOverride(root)
	require.NoError(t, err)
	require.NotNil(t, overlay)

	require.NotNil(t, overlay.Tools)
	assert.False(t, *overlay.Tools)
	require.NotNil(t, overlay.Stream)
	assert.True(t, *overlay.Stream)
	assert.Nil(t, overlay.ResponsesAPI)
	assert.Nil(t, overlay.SystemPreamble)
}

func TestLoadConfigOverrideEmptyFileMeansNoOverride(t *testing.T) {
	root := t.TempDir()
	writeConnectionTOML(t, root, "# nothing configured\n")

	overlay, err := LoadConfigOverride(root)
	require.NoError(t, err)
	assert.Nil(t, overlay)
}

func TestLoadConfigOverrideRejectsMalformedTOML(t *testing.T) {
	root := t.TempDir()
	writeConnectionTOML(t, root, "supports_tools = [broken\n")

	_, err := LoadConfigOverride(root)
	require.Error(t, err)
}
