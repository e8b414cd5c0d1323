package auth

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "admin.json")

	_, err := RequireState(dir, "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Missing auth state for profile "admin"`)
	assert.Contains(t, err.Error(), "authstate setup --profile admin")

	require.NoError(t, os.WriteFile(path, []byte("{"), 0600))
	_, err = RequireState(dir, "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid auth state JSON")

	require.NoError(t, os.WriteFile(path, []byte(`{"cookies":[],"origins":[]}`), 0600))
	got, err := RequireState(dir, "admin")
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestStatePathRelativeToWorkingDirectory(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	got, err := StatePath("", "admin")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, ".auth", "admin.json"), got)

	_, err = StatePath("", "../escape")
	assert.Error(t, err)
}
