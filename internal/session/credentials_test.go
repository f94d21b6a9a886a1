package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_Lifecycle(t *testing.T) {
	c := NewCredentials(t.TempDir())

	assert.False(t, c.Exists("s1"))

	dir, err := c.EnsureDir("s1")
	require.NoError(t, err)
	assert.DirExists(t, dir)

	// An empty directory still counts as no credentials.
	assert.False(t, c.Exists("s1"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "creds.json"), []byte("{}"), 0o600))
	assert.True(t, c.Exists("s1"))

	require.NoError(t, c.Delete("s1"))
	assert.False(t, c.Exists("s1"))
	assert.NoDirExists(t, dir)
}

func TestCredentials_Delete_MissingOK(t *testing.T) {
	c := NewCredentials(t.TempDir())
	assert.NoError(t, c.Delete("never-existed"))
}
