package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested", "deeper"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dat"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "b.dat"), make([]byte, 250), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "deeper", "c.dat"), make([]byte, 7), 0o644))

	size, err := DirSize(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(357), size)
}

func TestDirSizeEmpty(t *testing.T) {
	size, err := DirSize(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestDirSizeMissingDir(t *testing.T) {
	size, err := DirSize(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err, "unreadable roots are treated as empty")
	assert.Zero(t, size)
}
