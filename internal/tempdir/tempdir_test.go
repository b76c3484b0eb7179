package tempdir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTempFileIsUniqueAndUnderRoot(t *testing.T) {
	svc, err := NewLocalService(filepath.Join(t.TempDir(), "root"))
	require.NoError(t, err)

	a, err := svc.GetTempFile(".job")
	require.NoError(t, err)
	b, err := svc.GetTempFile(".job")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, svc.Root, filepath.Dir(a))
	assert.FileExists(t, a)
	assert.FileExists(t, b)
}

func TestGetTempDirectory(t *testing.T) {
	svc, err := NewLocalService(t.TempDir())
	require.NoError(t, err)

	dir, err := svc.GetTempDirectory()
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestDestroyTempFileIsIdempotent(t *testing.T) {
	svc, err := NewLocalService(t.TempDir())
	require.NoError(t, err)

	f, err := svc.GetTempFile(".job")
	require.NoError(t, err)

	require.NoError(t, svc.DestroyTempFile(f))
	assert.NoFileExists(t, f)
	require.NoError(t, svc.DestroyTempFile(f))
}

func TestDestroyTempDirRemovesContents(t *testing.T) {
	svc, err := NewLocalService(t.TempDir())
	require.NoError(t, err)

	dir, err := svc.GetTempDirectory()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scratch"), []byte("x"), 0o644))

	require.NoError(t, svc.DestroyTempDir(dir))
	assert.NoDirExists(t, dir)
}

func TestListFilesExcludesDirectories(t *testing.T) {
	svc, err := NewLocalService(t.TempDir())
	require.NoError(t, err)

	f, err := svc.GetTempFile(".job")
	require.NoError(t, err)
	_, err = svc.GetTempDirectory()
	require.NoError(t, err)

	files, err := svc.ListFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{f}, files)
}
