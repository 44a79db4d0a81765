package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_WriteRenameRead(t *testing.T) {
	t.Parallel()
	osfs := OSFileSystem{}
	dir := t.TempDir()

	src := filepath.Join(dir, "a.txt")
	dst := filepath.Join(dir, "b.txt")
	require.NoError(t, osfs.WriteFile(src, []byte("hello"), 0o644))
	require.NoError(t, osfs.Rename(src, dst))

	assert.False(t, osfs.Exists(src))
	data, err := osfs.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	info, err := osfs.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	require.NoError(t, osfs.MkdirAll(filepath.Join(dir, "x", "y"), 0o755))
	assert.True(t, osfs.Exists(filepath.Join(dir, "x", "y")))
	require.NoError(t, osfs.Remove(dst))
	assert.False(t, osfs.Exists(dst))
}

func TestWriteFileAtomic_OS(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "log.json")

	require.NoError(t, WriteFileAtomic(OSFileSystem{}, path, []byte(`{"v":1}`), 0o644))
	require.NoError(t, WriteFileAtomic(OSFileSystem{}, path, []byte(`{"v":2}`), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file left behind")
}

func TestWriteFileAtomic_FailedWriteKeepsOldContent(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/data/log.json", []byte("old complete document"), 0o644))

	mfs.Fail("write", "/data/.log.json.tmp", errors.New("disk full"))
	err := WriteFileAtomic(mfs, "/data/log.json", []byte("new complete document"), 0o644)
	require.Error(t, err)

	data, err := mfs.ReadFile("/data/log.json")
	require.NoError(t, err)
	assert.Equal(t, "old complete document", string(data))
	assert.Equal(t, []string{"/data/log.json"}, mfs.Files())
}

func TestWriteFileAtomic_FailedRenameKeepsOldContent(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	require.NoError(t, mfs.WriteFile("/log.json", []byte("old"), 0o644))

	mfs.Fail("rename", "/log.json", errors.New("power cut"))
	require.Error(t, WriteFileAtomic(mfs, "/log.json", []byte("new"), 0o644))

	data, err := mfs.ReadFile("/log.json")
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.Equal(t, []string{"/log.json"}, mfs.Files())

	mfs.Fail("rename", "/log.json", nil)
	require.NoError(t, WriteFileAtomic(mfs, "/log.json", []byte("new"), 0o644))
	data, _ = mfs.ReadFile("/log.json")
	assert.Equal(t, "new", string(data))
}

func TestMemoryFileSystem_PartialWriteOnFault(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()
	mfs.Fail("write", "/f", errors.New("boom"))

	err := mfs.WriteFile("/f", []byte("abcdef"), 0o644)
	var pe *fs.PathError
	require.ErrorAs(t, err, &pe)

	data, err := mfs.ReadFile("/f")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestMemoryFileSystem_Basics(t *testing.T) {
	t.Parallel()
	mfs := NewMemoryFileSystem()

	_, err := mfs.ReadFile("/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
	assert.ErrorIs(t, mfs.Rename("/missing", "/other"), fs.ErrNotExist)
	assert.ErrorIs(t, mfs.Remove("/missing"), fs.ErrNotExist)

	require.NoError(t, mfs.MkdirAll("/a/b", 0o755))
	assert.True(t, mfs.Exists("/a"))
	info, err := mfs.Stat("/a/b")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, mfs.WriteFile("/a/b/c.txt", []byte("xyz"), 0o600))
	assert.Error(t, mfs.Remove("/a/b"), "directory not empty")
	info, err = mfs.Stat("/a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
	assert.Equal(t, os.FileMode(0o600), info.Mode())

	require.NoError(t, mfs.Remove("/a/b/c.txt"))
	require.NoError(t, mfs.Remove("/a/b"))
	assert.False(t, mfs.Exists("/a/b"))
}
