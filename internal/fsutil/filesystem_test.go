package fsutil

import (
	"io"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystemRoundTrip(t *testing.T) {
	osfs := OSFileSystem{}
	path := filepath.Join(t.TempDir(), "events.json")

	require.NoError(t, osfs.WriteFile(path, []byte("[]"), 0644))
	assert.True(t, osfs.Exists(path))

	data, err := osfs.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))

	require.NoError(t, osfs.Remove(path))
	assert.False(t, osfs.Exists(path))
}

func TestOSFileSystemRenameReplaces(t *testing.T) {
	osfs := OSFileSystem{}
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "snapshot.json.tmp")
	newPath := filepath.Join(dir, "snapshot.json")

	require.NoError(t, osfs.WriteFile(newPath, []byte("stale"), 0644))
	require.NoError(t, osfs.WriteFile(oldPath, []byte("fresh"), 0644))
	require.NoError(t, osfs.Rename(oldPath, newPath))

	data, err := osfs.ReadFile(newPath)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
	assert.False(t, osfs.Exists(oldPath))
}

func TestMemoryFileSystemWriteAndRead(t *testing.T) {
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.WriteFile("/data/events.json", []byte("hello"), 0644))

	data, err := mfs.ReadFile("/data/events.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = mfs.ReadFile("/data/missing.json")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystemWriteCopiesInput(t *testing.T) {
	mfs := NewMemoryFileSystem()

	buf := []byte("original")
	require.NoError(t, mfs.WriteFile("/f", buf, 0644))
	buf[0] = 'X'

	data, err := mfs.ReadFile("/f")
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestMemoryFileSystemCreateAndOpen(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/export.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte("a,b\n1,2\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := mfs.Open("/export.csv")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,2\n", string(data))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size())
}

func TestMemoryFileSystemRename(t *testing.T) {
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.WriteFile("/snap.json", []byte("stale"), 0644))
	require.NoError(t, mfs.WriteFile("/snap.json.tmp", []byte("fresh"), 0644))

	require.NoError(t, mfs.Rename("/snap.json.tmp", "/snap.json"))

	data, err := mfs.ReadFile("/snap.json")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
	assert.False(t, mfs.Exists("/snap.json.tmp"))

	assert.ErrorIs(t, mfs.Rename("/nope", "/dest"), fs.ErrNotExist)
}

func TestMemoryFileSystemRemove(t *testing.T) {
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.WriteFile("/f", nil, 0644))
	require.NoError(t, mfs.Remove("/f"))
	assert.False(t, mfs.Exists("/f"))
	assert.ErrorIs(t, mfs.Remove("/f"), fs.ErrNotExist)
}

func TestMemoryFileSystemDirs(t *testing.T) {
	mfs := NewMemoryFileSystem()

	require.NoError(t, mfs.MkdirAll("/var/lib/seismon", 0755))
	assert.True(t, mfs.Exists("/var/lib/seismon"))
	assert.True(t, mfs.Exists("/var/lib"), "parents are created too")

	info, err := mfs.Stat("/var/lib/seismon")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, mfs.WriteFile("/var/lib/seismon/events.json", nil, 0644))
	require.NoError(t, mfs.RemoveAll("/var/lib"))
	assert.False(t, mfs.Exists("/var/lib/seismon/events.json"))
	assert.False(t, mfs.Exists("/var/lib"))
}
