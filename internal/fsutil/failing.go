package fsutil

import (
	"io"
	"io/fs"
	"os"
)

// FailingFileSystem wraps another FileSystem and returns configured errors
// from selected operations. Used to exercise persistence-fault paths, which
// must be swallowed by background writers and surfaced by interactive
// exports.
type FailingFileSystem struct {
	FS FileSystem

	// WriteErr is returned by WriteFile and Create when set.
	WriteErr error

	// ReadErr is returned by ReadFile and Open when set.
	ReadErr error

	// RenameErr is returned by Rename when set.
	RenameErr error
}

func (f *FailingFileSystem) Open(name string) (fs.File, error) {
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return f.FS.Open(name)
}

func (f *FailingFileSystem) Create(name string) (io.WriteCloser, error) {
	if f.WriteErr != nil {
		return nil, f.WriteErr
	}
	return f.FS.Create(name)
}

func (f *FailingFileSystem) ReadFile(name string) ([]byte, error) {
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return f.FS.ReadFile(name)
}

func (f *FailingFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	if f.WriteErr != nil {
		return f.WriteErr
	}
	return f.FS.WriteFile(name, data, perm)
}

func (f *FailingFileSystem) Stat(name string) (fs.FileInfo, error) {
	return f.FS.Stat(name)
}

func (f *FailingFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}

func (f *FailingFileSystem) Remove(name string) error {
	return f.FS.Remove(name)
}

func (f *FailingFileSystem) RemoveAll(path string) error {
	return f.FS.RemoveAll(path)
}

func (f *FailingFileSystem) Rename(oldpath, newpath string) error {
	if f.RenameErr != nil {
		return f.RenameErr
	}
	return f.FS.Rename(oldpath, newpath)
}

func (f *FailingFileSystem) Exists(name string) bool {
	return f.FS.Exists(name)
}
