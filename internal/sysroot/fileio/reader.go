package fileio

import (
	"fmt"
	"io/fs"
	"os"
	"path"
)

// reader is responsible for reading files below the sysroot
type reader struct {
	// rootDir is the root directory for the reader, useful for testing
	rootDir string
}

type readerOptions struct {
	rootDir string
}

type ReaderOption func(*readerOptions)

func WithReaderRootDir(rootDir string) ReaderOption {
	return func(ro *readerOptions) {
		ro.rootDir = rootDir
	}
}

func NewReader(options ...ReaderOption) *reader {
	opts := readerOptions{}
	for _, o := range options {
		o(&opts)
	}
	return &reader{rootDir: opts.rootDir}
}

func (r *reader) PathFor(filePath string) string {
	return path.Join(r.rootDir, filePath)
}

func (r *reader) ReadFile(filePath string) ([]byte, error) {
	return os.ReadFile(r.PathFor(filePath))
}

// ReadDir reads the directory at the provided path and returns a slice of fs.DirEntry. If the directory
// does not exist, it returns an empty slice and no error.
func (r *reader) ReadDir(dirPath string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(r.PathFor(dirPath))
	if err != nil {
		if os.IsNotExist(err) {
			return []fs.DirEntry{}, nil
		}
		return nil, err
	}
	return entries, nil
}

func (r *reader) PathExists(path string) (bool, error) {
	_, err := os.Lstat(r.PathFor(path))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking path %q: %w", path, err)
	}
	return true, nil
}

func (r *reader) Readlink(path string) (string, error) {
	return os.Readlink(r.PathFor(path))
}

func (r *reader) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(r.PathFor(path))
}

func (r *reader) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(r.PathFor(path))
}
