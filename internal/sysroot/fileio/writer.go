package fileio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"syscall"

	"github.com/google/renameio"
)

// writer is responsible for writing files below the sysroot
type writer struct {
	// rootDir is the root directory for the writer, useful for testing
	rootDir string
	// immutable-flag state shared with the immutable.go helpers
	immutable immutableState
}

type copyOptions struct {
	// skipXattrs suppresses xattr copying (FAT/ESP targets, debug)
	skipXattrs bool
}

// CopyOption is a functional option for copy-style operations.
type CopyOption func(*copyOptions)

// WithSkipXattrs suppresses extended-attribute copying.
func WithSkipXattrs() CopyOption {
	return func(o *copyOptions) {
		o.skipXattrs = true
	}
}

type writerOptions struct {
	rootDir string
}

type WriterOption func(*writerOptions)

func WithWriterRootDir(rootDir string) WriterOption {
	return func(wo *writerOptions) {
		wo.rootDir = rootDir
	}
}

// NewWriter creates a new writer
func NewWriter(options ...WriterOption) *writer {
	opts := writerOptions{}
	for _, o := range options {
		o(&opts)
	}
	return &writer{rootDir: opts.rootDir}
}

func (w *writer) PathFor(filePath string) string {
	return path.Join(w.rootDir, filePath)
}

// WriteFile writes the provided data to the file at the path with the provided permissions
func (w *writer) WriteFile(name string, data []byte, perm fs.FileMode) error {
	return writeFileAtomically(filepath.Join(w.rootDir, name), data, DefaultDirectoryPermissions, perm)
}

func (w *writer) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(filepath.Join(w.rootDir, path), perm)
}

func (w *writer) RemoveFile(file string) error {
	if err := os.Remove(filepath.Join(w.rootDir, file)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file %q: %w", file, err)
	}
	return nil
}

func (w *writer) RemoveAll(path string) error {
	if err := os.RemoveAll(filepath.Join(w.rootDir, path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove path %q: %w", path, err)
	}
	return nil
}

func (w *writer) Rename(oldpath, newpath string) error {
	return os.Rename(filepath.Join(w.rootDir, oldpath), filepath.Join(w.rootDir, newpath))
}

func (w *writer) Symlink(target, path string) error {
	return os.Symlink(target, filepath.Join(w.rootDir, path))
}

// SymlinkReplace atomically points path at target. The replacement is a
// rename of a freshly created .tmp sibling, which POSIX guarantees to be
// atomic; callers that need durability fsync the parent afterward.
func (w *writer) SymlinkReplace(target, path string) error {
	full := filepath.Join(w.rootDir, path)
	tmp := full + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale symlink %q: %w", tmp, err)
	}
	if err := os.Symlink(target, tmp); err != nil {
		return fmt.Errorf("create symlink %q -> %q: %w", tmp, target, err)
	}
	if err := os.Rename(tmp, full); err != nil {
		return fmt.Errorf("rename symlink over %q: %w", full, err)
	}
	return nil
}

// HardlinkOrCopy links src to dst. EMLINK and EXDEV fall back to a full
// copy preserving mode and xattrs; any other errno aborts.
func (w *writer) HardlinkOrCopy(src, dst string, opts ...CopyOption) error {
	fullSrc := filepath.Join(w.rootDir, src)
	fullDst := filepath.Join(w.rootDir, dst)
	err := os.Link(fullSrc, fullDst)
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EMLINK) || errors.Is(err, syscall.EXDEV) {
		return w.CopyPreserving(src, dst, opts...)
	}
	return fmt.Errorf("link %q -> %q: %w", src, dst, err)
}

// CopyPreserving copies src to dst preserving mode, ownership and xattrs
// for regular files and symlinks, recursing into directories.
func (w *writer) CopyPreserving(src, dst string, opts ...CopyOption) error {
	options := &copyOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return copyPreserving(filepath.Join(w.rootDir, src), filepath.Join(w.rootDir, dst), options)
}

func copyPreserving(src, dst string, opts *copyOptions) error {
	info, err := os.Lstat(src)
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return fmt.Errorf("readlink %q: %w", src, err)
		}
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %q: %w", dst, err)
		}
		if err := os.Symlink(target, dst); err != nil {
			return fmt.Errorf("symlink %q: %w", dst, err)
		}
		if err := copyOwnership(info, dst); err != nil {
			return err
		}
		return nil
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return fmt.Errorf("mkdir %q: %w", dst, err)
		}
		if err := copyOwnership(info, dst); err != nil {
			return err
		}
		if !opts.skipXattrs {
			if err := copyXattrs(src, dst); err != nil {
				return err
			}
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return fmt.Errorf("read dir %q: %w", src, err)
		}
		for _, entry := range entries {
			if err := copyPreserving(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name()), opts); err != nil {
				return err
			}
		}
		return nil
	default:
		return copyRegular(src, dst, info, opts)
	}
}

func copyRegular(src, dst string, info fs.FileInfo, opts *copyOptions) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %q: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %q: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %q -> %q: %w", src, dst, err)
	}
	if err := out.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %q: %w", dst, err)
	}
	if err := copyOwnership(info, dst); err != nil {
		return err
	}
	if !opts.skipXattrs {
		if err := copyXattrs(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyOwnership(info fs.FileInfo, dst string) error {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if err := os.Lchown(dst, int(st.Uid), int(st.Gid)); err != nil {
		// Unprivileged test runs cannot chown; keep going.
		if os.IsPermission(err) {
			return nil
		}
		return fmt.Errorf("chown %q: %w", dst, err)
	}
	return nil
}

// writeFileAtomically uses the renameio package to provide atomic file
// writing; data goes through a buffer since entry files can be sizable.
func writeFileAtomically(fpath string, b []byte, dirMode, fileMode os.FileMode) error {
	dir := filepath.Dir(fpath)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	t, err := renameio.TempFile(dir, fpath)
	if err != nil {
		return err
	}
	defer func() {
		_ = t.Cleanup()
	}()
	if err := t.Chmod(fileMode); err != nil {
		return err
	}
	bw := bufio.NewWriter(t)
	if _, err := bw.Write(b); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}
