package fileio

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"
)

// fsImmutableFL is FS_IMMUTABLE_FL from <linux/fs.h> (0x00000010). It is not
// exported by golang.org/x/sys/unix, so it is defined here with its fixed
// kernel ABI value.
const fsImmutableFL = 0x00000010

// immutableState latches the first EPERM from the immutable ioctl so the
// process stops retrying an operation the kernel will keep refusing
// (e.g. running without CAP_LINUX_IMMUTABLE).
type immutableState struct {
	epermSeen atomic.Bool
}

// SetImmutable toggles FS_IMMUTABLE_FL on the path. Filesystems without
// flag support (EOPNOTSUPP/ENOTTY) are silently tolerated.
func (w *writer) SetImmutable(path string, immutable bool) error {
	if w.immutable.epermSeen.Load() {
		return nil
	}

	f, err := os.Open(w.PathFor(path))
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()

	flags, err := unix.IoctlGetInt(int(f.Fd()), unix.FS_IOC_GETFLAGS)
	if err != nil {
		return w.immutableErr(path, err)
	}

	if immutable {
		flags |= fsImmutableFL
	} else {
		flags &^= fsImmutableFL
	}

	if err := unix.IoctlSetPointerInt(int(f.Fd()), unix.FS_IOC_SETFLAGS, flags); err != nil {
		return w.immutableErr(path, err)
	}
	return nil
}

func (w *writer) immutableErr(path string, err error) error {
	switch {
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOTTY), errors.Is(err, unix.ENOTSUP):
		return nil
	case errors.Is(err, unix.EPERM):
		w.immutable.epermSeen.Store(true)
		return nil
	default:
		return fmt.Errorf("immutable flag on %q: %w", path, err)
	}
}

// SyncDir fsyncs the directory so preceding renames in it are durable.
func (w *writer) SyncDir(path string) error {
	d, err := os.Open(w.PathFor(path))
	if err != nil {
		return fmt.Errorf("open dir %q: %w", path, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync dir %q: %w", path, err)
	}
	return nil
}

// SyncFilesystem issues syncfs(2) for the filesystem containing path.
func (w *writer) SyncFilesystem(path string) error {
	f, err := os.Open(w.PathFor(path))
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	if err := unix.Syncfs(int(f.Fd())); err != nil {
		// Some filesystems in containers reject syncfs; fall back to a
		// plain fsync of the descriptor.
		if errors.Is(err, syscall.ENOSYS) || errors.Is(err, syscall.EINVAL) {
			return f.Sync()
		}
		return fmt.Errorf("syncfs %q: %w", path, err)
	}
	return nil
}
