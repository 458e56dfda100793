package fileio

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/pkg/xattr"
)

// copyXattrs copies all extended attributes from src to dst. Filesystems
// without xattr support (FAT/ESP) are tolerated.
func copyXattrs(src, dst string) error {
	names, err := xattr.LList(src)
	if err != nil {
		if xattrUnsupported(err) {
			return nil
		}
		return fmt.Errorf("list xattrs %q: %w", src, err)
	}
	for _, name := range names {
		value, err := xattr.LGet(src, name)
		if err != nil {
			if xattrUnsupported(err) {
				continue
			}
			return fmt.Errorf("get xattr %q on %q: %w", name, src, err)
		}
		if err := xattr.LSet(dst, name, value); err != nil {
			if xattrUnsupported(err) {
				continue
			}
			// Unprivileged processes cannot set trusted/security
			// namespaces; skip rather than abort the copy.
			if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
				continue
			}
			return fmt.Errorf("set xattr %q on %q: %w", name, dst, err)
		}
	}
	return nil
}

func xattrUnsupported(err error) bool {
	return errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.EOPNOTSUPP) || errors.Is(err, syscall.ENODATA)
}
