package selinux

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/bootwright/bootwright/internal/sysroot/fileio"
)

// RelabelRecursively walks the tree rooted at dir (relative to rw's
// root) and applies policy labels as if each path lived at
// prefix/<relative-path> at runtime. A deployment's /etc is labeled
// with prefix "/etc" even though it is materialized elsewhere.
func RelabelRecursively(rw fileio.ReadWriter, policy Policy, dir, prefix string, flags RestoreconFlags) error {
	info, err := rw.Lstat(dir)
	if err != nil {
		return fmt.Errorf("stat %q: %w", dir, err)
	}
	return relabel(rw, policy, dir, prefix, info.Mode(), flags)
}

func relabel(rw fileio.ReadWriter, policy Policy, dir, prefix string, mode os.FileMode, flags RestoreconFlags) error {
	if err := policy.Restorecon(prefix, rw.PathFor(dir), mode, flags); err != nil {
		return fmt.Errorf("restorecon %q: %w", prefix, err)
	}
	if !mode.IsDir() {
		return nil
	}

	entries, err := rw.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir %q: %w", dir, err)
	}
	for _, entry := range entries {
		entryPath := filepath.Join(dir, entry.Name())
		entryPrefix := path.Join(prefix, entry.Name())
		info, err := rw.Lstat(entryPath)
		if err != nil {
			return fmt.Errorf("stat %q: %w", entryPath, err)
		}
		if err := relabel(rw, policy, entryPath, entryPrefix, info.Mode(), flags); err != nil {
			return err
		}
	}
	return nil
}
