package sysroot

import (
	"fmt"

	"golang.org/x/sys/unix"
	"k8s.io/mount-utils"
)

// bootMountGuard remounts a read-only /boot read-write for the duration
// of a write and restores it on release.
type bootMountGuard struct {
	mounter  mount.Interface
	bootPath string
	remounts bool
}

func (s *Sysroot) acquireBootMount() (*bootMountGuard, error) {
	guard := &bootMountGuard{
		mounter:  mount.New(""),
		bootPath: s.rw.PathFor("boot"),
	}

	var st unix.Statfs_t
	if err := unix.Statfs(guard.bootPath, &st); err != nil {
		// no /boot yet: initial install into an empty sysroot
		return guard, nil
	}
	if st.Flags&unix.ST_RDONLY == 0 {
		return guard, nil
	}

	isMount, err := guard.mounter.IsMountPoint(guard.bootPath)
	if err != nil || !isMount {
		return guard, fmt.Errorf("boot is read-only but not a mount point: %w", err)
	}
	if err := guard.mounter.Mount("", guard.bootPath, "", []string{"remount", "rw"}); err != nil {
		return guard, fmt.Errorf("remounting boot read-write: %w", err)
	}
	guard.remounts = true
	return guard, nil
}

// release restores the read-only mount. Post-cutover failures only log:
// the write has already happened.
func (g *bootMountGuard) release(s *Sysroot) {
	if !g.remounts {
		return
	}
	if err := g.mounter.Mount("", g.bootPath, "", []string{"remount", "ro"}); err != nil {
		s.log.Warnf("Restoring read-only boot failed: %v", err)
	}
}
