package sysroot

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bootwright/bootwright/internal/sysroot/deployment"
)

// createBootlinks builds the two-level symlink farm
// ostree/boot.<B>.<S>/<osname>/<bootcsum>/<bootserial> naming each
// deployment's checkout. The target directory is rebuilt from scratch.
func (s *Sysroot) createBootlinks(ctx context.Context, bootversion, subbootversion int, deployments []*deployment.Deployment) error {
	farmDir := fmt.Sprintf("ostree/boot.%d.%d", bootversion, subbootversion)
	if err := s.rw.RemoveAll(farmDir); err != nil {
		return err
	}
	if err := s.rw.MkdirAll(farmDir, 0o755); err != nil {
		return err
	}

	for _, d := range deployments {
		if err := ctx.Err(); err != nil {
			return err
		}
		linkDir := filepath.Join(farmDir, d.Osname(), d.BootCsum())
		if err := s.rw.MkdirAll(linkDir, 0o755); err != nil {
			return err
		}
		target := fmt.Sprintf("../../../deploy/%s/deploy/%s", d.Osname(), d.Name())
		link := filepath.Join(linkDir, fmt.Sprintf("%d", d.BootSerial()))
		if err := s.rw.Symlink(target, link); err != nil {
			return fmt.Errorf("bootlink for %s: %w", d, err)
		}
	}
	return nil
}

// swapBootlinks atomically points ostree/boot.<B> at the given farm.
func (s *Sysroot) swapBootlinks(bootversion, subbootversion int) error {
	link := fmt.Sprintf("ostree/boot.%d", bootversion)
	target := fmt.Sprintf("boot.%d.%d", bootversion, subbootversion)
	if err := s.rw.SymlinkReplace(target, link); err != nil {
		return err
	}
	return s.rw.SyncDir("ostree")
}
