package sysroot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/samber/lo"

	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/repo"
)

// Cleanup garbage-collects what the last write left behind: the
// inactive bootversion, unreferenced deployment checkouts, kernel
// payloads no deployment names, and (with a repo attached) unreachable
// objects. Individual failures are collected, not fatal.
func (s *Sysroot) Cleanup(ctx context.Context) error {
	if !s.loaded {
		return nil
	}

	var result *multierror.Error
	result = multierror.Append(result, s.cleanupOldBootversions())
	result = multierror.Append(result, s.cleanupDeployments(ctx))
	result = multierror.Append(result, s.cleanupBootPayloads())

	if s.repo != nil {
		if err := s.repo.Prune(ctx, repo.PruneRefsOnly); err != nil {
			result = multierror.Append(result, fmt.Errorf("pruning object store: %w", err))
		}
	}
	return result.ErrorOrNil()
}

// cleanupOldBootversions drops the inactive bootversion's loader dir
// and bootlink farms, and the inactive subbootversion farm under the
// active bootversion.
func (s *Sysroot) cleanupOldBootversions() error {
	var result *multierror.Error
	oldBootversion := 1 - s.bootversion

	for _, path := range []string{
		fmt.Sprintf("ostree/boot.%d", oldBootversion),
		fmt.Sprintf("ostree/boot.%d.0", oldBootversion),
		fmt.Sprintf("ostree/boot.%d.1", oldBootversion),
		fmt.Sprintf("boot/loader.%d", oldBootversion),
		fmt.Sprintf("ostree/boot.%d.%d", s.bootversion, 1-s.subbootversion),
	} {
		result = multierror.Append(result, s.rw.RemoveAll(path))
	}
	return result.ErrorOrNil()
}

// cleanupDeployments removes checkouts and origin files not in the
// current vector.
func (s *Sysroot) cleanupDeployments(ctx context.Context) error {
	referenced := map[string]bool{}
	for _, d := range s.deployments {
		referenced[filepath.Join(d.Osname(), d.Name())] = true
	}

	osnames, err := s.rw.ReadDir("ostree/deploy")
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, osEntry := range osnames {
		if !osEntry.IsDir() {
			continue
		}
		osname := osEntry.Name()
		deployDir := filepath.Join("ostree/deploy", osname, "deploy")
		entries, err := s.rw.ReadDir(deployDir)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := strings.TrimSuffix(entry.Name(), ".origin")
			if referenced[filepath.Join(osname, name)] {
				continue
			}
			target := filepath.Join(deployDir, entry.Name())
			if entry.IsDir() {
				if s.isLiveRoot(target) {
					// never delete the tree we are running from, no
					// matter what the caller handed us
					s.log.Warnf("Refusing to remove apparently-live root %s", target)
					continue
				}
				s.log.Infof("Removing stale deployment %s", target)
				result = multierror.Append(result, s.rw.SetImmutable(target, false))
			}
			result = multierror.Append(result, s.rw.RemoveAll(target))
		}
	}
	return result.ErrorOrNil()
}

// cleanupBootPayloads removes boot/ostree/<osname>-<bootcsum> dirs no
// deployment references.
func (s *Sysroot) cleanupBootPayloads() error {
	referenced := lo.SliceToMap(s.deployments, func(d *deployment.Deployment) (string, bool) {
		return d.Osname() + "-" + d.BootCsum(), true
	})

	entries, err := s.rw.ReadDir("boot/ostree")
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, entry := range entries {
		if !entry.IsDir() || referenced[entry.Name()] {
			continue
		}
		s.log.Infof("Removing stale kernel payload %s", entry.Name())
		result = multierror.Append(result, s.rw.RemoveAll(filepath.Join("boot/ostree", entry.Name())))
	}
	return result.ErrorOrNil()
}

// isLiveRoot reports whether path is the same inode as the running /.
func (s *Sysroot) isLiveRoot(path string) bool {
	info, err := s.rw.Stat(path)
	if err != nil {
		return false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	live, err := liveRootStat()
	if err != nil {
		return false
	}
	return st.Dev == live.Dev && st.Ino == live.Ino
}
