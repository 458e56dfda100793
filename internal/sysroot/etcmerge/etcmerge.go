// Package etcmerge derives a deployment's /etc: the vendor defaults
// from /usr/etc overlaid with the administrator's changes carried over
// from the previous deployment.
package etcmerge

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/events"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/internal/sysroot/selinux"
	"github.com/bootwright/bootwright/pkg/log"
)

const (
	etcDir    = "etc"
	usrEtcDir = "usr/etc"
)

// Stats summarizes one merge pass.
type Stats struct {
	Modified int
	Removed  int
	Added    int
}

// Merger performs the three-way /etc merge for a deployment checkout.
type Merger struct {
	rw      fileio.ReadWriter
	policy  selinux.Policy
	emitter *events.Emitter
	log     *log.PrefixLogger
	// copyOpts carries the no-xattrs debug flag through to file copies
	copyOpts []fileio.CopyOption
}

func NewMerger(rw fileio.ReadWriter, policy selinux.Policy, emitter *events.Emitter, log *log.PrefixLogger, copyOpts ...fileio.CopyOption) *Merger {
	return &Merger{
		rw:       rw,
		policy:   policy,
		emitter:  emitter,
		log:      log,
		copyOpts: copyOpts,
	}
}

// Merge populates newDir's /etc. previousDir may be empty for an
// initial install. Both paths are deployment roots relative to the
// sysroot root.
func (m *Merger) Merge(ctx context.Context, previousDir, newDir string) (*Stats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := m.normalizeLegacyEtc(newDir); err != nil {
		return nil, err
	}

	newUsrEtc := filepath.Join(newDir, usrEtcDir)
	newEtc := filepath.Join(newDir, etcDir)
	hasUsrEtc, err := m.rw.PathExists(newUsrEtc)
	if err != nil {
		return nil, err
	}
	if hasUsrEtc {
		// Vendor defaults become the target /etc. Force-copy so edits
		// never write through into the object store, and label as if
		// already at the runtime path.
		if err := m.rw.CopyPreserving(newUsrEtc, newEtc, m.copyOpts...); err != nil {
			return nil, fmt.Errorf("checkout %s: %w", usrEtcDir, err)
		}
		if err := selinux.RelabelRecursively(m.rw, m.policy, newEtc, "/etc", selinux.AllowNoLabel); err != nil {
			return nil, err
		}
	}

	stats := &Stats{}
	if previousDir != "" {
		m.log.Debugf("Merging configuration from %s", previousDir)
		base := filepath.Join(previousDir, usrEtcDir)
		working := filepath.Join(previousDir, etcDir)
		if err := m.mergeDir(ctx, base, working, newEtc, ".", stats); err != nil {
			return nil, err
		}
	}

	m.emitter.Emit(events.IDConfigMerge, fmt.Sprintf("Merged /etc: %d modified, %d removed, %d added", stats.Modified, stats.Removed, stats.Added), map[string]string{
		"etc_n_modified": strconv.Itoa(stats.Modified),
		"etc_n_removed":  strconv.Itoa(stats.Removed),
		"etc_n_added":    strconv.Itoa(stats.Added),
	})
	return stats, nil
}

// normalizeLegacyEtc moves a top-level /etc shipped by old trees to
// /usr/etc, refusing trees that carry both.
func (m *Merger) normalizeLegacyEtc(deployDir string) error {
	etcPath := filepath.Join(deployDir, etcDir)
	usrEtcPath := filepath.Join(deployDir, usrEtcDir)

	hasEtc, err := m.rw.PathExists(etcPath)
	if err != nil {
		return err
	}
	hasUsrEtc, err := m.rw.PathExists(usrEtcPath)
	if err != nil {
		return err
	}

	switch {
	case hasEtc && hasUsrEtc:
		return fmt.Errorf("%w in %q", errors.ErrConfigMergeConflict, deployDir)
	case hasEtc:
		if err := m.rw.MkdirAll(filepath.Join(deployDir, "usr"), fileio.DefaultDirectoryPermissions); err != nil {
			return err
		}
		if err := m.rw.Rename(etcPath, usrEtcPath); err != nil {
			return fmt.Errorf("move legacy /etc: %w", err)
		}
	}
	return nil
}

// mergeDir applies the three-way diff for one directory level. rel is
// the path relative to the /etc roots.
func (m *Merger) mergeDir(ctx context.Context, base, working, target, rel string, stats *Stats) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	workingEntries, err := m.rw.ReadDir(filepath.Join(working, rel))
	if err != nil {
		return err
	}
	workingNames := map[string]bool{}

	for _, entry := range workingEntries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		workingNames[name] = true
		entryRel := path.Join(rel, name)

		inBase, err := m.rw.PathExists(filepath.Join(base, entryRel))
		if err != nil {
			return err
		}
		if !inBase {
			// administrator addition
			if err := m.copyOver(working, target, entryRel); err != nil {
				return err
			}
			stats.Added++
			continue
		}

		baseInfo, err := m.rw.Lstat(filepath.Join(base, entryRel))
		if err != nil {
			return err
		}
		workingInfo, err := m.rw.Lstat(filepath.Join(working, entryRel))
		if err != nil {
			return err
		}

		if baseInfo.IsDir() && workingInfo.IsDir() {
			targetInfo, err := m.rw.Lstat(filepath.Join(target, entryRel))
			switch {
			case err == nil && targetInfo.IsDir():
				if err := m.mergeDir(ctx, base, working, target, entryRel, stats); err != nil {
					return err
				}
				continue
			case err != nil && !fileio.IsNotExist(err):
				return err
			}
			// target is a file or missing: the working directory wins
			if err := m.copyOver(working, target, entryRel); err != nil {
				return err
			}
			stats.Modified++
			continue
		}

		same, err := m.samePayload(base, working, entryRel, baseInfo, workingInfo)
		if err != nil {
			return err
		}
		if same {
			continue
		}
		// administrator edit wins
		if err := m.copyOver(working, target, entryRel); err != nil {
			return err
		}
		stats.Modified++
	}

	baseEntries, err := m.rw.ReadDir(filepath.Join(base, rel))
	if err != nil {
		return err
	}
	for _, entry := range baseEntries {
		if workingNames[entry.Name()] {
			continue
		}
		// administrator delete wins
		entryRel := path.Join(rel, entry.Name())
		inTarget, err := m.rw.PathExists(filepath.Join(target, entryRel))
		if err != nil {
			return err
		}
		if !inTarget {
			continue
		}
		if err := m.rw.RemoveAll(filepath.Join(target, entryRel)); err != nil {
			return err
		}
		stats.Removed++
	}

	return nil
}

func (m *Merger) copyOver(working, target, rel string) error {
	dst := filepath.Join(target, rel)
	if err := m.rw.MkdirAll(filepath.Dir(dst), fileio.DefaultDirectoryPermissions); err != nil {
		return err
	}
	if err := m.rw.RemoveAll(dst); err != nil {
		return err
	}
	return m.rw.CopyPreserving(filepath.Join(working, rel), dst, m.copyOpts...)
}

// samePayload compares type, permissions, ownership, link target and
// contents. Xattrs are deliberately ignored: SELinux contexts differ
// between checkouts and would show every file as modified.
func (m *Merger) samePayload(base, working, rel string, baseInfo, workingInfo os.FileInfo) (bool, error) {
	if baseInfo.Mode()&os.ModeType != workingInfo.Mode()&os.ModeType {
		return false, nil
	}
	if baseInfo.Mode().Perm() != workingInfo.Mode().Perm() {
		return false, nil
	}
	if bSt, ok := baseInfo.Sys().(*syscall.Stat_t); ok {
		if wSt, ok := workingInfo.Sys().(*syscall.Stat_t); ok {
			if bSt.Uid != wSt.Uid || bSt.Gid != wSt.Gid {
				return false, nil
			}
		}
	}

	if workingInfo.Mode()&os.ModeSymlink != 0 {
		baseTarget, err := m.rw.Readlink(filepath.Join(base, rel))
		if err != nil {
			return false, err
		}
		workingTarget, err := m.rw.Readlink(filepath.Join(working, rel))
		if err != nil {
			return false, err
		}
		return baseTarget == workingTarget, nil
	}

	if !workingInfo.Mode().IsRegular() {
		return true, nil
	}
	if baseInfo.Size() != workingInfo.Size() {
		return false, nil
	}
	baseData, err := m.rw.ReadFile(filepath.Join(base, rel))
	if err != nil {
		return false, err
	}
	workingData, err := m.rw.ReadFile(filepath.Join(working, rel))
	if err != nil {
		return false, err
	}
	return bytes.Equal(baseData, workingData), nil
}
