// Package kernel locates the kernel payload inside a deployment tree
// and stages it into the shared, bootcsum-deduplicated /boot area.
package kernel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/pkg/log"
)

const (
	// treeBootDir is where current trees carry their kernel
	treeBootDir = "usr/lib/ostree-boot"
	// legacyBootDir is the pre-2015 location
	legacyBootDir = "boot"

	kernelPrefix     = "vmlinuz-"
	initramfsPrefix  = "initramfs-"
	devicetreePrefix = "devicetree-"
)

// Layout describes the kernel payload found in one deployment tree.
// File names keep their build-time checksum suffix; Initramfs and
// Devicetree are empty when the tree ships without them.
type Layout struct {
	// Dir is the directory holding the files, relative to the sysroot root
	Dir string
	// Kernel, Initramfs, Devicetree are file names inside Dir
	Kernel     string
	Initramfs  string
	Devicetree string
	// BootCsum is the SHA-256 over the concatenated payload contents
	BootCsum string
}

// Discover finds the kernel payload under deployDir (relative to the
// sysroot root) and computes its boot checksum. All files present must
// carry the same name suffix.
func Discover(rw fileio.Reader, deployDir string) (*Layout, error) {
	for _, sub := range []string{treeBootDir, legacyBootDir} {
		dir := filepath.Join(deployDir, sub)
		layout, err := discoverIn(rw, dir)
		if err != nil {
			return nil, err
		}
		if layout != nil {
			if err := computeBootCsum(rw, layout); err != nil {
				return nil, err
			}
			return layout, nil
		}
	}
	return nil, fmt.Errorf("%w under %q", errors.ErrMissingKernel, deployDir)
}

func discoverIn(rw fileio.Reader, dir string) (*Layout, error) {
	entries, err := rw.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	layout := &Layout{Dir: dir}
	suffix := ""
	for _, entry := range entries {
		name := entry.Name()
		var slot *string
		switch {
		case layout.Kernel == "" && strings.HasPrefix(name, kernelPrefix):
			slot = &layout.Kernel
		case layout.Initramfs == "" && strings.HasPrefix(name, initramfsPrefix):
			slot = &layout.Initramfs
		case layout.Devicetree == "" && strings.HasPrefix(name, devicetreePrefix):
			slot = &layout.Devicetree
		default:
			continue
		}

		nameSuffix, err := checksumSuffix(name)
		if err != nil {
			return nil, err
		}
		if suffix == "" {
			suffix = nameSuffix
		} else if nameSuffix != suffix {
			return nil, fmt.Errorf("%w: %q vs %q in %q", errors.ErrKernelChecksumMismatch, suffix, nameSuffix, dir)
		}
		*slot = name
	}

	if layout.Kernel == "" {
		return nil, nil
	}
	return layout, nil
}

// checksumSuffix extracts everything after the last dash.
func checksumSuffix(name string) (string, error) {
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 || idx == len(name)-1 {
		return "", fmt.Errorf("malformed kernel payload name %q, missing checksum suffix", name)
	}
	return name[idx+1:], nil
}

// computeBootCsum hashes kernel || initramfs || devicetree contents.
func computeBootCsum(rw fileio.Reader, layout *Layout) error {
	h := sha256.New()
	for _, name := range []string{layout.Kernel, layout.Initramfs, layout.Devicetree} {
		if name == "" {
			continue
		}
		if err := hashFile(h, rw.PathFor(filepath.Join(layout.Dir, name))); err != nil {
			return err
		}
	}
	layout.BootCsum = hex.EncodeToString(h.Sum(nil))
	return nil
}

func hashFile(h hash.Hash, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %q: %w", path, err)
	}
	return nil
}

// StageDir is the shared payload directory for (osname, bootcsum),
// relative to the sysroot root.
func StageDir(osname, bootCsum string) string {
	return filepath.Join("boot/ostree", osname+"-"+bootCsum)
}

// Stager copies kernel payloads into per-bootcsum directories.
type Stager struct {
	rw  fileio.ReadWriter
	log *log.PrefixLogger
}

func NewStager(rw fileio.ReadWriter, log *log.PrefixLogger) *Stager {
	return &Stager{rw: rw, log: log}
}

// Stage materializes the layout under /boot/ostree, preferring
// hardlinks. Existing files are never overwritten: a same-bootcsum
// directory left by an earlier deployment is reused, but a size
// mismatch against the tree is a hard failure rather than silent reuse.
func (s *Stager) Stage(ctx context.Context, layout *Layout, osname string) (string, error) {
	destDir := StageDir(osname, layout.BootCsum)
	if err := s.rw.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}

	for _, name := range []string{layout.Kernel, layout.Initramfs, layout.Devicetree} {
		if name == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		src := filepath.Join(layout.Dir, name)
		dst := filepath.Join(destDir, destName(name))

		srcInfo, err := s.rw.Lstat(src)
		if err != nil {
			return "", err
		}
		dstInfo, err := s.rw.Lstat(dst)
		switch {
		case err == nil:
			if dstInfo.Size() != srcInfo.Size() {
				return "", fmt.Errorf("%w: %q", errors.ErrStaleKernelPayload, dst)
			}
			s.log.Debugf("Reusing staged %s", dst)
			continue
		case !fileio.IsNotExist(err):
			return "", err
		}

		if err := s.rw.HardlinkOrCopy(src, dst, fileio.WithSkipXattrs()); err != nil {
			return "", err
		}
	}
	return destDir, nil
}

// destName strips the checksum suffix: vmlinuz-<sha> installs as vmlinuz.
func destName(name string) string {
	idx := strings.LastIndexByte(name, '-')
	if idx < 0 {
		return name
	}
	return name[:idx]
}
