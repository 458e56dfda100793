package bootloader

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/pkg/log"
)

const (
	syslinuxConfigPath = "boot/syslinux/syslinux.cfg"
)

// Syslinux maintains syslinux.cfg. The live config is a symlink into
// the rotating loader directory, so the visible swap rides on the
// boot/loader rename and the backend itself is atomic.
type Syslinux struct {
	rw  fileio.ReadWriter
	log *log.PrefixLogger
}

func NewSyslinux(rw fileio.ReadWriter, log *log.PrefixLogger) *Syslinux {
	return &Syslinux{rw: rw, log: log}
}

func (s *Syslinux) Name() string { return string(KindSyslinux) }

func (s *Syslinux) IsAtomic() bool { return true }

// Query reports syslinux active when its config path is a symlink (the
// shape this engine maintains).
func (s *Syslinux) Query() (bool, error) {
	info, err := s.rw.Lstat(syslinuxConfigPath)
	if err != nil {
		if fileio.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode()&os.ModeSymlink != 0, nil
}

func (s *Syslinux) WriteConfig(ctx context.Context, newBootversion int, deployments []*deployment.Deployment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var kept []string
	existing, err := s.rw.ReadFile(syslinuxConfigPath)
	if err == nil {
		kept, err = filterForeignLines(strings.Split(strings.TrimSuffix(string(existing), "\n"), "\n"))
		if err != nil {
			return fmt.Errorf("%w: %w", errors.ErrBootloaderWrite, err)
		}
	} else if !fileio.IsNotExist(err) {
		return err
	}

	lines := kept
	for i, d := range deployments {
		cfg := d.BootConfig()
		title := cfg.Get(bootconfig.KeyTitle)
		if title == "" {
			title = "(untitled)"
		}
		kernel := cfg.Get(bootconfig.KeyLinux)
		if kernel == "" {
			return fmt.Errorf("%w: deployment %s has no kernel", errors.ErrBootloaderWrite, d)
		}
		if i == 0 {
			lines = append(lines, "DEFAULT "+title)
		}
		lines = append(lines, "LABEL "+title)
		lines = append(lines, "\tKERNEL "+kernel)
		if initrd := cfg.Get(bootconfig.KeyInitrd); initrd != "" {
			lines = append(lines, "\tINITRD "+initrd)
		}
		if options := cfg.Get(bootconfig.KeyOptions); options != "" {
			lines = append(lines, "\tAPPEND "+options)
		}
	}

	content := strings.Join(lines, "\n") + "\n"
	target := fmt.Sprintf("boot/loader.%d/syslinux.cfg", newBootversion)
	if err := s.rw.WriteFile(target, []byte(content), fileio.DefaultFilePermissions); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrBootloaderWrite, err)
	}
	return nil
}

// filterForeignLines keeps every line not belonging to an engine-owned
// LABEL block, and drops the DEFAULT line for regeneration. A LABEL
// block ends at the next un-indented line; a block is ours when its
// KERNEL path starts with /ostree/.
func filterForeignLines(lines []string) ([]string, error) {
	var out []string
	var block []string
	parsingLabel := false
	kernelArg := ""

	flush := func() error {
		if !parsingLabel {
			return nil
		}
		if kernelArg == "" {
			return fmt.Errorf("no KERNEL argument found after LABEL")
		}
		if !strings.HasPrefix(kernelArg, "/ostree/") {
			out = append(out, block...)
		}
		parsingLabel = false
		block = nil
		kernelArg = ""
		return nil
	}

	for _, line := range lines {
		indented := strings.HasPrefix(line, "\t") || strings.HasPrefix(line, " ")
		switch {
		case !indented && strings.HasPrefix(line, "LABEL "):
			if err := flush(); err != nil {
				return nil, err
			}
			parsingLabel = true
			block = []string{line}
		case parsingLabel && indented:
			block = append(block, line)
			if strings.HasPrefix(line, "\tKERNEL ") {
				kernelArg = strings.TrimPrefix(line, "\tKERNEL ")
			}
		case !indented && strings.HasPrefix(line, "DEFAULT "):
			// the DEFAULT line is always regenerated to point at the
			// new first deployment
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			if err := flush(); err != nil {
				return nil, err
			}
			out = append(out, line)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
