package bootloader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/pkg/executer"
	"github.com/bootwright/bootwright/pkg/log"
)

const (
	grub2BiosConfigPath = "boot/grub2/grub.cfg"
	grub2EfiDir         = "boot/efi/EFI"

	// Environment handed to the grub2-mkconfig generator script so its
	// ostree snippet emits entries for the not-yet-visible bootversion.
	grub2EnvBootversion = "_OSTREE_GRUB2_BOOTVERSION"
	grub2EnvIsEFI       = "_OSTREE_GRUB2_IS_EFI"
)

// Grub2 regenerates grub.cfg through grub2-mkconfig. On EFI the config
// lives on a FAT ESP where rename is not atomic, so the swap keeps a
// .old backup and the writer adds an extra sync.
type Grub2 struct {
	rw   fileio.ReadWriter
	exec executer.Executer
	log  *log.PrefixLogger
}

func NewGrub2(rw fileio.ReadWriter, exec executer.Executer, log *log.PrefixLogger) *Grub2 {
	return &Grub2{rw: rw, exec: exec, log: log}
}

func (g *Grub2) Name() string { return string(KindGrub2) }

func (g *Grub2) IsAtomic() bool {
	efiConfig, _ := g.efiConfigPath()
	return efiConfig == ""
}

func (g *Grub2) Query() (bool, error) {
	exists, err := g.rw.PathExists(grub2BiosConfigPath)
	if err != nil {
		return false, err
	}
	if exists {
		return true, nil
	}
	efiConfig, err := g.efiConfigPath()
	if err != nil {
		return false, err
	}
	return efiConfig != "", nil
}

// efiConfigPath finds boot/efi/EFI/*/grub.cfg, or "" when absent.
func (g *Grub2) efiConfigPath() (string, error) {
	entries, err := g.rw.ReadDir(grub2EfiDir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(grub2EfiDir, entry.Name(), "grub.cfg")
		exists, err := g.rw.PathExists(candidate)
		if err != nil {
			return "", err
		}
		if exists {
			return candidate, nil
		}
	}
	return "", nil
}

func (g *Grub2) WriteConfig(ctx context.Context, newBootversion int, deployments []*deployment.Deployment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	efiConfig, err := g.efiConfigPath()
	if err != nil {
		return err
	}
	isEFI := efiConfig != ""
	configPath := grub2BiosConfigPath
	if isEFI {
		configPath = efiConfig
	}

	newConfig := configPath + ".new"
	if err := g.runMkconfig(ctx, newBootversion, isEFI, newConfig); err != nil {
		return err
	}

	if isEFI {
		// FAT has no atomic rename; keep the old config recoverable.
		exists, err := g.rw.PathExists(configPath)
		if err != nil {
			return err
		}
		if exists {
			if err := g.rw.Rename(configPath, configPath+".old"); err != nil {
				return fmt.Errorf("%w: backing up grub.cfg: %w", errors.ErrBootloaderWrite, err)
			}
		}
	}
	if err := g.rw.Rename(newConfig, configPath); err != nil {
		return fmt.Errorf("%w: installing grub.cfg: %w", errors.ErrBootloaderWrite, err)
	}
	return nil
}

func (g *Grub2) runMkconfig(ctx context.Context, newBootversion int, isEFI bool, outputPath string) error {
	name := "grub2-mkconfig"
	if _, err := g.exec.LookPath(name); err != nil {
		name = "grub-mkconfig"
	}
	cmd := g.exec.CommandContext(ctx, name, "-o", g.rw.PathFor(outputPath))
	cmd.Env = append(cmd.Environ(),
		fmt.Sprintf("%s=%d", grub2EnvBootversion, newBootversion),
		fmt.Sprintf("%s=%d", grub2EnvIsEFI, boolToInt(isEFI)),
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %w: %s", errors.ErrBootloaderWrite, name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// WriteMenuEntries renders the grub2 menuentry stanzas for the
// deployment vector. The grub2-mkconfig ostree snippet shells back into
// this emitter, keeping menu generation in one place.
func WriteMenuEntries(w io.Writer, deployments []*deployment.Deployment, isEFI bool) error {
	kernelCmd, initrdCmd := "linux16", "initrd16"
	if isEFI {
		kernelCmd, initrdCmd = "linuxefi", "initrdefi"
	}

	for _, d := range deployments {
		cfg := d.BootConfig()
		title := cfg.Get(bootconfig.KeyTitle)
		if title == "" {
			title = "(untitled)"
		}
		kernel := cfg.Get(bootconfig.KeyLinux)
		if kernel == "" {
			return fmt.Errorf("%w: deployment %s has no kernel", errors.ErrBootloaderWrite, d)
		}

		quoted := strings.ReplaceAll(title, "'", "'\\''")
		if _, err := fmt.Fprintf(w, "menuentry '%s' {\n", quoted); err != nil {
			return err
		}
		options := cfg.Get(bootconfig.KeyOptions)
		if _, err := fmt.Fprintf(w, "%s %s %s\n", kernelCmd, kernel, options); err != nil {
			return err
		}
		if initrd := cfg.Get(bootconfig.KeyInitrd); initrd != "" {
			if _, err := fmt.Fprintf(w, "%s %s\n", initrdCmd, initrd); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, "}"); err != nil {
			return err
		}
	}
	return nil
}
