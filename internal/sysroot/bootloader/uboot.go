package bootloader

import (
	"context"
	"fmt"
	"strings"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/pkg/log"
)

const ubootConfigPath = "boot/loader/uEnv.txt"

// Uboot maintains uEnv.txt inside the rotating loader directory. U-Boot
// has no menu here: only the default deployment is described.
type Uboot struct {
	rw  fileio.ReadWriter
	log *log.PrefixLogger
}

func NewUboot(rw fileio.ReadWriter, log *log.PrefixLogger) *Uboot {
	return &Uboot{rw: rw, log: log}
}

func (u *Uboot) Name() string { return string(KindUboot) }

func (u *Uboot) IsAtomic() bool { return true }

// Query reports uboot active when the live uEnv.txt is a regular file.
func (u *Uboot) Query() (bool, error) {
	info, err := u.rw.Stat(ubootConfigPath)
	if err != nil {
		if fileio.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (u *Uboot) WriteConfig(ctx context.Context, newBootversion int, deployments []*deployment.Deployment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(deployments) == 0 {
		return fmt.Errorf("%w: empty deployment list", errors.ErrBootloaderWrite)
	}

	cfg := deployments[0].BootConfig()
	kernel := cfg.Get(bootconfig.KeyLinux)
	if kernel == "" {
		return fmt.Errorf("%w: deployment %s has no kernel", errors.ErrBootloaderWrite, deployments[0])
	}

	lines := []string{"kernel_image=" + kernel}
	if initrd := cfg.Get(bootconfig.KeyInitrd); initrd != "" {
		lines = append(lines, "ramdisk_image="+initrd)
	}
	if options := cfg.Get(bootconfig.KeyOptions); options != "" {
		lines = append(lines, "bootargs="+options)
	}

	target := fmt.Sprintf("boot/loader.%d/uEnv.txt", newBootversion)
	content := strings.Join(lines, "\n") + "\n"
	if err := u.rw.WriteFile(target, []byte(content), fileio.DefaultFilePermissions); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrBootloaderWrite, err)
	}
	return nil
}
