// Package bootloader writes bootloader-native configuration for the
// BLS entries the deployment writer maintains. Each supported
// bootloader is a concrete driver behind one interface; dispatch is
// static per kind.
package bootloader

import (
	"context"
	"fmt"

	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/pkg/executer"
	"github.com/bootwright/bootwright/pkg/log"
)

// UpdateStamp marks a pending external bootloader installer run. It is
// placed before the visible cutover and survives a crash, so the next
// successful write re-runs the tool.
const UpdateStamp = "boot/ostree-bootloader-update.stamp"

// Kind names a concrete bootloader driver.
type Kind string

const (
	KindGrub2    Kind = "grub2"
	KindSyslinux Kind = "syslinux"
	KindUboot    Kind = "uboot"
	KindAboot    Kind = "aboot"
	KindZipl     Kind = "zipl"
	KindNone     Kind = "none"
)

// Bootloader is the driver contract the deployment writer relies on.
type Bootloader interface {
	// Name returns the driver kind for logging.
	Name() string
	// Query reports whether this bootloader is active on the host.
	Query() (bool, error)
	// WriteConfig emits bootloader-native config referencing
	// boot/loader.<newBootversion>/ for the given deployment vector.
	WriteConfig(ctx context.Context, newBootversion int, deployments []*deployment.Deployment) error
	// IsAtomic reports whether the backend's own config swap is atomic.
	// Non-atomic backends get an extra sync from the writer before the
	// cutover.
	IsAtomic() bool
}

// PostBLSSyncer is implemented by drivers that must run an external
// installer after the visible cutover (zipl, aboot-deploy).
type PostBLSSyncer interface {
	// PostBLSSync runs the external tool and clears the update stamp.
	PostBLSSync(ctx context.Context) error
}

// Probe detects the active bootloader: grub2 by its config file,
// syslinux by its config symlink, uboot by uEnv.txt. aboot and zipl are
// never auto-detected. A host with none returns (nil, nil).
func Probe(rw fileio.ReadWriter, exec executer.Executer, logger *log.PrefixLogger) (Bootloader, error) {
	for _, bl := range []Bootloader{
		NewGrub2(rw, exec, logger),
		NewSyslinux(rw, logger),
		NewUboot(rw, logger),
	} {
		active, err := bl.Query()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errors.ErrBootloaderProbe, bl.Name(), err)
		}
		if active {
			logger.Infof("Detected bootloader: %s", bl.Name())
			return bl, nil
		}
	}
	return nil, nil
}

// ForKind constructs the driver for an explicitly configured kind.
func ForKind(kind Kind, rw fileio.ReadWriter, exec executer.Executer, logger *log.PrefixLogger) (Bootloader, error) {
	switch kind {
	case KindGrub2:
		return NewGrub2(rw, exec, logger), nil
	case KindSyslinux:
		return NewSyslinux(rw, logger), nil
	case KindUboot:
		return NewUboot(rw, logger), nil
	case KindAboot:
		return NewAboot(rw, exec, logger), nil
	case KindZipl:
		return NewZipl(rw, exec, logger), nil
	case KindNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown bootloader kind %q", errors.ErrBootloaderProbe, kind)
	}
}

// writeStamp records a pending post-BLS tool run.
func writeStamp(rw fileio.ReadWriter, kind Kind) error {
	return rw.WriteFile(UpdateStamp, []byte(string(kind)+"\n"), fileio.DefaultFilePermissions)
}

// StampPresent reports whether a post-BLS tool run is pending.
func StampPresent(rw fileio.Reader) (bool, error) {
	return rw.PathExists(UpdateStamp)
}
