package sysroot

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/bootloader"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/events"
	"github.com/bootwright/bootwright/internal/sysroot/karg"
	"github.com/bootwright/bootwright/internal/sysroot/kernel"
)

// WriteDeployments transforms the on-disk state to reflect the new
// deployment vector, with exactly one atomic cutover. On return the
// in-memory state matches what Load would produce.
func (s *Sysroot) WriteDeployments(ctx context.Context, newDeployments []*deployment.Deployment) error {
	if !s.loaded {
		return errors.ErrNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	prepared, layouts, err := s.prepareVector(newDeployments)
	if err != nil {
		return err
	}

	previousCount := len(s.deployments)
	swapBootversion := s.requiresNewBootversion(prepared)
	if swapBootversion {
		if err := s.writeNewBootversion(ctx, prepared, layouts); err != nil {
			return err
		}
	} else {
		if err := s.writeSameBootversion(ctx, prepared); err != nil {
			return err
		}
	}

	booted := s.BootedDeployment()
	s.deployments = prepared
	s.bootedIndex = findDeploymentIndex(prepared, booted)

	s.emitter.Emit(events.IDDeploymentComplete,
		fmt.Sprintf("Transaction complete; bootconfig swap: %v; deployment count change: %+d", swapBootversion, len(prepared)-previousCount),
		map[string]string{
			"bootconfig_swap": strconv.FormatBool(swapBootversion),
			"n_deployments":   strconv.Itoa(len(prepared)),
		})

	// past the cutover cancellation is a no-op
	return s.Cleanup(context.WithoutCancel(ctx))
}

// prepareVector validates the input, derives boot checksums from each
// checkout and assigns bootserials and indices.
func (s *Sysroot) prepareVector(newDeployments []*deployment.Deployment) ([]*deployment.Deployment, []*kernel.Layout, error) {
	seen := map[string]bool{}
	layouts := make([]*kernel.Layout, 0, len(newDeployments))
	prepared := make([]*deployment.Deployment, 0, len(newDeployments))

	booted := s.BootedDeployment()
	foundBooted := booted == nil

	for _, d := range newDeployments {
		key := d.String()
		if seen[key] {
			return nil, nil, fmt.Errorf("%w: %s", errors.ErrAlreadyExists, d)
		}
		seen[key] = true
		if booted != nil && d.Equal(booted) {
			foundBooted = true
		}

		exists, err := s.rw.PathExists(d.Dir())
		if err != nil {
			return nil, nil, err
		}
		if !exists {
			return nil, nil, fmt.Errorf("%w: %s", errors.ErrMissingCheckout, d.Dir())
		}

		layout, err := kernel.Discover(s.rw, d.Dir())
		if err != nil {
			return nil, nil, err
		}
		layouts = append(layouts, layout)
		prepared = append(prepared, d.WithBootCsum(layout.BootCsum))
	}

	if !foundBooted {
		return nil, nil, fmt.Errorf("%w: %s", errors.ErrBootedNotInNewList, booted)
	}

	prepared = deployment.AssignBootSerials(prepared)
	for i, d := range prepared {
		prepared[i] = d.WithIndex(i)
	}
	return prepared, layouts, nil
}

// requiresNewBootversion reports whether the bootloader configuration
// changes: anything but an equal-length vector with pairwise equal
// (bootcsum, non-ostree options) forces a bootversion rotation.
func (s *Sysroot) requiresNewBootversion(newDeployments []*deployment.Deployment) bool {
	if len(newDeployments) != len(s.deployments) {
		return true
	}
	for i := range newDeployments {
		if !bootconfigsEqual(newDeployments[i], s.deployments[i]) {
			return true
		}
	}
	return false
}

// bootconfigsEqual compares the parts of two deployments that land in
// bootloader configuration: the kernel payload and the kernel command
// line with the per-write ostree= argument stripped.
func bootconfigsEqual(a, b *deployment.Deployment) bool {
	if a.BootCsum() != b.BootCsum() {
		return false
	}
	return optionsWithoutBootlink(a) == optionsWithoutBootlink(b)
}

func optionsWithoutBootlink(d *deployment.Deployment) string {
	cfg := d.BootConfig()
	if cfg == nil {
		return ""
	}
	args := karg.Parse(cfg.Get(bootconfig.KeyOptions))
	args.Delete("ostree")
	return args.String()
}

// writeSameBootversion is the fast path: only the bootlink farm under
// the current bootversion rotates.
func (s *Sysroot) writeSameBootversion(ctx context.Context, newDeployments []*deployment.Deployment) error {
	newSubbootversion := 1 - s.subbootversion
	if err := s.createBootlinks(ctx, s.bootversion, newSubbootversion, newDeployments); err != nil {
		return fmt.Errorf("creating new bootlinks: %w", err)
	}
	if err := s.fullSystemSync(); err != nil {
		return err
	}
	if err := s.swapBootlinks(s.bootversion, newSubbootversion); err != nil {
		return fmt.Errorf("swapping bootlinks: %w", err)
	}
	s.subbootversion = newSubbootversion
	return s.runPostBLSSync(context.WithoutCancel(ctx), nil)
}

// writeNewBootversion is the slow path: stage kernels, write new
// entries and bootlinks under bootversion 1-B, then cut over via the
// boot/loader rename.
func (s *Sysroot) writeNewBootversion(ctx context.Context, newDeployments []*deployment.Deployment, layouts []*kernel.Layout) error {
	newBootversion := 1 - s.bootversion
	if hasLoader, err := s.rw.PathExists("boot/loader"); err != nil {
		return err
	} else if !hasLoader {
		// fresh sysroot: nothing to preserve, install straight into
		// bootversion 0
		newBootversion = 0
	}

	guard, err := s.acquireBootMount()
	if err != nil {
		return err
	}
	defer guard.release(s)

	driver, err := s.bootloaderDriver()
	if err != nil {
		return err
	}

	entriesDir := fmt.Sprintf("boot/loader.%d/entries", newBootversion)
	if err := s.rw.RemoveAll(entriesDir); err != nil {
		return err
	}
	if err := s.rw.MkdirAll(entriesDir, 0o755); err != nil {
		return err
	}

	stager := kernel.NewStager(s.rw, s.log)
	for i, d := range newDeployments {
		if err := ctx.Err(); err != nil {
			return err
		}
		stageDir, err := stager.Stage(ctx, layouts[i], d.Osname())
		if err != nil {
			return err
		}
		entry, err := s.composeEntry(ctx, d, layouts[i], stageDir, newBootversion, len(newDeployments))
		if err != nil {
			return err
		}
		newDeployments[i] = d.WithBootConfig(entry)

		entryPath := filepath.Join(entriesDir, fmt.Sprintf("ostree-%s-%d.conf", d.Osname(), i))
		if err := s.rw.WriteFile(entryPath, entry.Bytes(), 0o644); err != nil {
			return err
		}
	}

	if err := s.createBootlinks(ctx, newBootversion, 0, newDeployments); err != nil {
		return fmt.Errorf("creating new bootlinks: %w", err)
	}
	if err := s.swapBootlinks(newBootversion, 0); err != nil {
		return fmt.Errorf("swapping new bootlinks: %w", err)
	}

	if driver != nil {
		if err := driver.WriteConfig(ctx, newBootversion, newDeployments); err != nil {
			return err
		}
		if !driver.IsAtomic() {
			// non-atomic backends get their config flushed before the
			// cutover so a crash never straddles a half-written file
			if err := s.rw.SyncFilesystem("boot"); err != nil {
				return err
			}
		}
	}

	if err := s.rw.RemoveFile("boot/loader.tmp"); err != nil {
		return err
	}
	if err := s.rw.Symlink(fmt.Sprintf("loader.%d", newBootversion), "boot/loader.tmp"); err != nil {
		return err
	}

	if err := s.fullSystemSync(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		// the new bootversion is fully built but not visible; the next
		// write rebuilds it
		return err
	}

	// the atomic cutover
	if err := s.rw.Rename("boot/loader.tmp", "boot/loader"); err != nil {
		return fmt.Errorf("swapping boot/loader: %w", err)
	}
	if err := s.rw.SyncDir("boot"); err != nil {
		return err
	}

	s.bootversion = newBootversion
	s.subbootversion = 0
	return s.runPostBLSSync(context.WithoutCancel(ctx), driver)
}

// runPostBLSSync drives external bootloader installers. A stamp left by
// a crashed earlier write is honored even when the current driver did
// not place one this run.
func (s *Sysroot) runPostBLSSync(ctx context.Context, driver bootloader.Bootloader) error {
	if driver == nil {
		present, err := bootloader.StampPresent(s.rw)
		if err != nil || !present {
			return err
		}
		var probeErr error
		driver, probeErr = s.bootloaderDriver()
		if probeErr != nil || driver == nil {
			s.log.Warnf("Bootloader update stamp present but no driver available")
			return nil
		}
	}

	syncer, ok := driver.(bootloader.PostBLSSyncer)
	if !ok {
		return nil
	}
	// past the cutover: failures are logged for retry, not rolled back
	if err := syncer.PostBLSSync(ctx); err != nil {
		s.log.Errorf("Post-cutover bootloader sync failed (will retry on next write): %v", err)
	}
	return nil
}

func (s *Sysroot) bootloaderDriver() (bootloader.Bootloader, error) {
	if s.bootloaderKind != "" {
		return bootloader.ForKind(s.bootloaderKind, s.rw, s.exec, s.log)
	}
	return bootloader.Probe(s.rw, s.exec, s.log)
}

// composeEntry builds the BLS entry for one deployment.
func (s *Sysroot) composeEntry(ctx context.Context, d *deployment.Deployment, layout *kernel.Layout, stageDir string, newBootversion, total int) (*bootconfig.BootConfig, error) {
	var entry *bootconfig.BootConfig
	if d.BootConfig() != nil {
		entry = d.BootConfig().Clone()
	} else {
		entry = bootconfig.New()
	}

	entry.Set(bootconfig.KeyTitle, s.deriveTitle(ctx, d))
	entry.Set(bootconfig.KeyVersion, strconv.Itoa(total-d.Index()))

	// paths are bootloader-root relative: /boot is the bootloader's /
	bootRel := strings.TrimPrefix(stageDir, "boot")
	entry.Set(bootconfig.KeyLinux, bootRel+"/vmlinuz")
	if layout.Initramfs != "" {
		entry.Set(bootconfig.KeyInitrd, bootRel+"/initramfs")
	} else {
		entry.Delete(bootconfig.KeyInitrd)
	}
	if layout.Devicetree != "" {
		entry.Set(bootconfig.KeyDevicetree, bootRel+"/devicetree")
	} else {
		entry.Delete(bootconfig.KeyDevicetree)
	}

	args := karg.Parse(entry.Get(bootconfig.KeyOptions))
	args.Replace("ostree=" + d.BootlinkPath(newBootversion))
	entry.Set(bootconfig.KeyOptions, args.String())
	return entry, nil
}

// deriveTitle combines the tree's os-release name, the commit version
// when the object store is attached, and the marker the bootloader
// emitters key on.
func (s *Sysroot) deriveTitle(ctx context.Context, d *deployment.Deployment) string {
	name := s.osReleaseName(d)
	version := ""
	if s.repo != nil {
		if meta, err := s.repo.LoadCommitMetadata(ctx, d.Csum()); err == nil && meta.Version != "" {
			version = meta.Version
		}
	}

	title := name
	if version != "" {
		title += " " + version
	}
	return fmt.Sprintf("%s (ostree:%s:%d)", title, d.Osname(), d.Index())
}

func (s *Sysroot) osReleaseName(d *deployment.Deployment) string {
	for _, rel := range []string{"usr/lib/os-release", "etc/os-release"} {
		data, err := s.rw.ReadFile(filepath.Join(d.Dir(), rel))
		if err != nil {
			continue
		}
		fields := parseOSRelease(string(data))
		if v := fields["PRETTY_NAME"]; v != "" {
			return v
		}
		if v := fields["ID"]; v != "" {
			return v
		}
	}
	return "OSTree"
}

func parseOSRelease(content string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		out[key] = value
	}
	return out
}

// fullSystemSync bounds the window a power loss can reorder writes
// across: syncfs on the sysroot and boot filesystems plus a global
// sync.
func (s *Sysroot) fullSystemSync() error {
	if err := s.rw.SyncFilesystem("."); err != nil {
		return err
	}
	if exists, err := s.rw.PathExists("boot"); err == nil && exists {
		if err := s.rw.SyncFilesystem("boot"); err != nil {
			return err
		}
	}
	unix.Sync()
	return nil
}

// findDeploymentIndex locates target by identity, or -1.
func findDeploymentIndex(deployments []*deployment.Deployment, target *deployment.Deployment) int {
	if target == nil {
		return -1
	}
	for i, d := range deployments {
		if d.Equal(target) {
			return i
		}
	}
	return -1
}
