package sysroot

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/internal/sysroot/karg"
)

// Load reads the on-disk layout into the sysroot state. It takes no
// lock; the result is a consistent snapshot because every writer swap
// is a single rename.
func (s *Sysroot) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	bootversion, err := s.readBootversion()
	if err != nil {
		return err
	}
	subbootversion, err := s.readSubbootversion(bootversion)
	if err != nil {
		return err
	}

	entries, err := s.readLoaderEntries(bootversion)
	if err != nil {
		return err
	}

	deployments := make([]*deployment.Deployment, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := s.deploymentForEntry(bootversion, subbootversion, entry)
		if err != nil {
			return err
		}
		deployments = append(deployments, d.WithIndex(len(deployments)))
	}

	bootedIndex, err := s.findBootedIndex(deployments)
	if err != nil {
		return err
	}

	var loadedMtime = s.loadedMtime
	if info, err := s.rw.Lstat("ostree/deploy"); err == nil {
		loadedMtime = info.ModTime()
	}

	s.bootversion = bootversion
	s.subbootversion = subbootversion
	s.deployments = deployments
	s.bootedIndex = bootedIndex
	s.loadedMtime = loadedMtime
	s.loaded = true
	return nil
}

// readBootversion resolves boot/loader; an empty sysroot is version 0.
func (s *Sysroot) readBootversion() (int, error) {
	target, err := s.rw.Readlink("boot/loader")
	if err != nil {
		if fileio.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read boot/loader: %w", err)
	}
	switch target {
	case "loader.0":
		return 0, nil
	case "loader.1":
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: boot/loader points at %q", errors.ErrCorruptedLayout, target)
	}
}

// readSubbootversion resolves ostree/boot.<B>; absent means 0.
func (s *Sysroot) readSubbootversion(bootversion int) (int, error) {
	link := fmt.Sprintf("ostree/boot.%d", bootversion)
	target, err := s.rw.Readlink(link)
	if err != nil {
		if fileio.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", link, err)
	}
	switch target {
	case fmt.Sprintf("boot.%d.0", bootversion):
		return 0, nil
	case fmt.Sprintf("boot.%d.1", bootversion):
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %s points at %q", errors.ErrCorruptedLayout, link, target)
	}
}

type loaderEntry struct {
	name   string
	config *bootconfig.BootConfig
}

// readLoaderEntries parses boot/loader.<B>/entries/*.conf in menu
// order: version key descending (natural compare), entries without a
// version last, file-name order breaking ties.
func (s *Sysroot) readLoaderEntries(bootversion int) ([]loaderEntry, error) {
	dir := fmt.Sprintf("boot/loader.%d/entries", bootversion)
	dirEntries, err := s.rw.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []loaderEntry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".conf") {
			continue
		}
		data, err := s.rw.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, err
		}
		cfg := bootconfig.New()
		if err := cfg.Parse(data); err != nil {
			return nil, fmt.Errorf("parse %s: %w", de.Name(), err)
		}
		entries = append(entries, loaderEntry{name: de.Name(), config: cfg})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		vi, iok := entries[i].config.Lookup(bootconfig.KeyVersion)
		vj, jok := entries[j].config.Lookup(bootconfig.KeyVersion)
		switch {
		case iok && !jok:
			return true
		case !iok && jok:
			return false
		case !iok && !jok:
			return entries[i].name < entries[j].name
		}
		if c := compareVersions(vi, vj); c != 0 {
			return c > 0
		}
		return entries[i].name < entries[j].name
	})
	return entries, nil
}

// deploymentForEntry resolves one loader entry through the bootlink
// farm back to its checkout.
func (s *Sysroot) deploymentForEntry(bootversion, subbootversion int, entry loaderEntry) (*deployment.Deployment, error) {
	options := entry.config.Get(bootconfig.KeyOptions)
	ostreeArg, ok := karg.Parse(options).LastValue("ostree")
	if !ok || ostreeArg == "" {
		return nil, fmt.Errorf("%w: entry %s has no ostree= argument", errors.ErrInvalidBootlink, entry.name)
	}

	osname, bootCsum, bootSerial, err := parseBootlinkArg(ostreeArg, bootversion)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", entry.name, err)
	}

	bootlink := fmt.Sprintf("ostree/boot.%d.%d/%s/%s/%d", bootversion, subbootversion, osname, bootCsum, bootSerial)
	target, err := s.rw.Readlink(bootlink)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errors.ErrDanglingBootlink, bootlink, err)
	}

	csum, deploySerial, err := parseCheckoutName(filepath.Base(target))
	if err != nil {
		return nil, fmt.Errorf("bootlink %s: %w", bootlink, err)
	}

	d, err := deployment.New(osname, csum, deploySerial)
	if err != nil {
		return nil, err
	}
	d = d.WithBootCsum(bootCsum).WithBootSerial(bootSerial).WithBootConfig(entry.config)

	originData, err := s.rw.ReadFile(d.OriginPath())
	if err == nil {
		origin, err := deployment.ParseOrigin(originData)
		if err != nil {
			return nil, fmt.Errorf("origin for %s: %w", d, err)
		}
		d = d.WithOrigin(origin)
	} else if !fileio.IsNotExist(err) {
		return nil, err
	}
	return d, nil
}

// parseBootlinkArg validates `/ostree/boot.<B>/<osname>/<bootcsum>/<bootserial>`.
func parseBootlinkArg(arg string, bootversion int) (osname, bootCsum string, bootSerial int, err error) {
	parts := strings.Split(arg, "/")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "ostree" {
		return "", "", 0, fmt.Errorf("%w: %q", errors.ErrInvalidBootlink, arg)
	}
	if parts[2] != fmt.Sprintf("boot.%d", bootversion) {
		return "", "", 0, fmt.Errorf("%w: %q references a different bootversion than %d", errors.ErrInvalidBootlink, arg, bootversion)
	}
	serial, convErr := strconv.Atoi(parts[5])
	if convErr != nil || serial < 0 {
		return "", "", 0, fmt.Errorf("%w: bad bootserial in %q", errors.ErrInvalidBootlink, arg)
	}
	if err := deployment.ValidateChecksum(parts[4]); err != nil {
		return "", "", 0, err
	}
	return parts[3], parts[4], serial, nil
}

// parseCheckoutName splits `<csum>.<deployserial>`.
func parseCheckoutName(name string) (string, int, error) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return "", 0, fmt.Errorf("%w: malformed checkout name %q", errors.ErrCorruptedLayout, name)
	}
	serial, err := strconv.Atoi(name[idx+1:])
	if err != nil || serial < 0 {
		return "", 0, fmt.Errorf("%w: malformed deploy serial in %q", errors.ErrCorruptedLayout, name)
	}
	csum := name[:idx]
	if err := deployment.ValidateChecksum(csum); err != nil {
		return "", 0, err
	}
	return csum, serial, nil
}

// findBootedIndex locates the deployment whose root is the same inode
// as the live /. When / lives on another device this is an installer
// run and nothing is booted.
func (s *Sysroot) findBootedIndex(deployments []*deployment.Deployment) (int, error) {
	rootInfo, err := s.rw.Stat("/")
	if err != nil {
		return -1, err
	}
	rootStat, ok := rootInfo.Sys().(*syscall.Stat_t)
	if !ok {
		return -1, nil
	}

	liveInfo, err := liveRootStat()
	if err != nil {
		return -1, err
	}
	if liveInfo.Dev != rootStat.Dev {
		// installer mode
		return -1, nil
	}

	for i, d := range deployments {
		info, err := s.rw.Stat(d.Dir())
		if err != nil {
			if fileio.IsNotExist(err) {
				continue
			}
			return -1, err
		}
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			if st.Dev == liveInfo.Dev && st.Ino == liveInfo.Ino {
				return i, nil
			}
		}
	}
	return -1, nil
}

func liveRootStat() (*syscall.Stat_t, error) {
	var st syscall.Stat_t
	if err := syscall.Stat("/", &st); err != nil {
		return nil, err
	}
	return &st, nil
}
