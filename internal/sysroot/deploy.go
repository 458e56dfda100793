package sysroot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/etcmerge"
	"github.com/bootwright/bootwright/internal/sysroot/events"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/internal/sysroot/karg"
	"github.com/bootwright/bootwright/internal/sysroot/selinux"
)

// selabeledStamp marks a stateroot's /var as having been labeled once.
const selabeledStamp = ".ostree-selabeled"

// InitOsname creates the stateroot skeleton for a new osname: the
// shared var and the deploy directory.
func (s *Sysroot) InitOsname(osname string) error {
	if err := deployment.ValidateOsname(osname); err != nil {
		return err
	}
	for _, dir := range []string{
		filepath.Join("ostree/deploy", osname, "var"),
		filepath.Join("ostree/deploy", osname, "var/tmp"),
		filepath.Join("ostree/deploy", osname, "var/lib"),
		filepath.Join("ostree/deploy", osname, "deploy"),
	} {
		if err := s.rw.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// DeployCommit checks out a commit as a new deployment under osname:
// the checkout itself, the merged /etc, the one-time var relabel, and
// the origin file. The returned deployment is not yet installed; the
// caller composes a vector and passes it to WriteDeployments.
func (s *Sysroot) DeployCommit(ctx context.Context, osname, csum string, origin *deployment.Origin, kargs []string) (*deployment.Deployment, error) {
	if !s.loaded {
		return nil, errors.ErrNotLoaded
	}
	if s.repo == nil {
		return nil, fmt.Errorf("deploying requires an attached object store")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.InitOsname(osname); err != nil {
		return nil, err
	}

	serial := deployment.AllocateDeploySerial(s.deployments, osname, csum)
	d, err := deployment.New(osname, csum, serial)
	if err != nil {
		return nil, err
	}
	d = d.WithOrigin(origin)

	exists, err := s.rw.PathExists(d.Dir())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", errors.ErrAlreadyExists, d)
	}

	s.log.Infof("Checking out %s", d)
	if err := s.repo.Checkout(ctx, csum, s.rw.PathFor(d.Dir())); err != nil {
		return nil, fmt.Errorf("checkout %s: %w", d, err)
	}

	previous := s.mergeSource(osname)
	merger := etcmerge.NewMerger(s.rw, s.policy, s.emitter, s.log, s.copyOpts()...)
	previousDir := ""
	if previous != nil {
		previousDir = previous.Dir()
	}
	if _, err := merger.Merge(ctx, previousDir, d.Dir()); err != nil {
		return nil, err
	}

	if err := s.relabelVarOnce(d.Osname()); err != nil {
		return nil, err
	}

	d = d.WithBootConfig(s.initialBootConfig(previous, kargs))

	if origin != nil {
		data, err := origin.Bytes()
		if err != nil {
			return nil, err
		}
		if err := s.rw.WriteFile(d.OriginPath(), data, fileio.DefaultFilePermissions); err != nil {
			return nil, err
		}
	}

	if !s.debug.mutableDeployments {
		if err := s.rw.SetImmutable(d.Dir(), true); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// mergeSource picks the deployment whose /etc carries forward: the
// booted one when it shares the osname, else the newest deployment of
// that osname.
func (s *Sysroot) mergeSource(osname string) *deployment.Deployment {
	if booted := s.BootedDeployment(); booted != nil && booted.Osname() == osname {
		return booted
	}
	for _, d := range s.deployments {
		if d.Osname() == osname {
			return d
		}
	}
	return nil
}

// initialBootConfig seeds the new deployment's kernel arguments:
// explicit kargs win, otherwise the merge source's options minus its
// per-write bootlink.
func (s *Sysroot) initialBootConfig(previous *deployment.Deployment, kargs []string) *bootconfig.BootConfig {
	cfg := bootconfig.New()
	if len(kargs) > 0 {
		args := &karg.Args{}
		for _, k := range kargs {
			args.Append(k)
		}
		cfg.Set(bootconfig.KeyOptions, args.String())
		return cfg
	}
	if previous != nil && previous.BootConfig() != nil {
		args := karg.Parse(previous.BootConfig().Get(bootconfig.KeyOptions))
		args.Delete("ostree")
		cfg.Set(bootconfig.KeyOptions, args.String())
	}
	return cfg
}

// relabelVarOnce labels the stateroot's /var on its first deployment and
// writes the stamp that makes this one-shot. Without a loaded policy only
// the stamp is written, so /var is not relabeled by later deployments
// either.
func (s *Sysroot) relabelVarOnce(osname string) error {
	varDir := filepath.Join("ostree/deploy", osname, "var")
	stamp := filepath.Join(varDir, selabeledStamp)
	exists, err := s.rw.PathExists(stamp)
	if err != nil || exists {
		return err
	}

	if s.policy.Name() != "" {
		if err := selinux.RelabelRecursively(s.rw, s.policy, varDir, "/var", selinux.AllowNoLabel); err != nil {
			return err
		}
		s.emitter.Emit(events.IDVarRelabel, fmt.Sprintf("Relabeled %s", varDir), map[string]string{
			"stateroot": osname,
		})
	}

	if err := s.rw.WriteFile(stamp, nil, fileio.DefaultFilePermissions); err != nil {
		return err
	}
	if s.policy.Name() != "" {
		if err := s.policy.Restorecon("/var/"+selabeledStamp, s.rw.PathFor(stamp), 0o644, selinux.AllowNoLabel); err != nil {
			return err
		}
	}
	return nil
}

// ComposeVector builds the deployment list for a fresh deployment: the
// new tree first, then the booted deployment and any pinned ones, in
// their current order.
func (s *Sysroot) ComposeVector(newDeployment *deployment.Deployment) []*deployment.Deployment {
	out := []*deployment.Deployment{newDeployment}
	booted := s.BootedDeployment()
	for _, d := range s.deployments {
		keep := (booted != nil && d.Equal(booted)) ||
			(d.Origin() != nil && d.Origin().Pinned())
		if keep && !d.Equal(newDeployment) {
			out = append(out, d)
		}
	}
	return out
}

// ParseRefspec splits `<remote>:<ref>`, tolerating a bare ref.
func ParseRefspec(refspec string) (remote, ref string) {
	if idx := strings.IndexByte(refspec, ':'); idx >= 0 {
		return refspec[:idx], refspec[idx+1:]
	}
	return "", refspec
}
