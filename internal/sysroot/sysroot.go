// Package sysroot implements the deployment engine: loading the
// on-disk deployment state, atomically writing a new deployment vector
// with bootloader integration, and garbage-collecting what the write
// leaves behind.
package sysroot

import (
	"os"
	"strings"
	"time"

	"github.com/bootwright/bootwright/internal/sysroot/bootloader"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/events"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/internal/sysroot/repo"
	"github.com/bootwright/bootwright/internal/sysroot/selinux"
	"github.com/bootwright/bootwright/pkg/executer"
	"github.com/bootwright/bootwright/pkg/log"
)

const (
	// DebugEnv holds comma-separated debug flags.
	DebugEnv = "OSTREE_SYSROOT_DEBUG"

	debugMutableDeployments = "mutable-deployments"
	debugNoXattrs           = "no-xattrs"

	lockPath = "ostree/lock"
)

// debugFlags are the OSTREE_SYSROOT_DEBUG toggles.
type debugFlags struct {
	// mutableDeployments skips the immutable flag on deployment roots
	mutableDeployments bool
	// noXattrs suppresses xattr copying
	noXattrs bool
}

func parseDebugFlags(value string) debugFlags {
	var flags debugFlags
	for _, f := range strings.Split(value, ",") {
		switch strings.TrimSpace(f) {
		case debugMutableDeployments:
			flags.mutableDeployments = true
		case debugNoXattrs:
			flags.noXattrs = true
		}
	}
	return flags
}

// Sysroot is a handle on one physical root. Loading populates the
// deployment state; the writer consumes and replaces it.
type Sysroot struct {
	rw      fileio.ReadWriter
	exec    executer.Executer
	policy  selinux.Policy
	emitter *events.Emitter
	log     *log.PrefixLogger
	debug   debugFlags
	repo    repo.Repo

	// explicit bootloader choice; empty means probe
	bootloaderKind bootloader.Kind

	lock *sysrootLock

	// state populated by Load
	loaded         bool
	bootversion    int
	subbootversion int
	deployments    []*deployment.Deployment
	bootedIndex    int
	loadedMtime    time.Time
}

type Option func(*Sysroot)

// WithRepo attaches the object store, enabling commit checkout,
// version metadata in menu titles, and pruning during cleanup.
func WithRepo(r repo.Repo) Option {
	return func(s *Sysroot) {
		s.repo = r
	}
}

// WithPolicy installs the SELinux labeling oracle.
func WithPolicy(policy selinux.Policy) Option {
	return func(s *Sysroot) {
		s.policy = policy
	}
}

// WithExecuter overrides process execution (tests, dry runs).
func WithExecuter(exec executer.Executer) Option {
	return func(s *Sysroot) {
		s.exec = exec
	}
}

// WithBootloader pins the bootloader driver instead of probing.
func WithBootloader(kind bootloader.Kind) Option {
	return func(s *Sysroot) {
		s.bootloaderKind = kind
	}
}

// New returns a sysroot rooted at rootDir ("/" on a real host).
func New(rootDir string, logger *log.PrefixLogger, options ...Option) *Sysroot {
	s := &Sysroot{
		rw:          fileio.NewRootedReadWriter(rootDir),
		exec:        executer.NewCommonExecuter(),
		policy:      selinux.NewNopPolicy(),
		log:         logger,
		debug:       parseDebugFlags(os.Getenv(DebugEnv)),
		bootedIndex: -1,
	}
	for _, o := range options {
		o(s)
	}
	s.emitter = events.NewEmitter(s.log)
	s.lock = newSysrootLock(s.rw.PathFor(lockPath))
	return s
}

// Bootversion returns the loaded bootversion.
func (s *Sysroot) Bootversion() int { return s.bootversion }

// Subbootversion returns the loaded subbootversion.
func (s *Sysroot) Subbootversion() int { return s.subbootversion }

// Deployments returns the loaded deployments in menu order.
func (s *Sysroot) Deployments() []*deployment.Deployment {
	return append([]*deployment.Deployment(nil), s.deployments...)
}

// BootedDeployment returns the running deployment, or nil when the
// process runs outside any deployment (installer mode).
func (s *Sysroot) BootedDeployment() *deployment.Deployment {
	if s.bootedIndex < 0 || s.bootedIndex >= len(s.deployments) {
		return nil
	}
	return s.deployments[s.bootedIndex]
}

// copyOpts renders the debug flags as fileio copy options.
func (s *Sysroot) copyOpts() []fileio.CopyOption {
	if s.debug.noXattrs {
		return []fileio.CopyOption{fileio.WithSkipXattrs()}
	}
	return nil
}
