package sysroot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/pkg/poll"
)

// sysrootLock serializes writers via an advisory exclusive flock on
// ostree/lock. Readers that only load state take no lock.
type sysrootLock struct {
	fl *flock.Flock
}

func newSysrootLock(path string) *sysrootLock {
	return &sysrootLock{fl: flock.New(path)}
}

func (l *sysrootLock) ensureParent() error {
	return os.MkdirAll(filepath.Dir(l.fl.Path()), 0o755)
}

// Lock blocks until the exclusive lock is acquired or ctx is done.
func (s *Sysroot) Lock(ctx context.Context) error {
	if err := s.lock.ensureParent(); err != nil {
		return err
	}
	// flock has no native context support for the blocking path; poll
	// with backoff so cancellation stays responsive.
	return poll.BackoffWithContext(ctx, poll.Config{
		BaseDelay: 50 * time.Millisecond,
		Factor:    1.5,
		MaxDelay:  time.Second,
	}, func(context.Context) (bool, error) {
		return s.lock.fl.TryLock()
	})
}

// TryLock acquires the lock without blocking.
func (s *Sysroot) TryLock() error {
	if err := s.lock.ensureParent(); err != nil {
		return err
	}
	locked, err := s.lock.fl.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return fmt.Errorf("%w: %s", errors.ErrLockContended, s.lock.fl.Path())
	}
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (s *Sysroot) Unlock() {
	_ = s.lock.fl.Unlock()
}
