// Package selinux defines the labeling oracle the deployment engine
// consults when materializing trees. The engine never computes labels
// itself; policy lookup lives behind this interface so hosts without
// SELinux run with the no-op policy.
package selinux

import (
	"io/fs"
)

// RestoreconFlags adjust Restorecon behavior.
type RestoreconFlags uint

const (
	// AllowNoLabel tolerates paths the policy has no label for.
	AllowNoLabel RestoreconFlags = 1 << iota
	// KeepExisting leaves already-labeled paths untouched.
	KeepExisting
)

// Policy answers labeling queries for paths relative to a deployment
// root.
type Policy interface {
	// Name identifies the loaded policy, or "" when none is loaded.
	Name() string
	// LabelFor returns the label for relpath with the given mode, and
	// whether the policy defines one.
	LabelFor(relpath string, mode fs.FileMode) (string, bool, error)
	// Restorecon applies the policy label to the file at fullPath
	// (resolved by the caller), keyed by relpath and mode.
	Restorecon(relpath, fullPath string, mode fs.FileMode, flags RestoreconFlags) error
	// WithFscreateLabel acquires the creation label for relpath/mode
	// for the duration of fn, so files created inside fn are born with
	// the right label.
	WithFscreateLabel(relpath string, mode fs.FileMode, fn func() error) error
}

// nopPolicy is the policy of a host without SELinux.
type nopPolicy struct{}

// NewNopPolicy returns a policy that labels nothing.
func NewNopPolicy() Policy {
	return nopPolicy{}
}

func (nopPolicy) Name() string { return "" }

func (nopPolicy) LabelFor(string, fs.FileMode) (string, bool, error) {
	return "", false, nil
}

func (nopPolicy) Restorecon(string, string, fs.FileMode, RestoreconFlags) error {
	return nil
}

func (nopPolicy) WithFscreateLabel(_ string, _ fs.FileMode, fn func() error) error {
	return fn()
}
