package errors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// sysroot state
	ErrNotBooted       = errors.New("no booted deployment")
	ErrNotLoaded       = errors.New("sysroot not loaded")
	ErrCorruptedLayout = errors.New("corrupted sysroot layout")
	ErrLockContended   = errors.New("sysroot lock is held by another process")

	// deployments
	ErrAlreadyExists      = errors.New("deployment already exists")
	ErrMissingCheckout    = errors.New("deployment has no checkout directory")
	ErrBootedNotInNewList = errors.New("booted deployment missing from new deployment list")
	ErrInvalidOsname      = errors.New("invalid osname")
	ErrInvalidChecksum    = errors.New("invalid commit checksum")

	// kernel staging
	ErrMissingKernel          = errors.New("no vmlinuz found in deployment tree")
	ErrKernelChecksumMismatch = errors.New("kernel and initramfs checksums differ")
	ErrStaleKernelPayload     = errors.New("staged kernel payload differs from deployment tree")

	// boot layout
	ErrInvalidBootlink      = errors.New("invalid ostree= boot argument")
	ErrInvalidBootversion   = errors.New("bootversion out of range")
	ErrDanglingBootlink     = errors.New("bootlink does not resolve to a deployment")
	ErrMissingBootEntryKeys = errors.New("boot entry missing required keys")

	// bootloader
	ErrBootloaderProbe = errors.New("probing bootloader failed")
	ErrBootloaderWrite = errors.New("writing bootloader configuration failed")

	// config merge
	ErrConfigMergeConflict = errors.New("deployment has both /etc and /usr/etc")

	// bootconfig parsing
	ErrAlreadyParsed = errors.New("boot configuration already parsed")

	// origin
	ErrInvalidOrigin = errors.New("invalid origin file")

	// cancellation
	ErrCancelled = context.Canceled
)

// Is is a convenience re-export so callers only import this package.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience re-export so callers only import this package.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New is a convenience re-export so callers only import this package.
func New(text string) error {
	return errors.New(text)
}

// Join is a convenience re-export so callers only import this package.
func Join(errs ...error) error {
	return errors.Join(errs...)
}

// Pathf wraps err with an operation and the path it failed on.
func Pathf(err error, op, path string) error {
	return fmt.Errorf("%s %q: %w", op, path, err)
}
