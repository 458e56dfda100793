package selinux

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bootwright/bootwright/internal/sysroot/fileio"
)

// recordingPolicy remembers every Restorecon call by prefix path.
type recordingPolicy struct {
	calls []string
}

func (p *recordingPolicy) Name() string { return "recording" }

func (p *recordingPolicy) LabelFor(relpath string, _ fs.FileMode) (string, bool, error) {
	return "system_u:object_r:etc_t:s0", true, nil
}

func (p *recordingPolicy) Restorecon(relpath, _ string, _ fs.FileMode, _ RestoreconFlags) error {
	p.calls = append(p.calls, relpath)
	return nil
}

func (p *recordingPolicy) WithFscreateLabel(_ string, _ fs.FileMode, fn func() error) error {
	return fn()
}

func TestRelabelRecursively(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	require.NoError(os.MkdirAll(filepath.Join(tmpDir, "deploy/etc/sub"), 0o755))
	require.NoError(os.WriteFile(filepath.Join(tmpDir, "deploy/etc/hostname"), []byte("x\n"), 0o644))
	require.NoError(os.WriteFile(filepath.Join(tmpDir, "deploy/etc/sub/conf"), []byte("y\n"), 0o644))
	require.NoError(os.Symlink("hostname", filepath.Join(tmpDir, "deploy/etc/alias")))

	rw := fileio.NewRootedReadWriter(tmpDir)
	policy := &recordingPolicy{}
	require.NoError(RelabelRecursively(rw, policy, "deploy/etc", "/etc", AllowNoLabel))

	// every path labeled under its future runtime prefix
	require.ElementsMatch([]string{
		"/etc",
		"/etc/hostname",
		"/etc/sub",
		"/etc/sub/conf",
		"/etc/alias",
	}, policy.calls)
}

func TestNopPolicy(t *testing.T) {
	require := require.New(t)
	p := NewNopPolicy()
	require.Empty(p.Name())

	label, ok, err := p.LabelFor("/etc", 0o644)
	require.NoError(err)
	require.False(ok)
	require.Empty(label)

	ran := false
	require.NoError(p.WithFscreateLabel("/etc", 0o644, func() error {
		ran = true
		return nil
	}))
	require.True(ran)
}
