package sysroot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bootwright/bootwright/internal/sysroot/errors"
)

func TestLoadEmptySysroot(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)

	require.NoError(env.sys.Load(context.Background()))
	require.Equal(0, env.sys.Bootversion())
	require.Equal(0, env.sys.Subbootversion())
	require.Empty(env.sys.Deployments())
	require.Nil(env.sys.BootedDeployment())
}

func TestLoadRejectsCorruptedLoaderLink(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	require.NoError(os.MkdirAll(filepath.Join(env.root, "boot"), 0o755))
	require.NoError(os.Symlink("loader.7", filepath.Join(env.root, "boot/loader")))

	err := env.sys.Load(context.Background())
	require.ErrorIs(err, errors.ErrCorruptedLayout)
}

func TestLoadRejectsCorruptedBootLink(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	require.NoError(os.MkdirAll(filepath.Join(env.root, "boot"), 0o755))
	require.NoError(os.Symlink("loader.0", filepath.Join(env.root, "boot/loader")))
	require.NoError(os.MkdirAll(filepath.Join(env.root, "ostree"), 0o755))
	require.NoError(os.Symlink("somewhere-else", filepath.Join(env.root, "ostree/boot.0")))

	err := env.sys.Load(context.Background())
	require.ErrorIs(err, errors.ErrCorruptedLayout)
}

func TestLoadRejectsEntryWithoutBootlink(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	require.NoError(os.MkdirAll(filepath.Join(env.root, "boot/loader.0/entries"), 0o755))
	require.NoError(os.Symlink("loader.0", filepath.Join(env.root, "boot/loader")))
	entry := "title x\nversion 1\nlinux /vmlinuz\noptions rw quiet\n"
	require.NoError(os.WriteFile(filepath.Join(env.root, "boot/loader.0/entries/ostree-fedora-0.conf"), []byte(entry), 0o644))

	err := env.sys.Load(context.Background())
	require.ErrorIs(err, errors.ErrInvalidBootlink)
}

func TestLoadRejectsCrossBootversionBootlink(t *testing.T) {
	require := require.New(t)
	env := newTestEnv(t)
	require.NoError(os.MkdirAll(filepath.Join(env.root, "boot/loader.0/entries"), 0o755))
	require.NoError(os.Symlink("loader.0", filepath.Join(env.root, "boot/loader")))
	entry := "title x\nversion 1\noptions ostree=/ostree/boot.1/fedora/" + csumA + "/0\n"
	require.NoError(os.WriteFile(filepath.Join(env.root, "boot/loader.0/entries/ostree-fedora-0.conf"), []byte(entry), 0o644))

	err := env.sys.Load(context.Background())
	require.ErrorIs(err, errors.ErrInvalidBootlink)
}

func TestLoaderEntryOrdering(t *testing.T) {
	tests := []struct {
		name     string
		versions map[string]string // filename -> version value ("" = no version key)
		expected []string
	}{
		{
			name: "numeric descending",
			versions: map[string]string{
				"ostree-fedora-0.conf": "2",
				"ostree-fedora-1.conf": "10",
				"ostree-fedora-2.conf": "9",
			},
			expected: []string{"ostree-fedora-1.conf", "ostree-fedora-2.conf", "ostree-fedora-0.conf"},
		},
		{
			name: "entries without version sort last",
			versions: map[string]string{
				"a.conf": "",
				"b.conf": "1",
			},
			expected: []string{"b.conf", "a.conf"},
		},
		{
			name: "ties break by file name",
			versions: map[string]string{
				"b.conf": "3",
				"a.conf": "3",
			},
			expected: []string{"a.conf", "b.conf"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			env := newTestEnv(t)
			dir := filepath.Join(env.root, "boot/loader.0/entries")
			require.NoError(os.MkdirAll(dir, 0o755))
			for name, version := range tt.versions {
				content := "title x\n"
				if version != "" {
					content += "version " + version + "\n"
				}
				require.NoError(os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
			}

			entries, err := env.sys.readLoaderEntries(0)
			require.NoError(err)
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.name)
			}
			require.Equal(tt.expected, names)
		})
	}
}

func TestParseBootlinkArg(t *testing.T) {
	tests := []struct {
		name        string
		arg         string
		bootversion int
		expectErr   bool
	}{
		{
			name:        "valid",
			arg:         "/ostree/boot.0/fedora/" + csumA + "/0",
			bootversion: 0,
		},
		{
			name:        "wrong bootversion",
			arg:         "/ostree/boot.1/fedora/" + csumA + "/0",
			bootversion: 0,
			expectErr:   true,
		},
		{
			name:        "missing components",
			arg:         "/ostree/boot.0/fedora",
			bootversion: 0,
			expectErr:   true,
		},
		{
			name:        "bad serial",
			arg:         "/ostree/boot.0/fedora/" + csumA + "/x",
			bootversion: 0,
			expectErr:   true,
		},
		{
			name:        "bad checksum",
			arg:         "/ostree/boot.0/fedora/nothex/0",
			bootversion: 0,
			expectErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			osname, bootCsum, serial, err := parseBootlinkArg(tt.arg, tt.bootversion)
			if tt.expectErr {
				require.Error(err)
				return
			}
			require.NoError(err)
			require.Equal("fedora", osname)
			require.Equal(csumA, bootCsum)
			require.Equal(0, serial)
		})
	}
}
