package etcmerge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/bootwright/bootwright/internal/sysroot/errors"
	"github.com/bootwright/bootwright/internal/sysroot/events"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/internal/sysroot/selinux"
	"github.com/bootwright/bootwright/pkg/log"
)

func newTestMerger(t *testing.T) (*Merger, string) {
	t.Helper()
	tmpDir := t.TempDir()
	rw := fileio.NewRootedReadWriter(tmpDir)
	logger := log.NewPrefixLogger("etcmerge")
	return NewMerger(rw, selinux.NewNopPolicy(), events.NewEmitter(logger), logger), tmpDir
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		full := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
}

func TestMergeInitialInstall(t *testing.T) {
	require := require.New(t)
	m, tmpDir := newTestMerger(t)
	writeTree(t, filepath.Join(tmpDir, "new"), map[string]string{
		"usr/etc/hostname": "vendor\n",
		"usr/etc/sub/conf": "default\n",
	})

	stats, err := m.Merge(context.Background(), "", "new")
	require.NoError(err)
	require.Equal(&Stats{}, stats)

	data, err := os.ReadFile(filepath.Join(tmpDir, "new/etc/hostname"))
	require.NoError(err)
	require.Equal("vendor\n", string(data))
	data, err = os.ReadFile(filepath.Join(tmpDir, "new/etc/sub/conf"))
	require.NoError(err)
	require.Equal("default\n", string(data))
}

func TestMergeThreeWay(t *testing.T) {
	tests := []struct {
		name          string
		base          map[string]string
		working       map[string]string
		newUsrEtc     map[string]string
		expectedStats Stats
		expectedFiles map[string]string
		removedFiles  []string
	}{
		{
			name:          "administrator edit wins",
			base:          map[string]string{"foo": "vendor\n"},
			working:       map[string]string{"foo": "X"},
			newUsrEtc:     map[string]string{"foo": "vendor\n", "bar": "new-default\n"},
			expectedStats: Stats{Modified: 1},
			expectedFiles: map[string]string{"foo": "X", "bar": "new-default\n"},
		},
		{
			name:          "administrator delete wins",
			base:          map[string]string{"foo": "vendor\n", "gone": "bye\n"},
			working:       map[string]string{"foo": "vendor\n"},
			newUsrEtc:     map[string]string{"foo": "vendor\n", "gone": "bye\n"},
			expectedStats: Stats{Removed: 1},
			expectedFiles: map[string]string{"foo": "vendor\n"},
			removedFiles:  []string{"gone"},
		},
		{
			name:          "administrator addition",
			base:          map[string]string{"foo": "vendor\n"},
			working:       map[string]string{"foo": "vendor\n", "local.conf": "mine\n"},
			newUsrEtc:     map[string]string{"foo": "vendor\n"},
			expectedStats: Stats{Added: 1},
			expectedFiles: map[string]string{"foo": "vendor\n", "local.conf": "mine\n"},
		},
		{
			name:          "unchanged files are untouched",
			base:          map[string]string{"foo": "vendor\n"},
			working:       map[string]string{"foo": "vendor\n"},
			newUsrEtc:     map[string]string{"foo": "updated-vendor\n"},
			expectedStats: Stats{},
			expectedFiles: map[string]string{"foo": "updated-vendor\n"},
		},
		{
			name:          "nested edits recurse",
			base:          map[string]string{"sub/conf": "vendor\n"},
			working:       map[string]string{"sub/conf": "edited\n"},
			newUsrEtc:     map[string]string{"sub/conf": "vendor\n"},
			expectedStats: Stats{Modified: 1},
			expectedFiles: map[string]string{"sub/conf": "edited\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			m, tmpDir := newTestMerger(t)

			prev := map[string]string{}
			for rel, content := range tt.base {
				prev["usr/etc/"+rel] = content
			}
			for rel, content := range tt.working {
				prev["etc/"+rel] = content
			}
			writeTree(t, filepath.Join(tmpDir, "prev"), prev)

			next := map[string]string{}
			for rel, content := range tt.newUsrEtc {
				next["usr/etc/"+rel] = content
			}
			writeTree(t, filepath.Join(tmpDir, "new"), next)

			stats, err := m.Merge(context.Background(), "prev", "new")
			require.NoError(err)
			require.Equal(&tt.expectedStats, stats)

			for rel, content := range tt.expectedFiles {
				data, err := os.ReadFile(filepath.Join(tmpDir, "new/etc", rel))
				require.NoError(err, "file %q", rel)
				require.Equal(content, string(data), "file %q", rel)
			}
			for _, rel := range tt.removedFiles {
				_, err := os.Lstat(filepath.Join(tmpDir, "new/etc", rel))
				require.True(os.IsNotExist(err), "file %q should be removed", rel)
			}
		})
	}
}

func TestMergeLegacyEtc(t *testing.T) {
	require := require.New(t)
	m, tmpDir := newTestMerger(t)
	writeTree(t, filepath.Join(tmpDir, "new"), map[string]string{
		"etc/hostname": "legacy\n",
	})

	_, err := m.Merge(context.Background(), "", "new")
	require.NoError(err)

	data, err := os.ReadFile(filepath.Join(tmpDir, "new/usr/etc/hostname"))
	require.NoError(err)
	require.Equal("legacy\n", string(data))
	data, err = os.ReadFile(filepath.Join(tmpDir, "new/etc/hostname"))
	require.NoError(err)
	require.Equal("legacy\n", string(data))
}

func TestMergeRejectsBothEtcAndUsrEtc(t *testing.T) {
	require := require.New(t)
	m, tmpDir := newTestMerger(t)
	writeTree(t, filepath.Join(tmpDir, "new"), map[string]string{
		"etc/hostname":     "a\n",
		"usr/etc/hostname": "b\n",
	})

	_, err := m.Merge(context.Background(), "", "new")
	require.ErrorIs(err, errors.ErrConfigMergeConflict)
}

func TestMergeIdempotent(t *testing.T) {
	require := require.New(t)
	m, tmpDir := newTestMerger(t)
	writeTree(t, filepath.Join(tmpDir, "prev"), map[string]string{
		"usr/etc/foo": "vendor\n",
		"etc/foo":     "X",
	})
	writeTree(t, filepath.Join(tmpDir, "new1"), map[string]string{"usr/etc/foo": "vendor\n"})
	writeTree(t, filepath.Join(tmpDir, "new2"), map[string]string{"usr/etc/foo": "vendor\n"})

	stats1, err := m.Merge(context.Background(), "prev", "new1")
	require.NoError(err)
	stats2, err := m.Merge(context.Background(), "prev", "new2")
	require.NoError(err)
	require.Equal(stats1, stats2)

	require.Empty(cmp.Diff(readTree(t, filepath.Join(tmpDir, "new1/etc")), readTree(t, filepath.Join(tmpDir, "new2/etc"))))
}

// readTree flattens a directory into relative-path -> content.
func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestMergeSymlinkEdit(t *testing.T) {
	require := require.New(t)
	m, tmpDir := newTestMerger(t)
	writeTree(t, filepath.Join(tmpDir, "prev"), map[string]string{"usr/etc/placeholder": ""})
	require.NoError(os.Symlink("../usr/share/zoneinfo/UTC", filepath.Join(tmpDir, "prev/usr/etc/localtime")))
	require.NoError(os.MkdirAll(filepath.Join(tmpDir, "prev/etc"), 0o755))
	require.NoError(os.WriteFile(filepath.Join(tmpDir, "prev/etc/placeholder"), nil, 0o644))
	require.NoError(os.Symlink("../usr/share/zoneinfo/Europe/Berlin", filepath.Join(tmpDir, "prev/etc/localtime")))

	writeTree(t, filepath.Join(tmpDir, "new"), map[string]string{"usr/etc/placeholder": ""})
	require.NoError(os.Symlink("../usr/share/zoneinfo/UTC", filepath.Join(tmpDir, "new/usr/etc/localtime")))

	stats, err := m.Merge(context.Background(), "prev", "new")
	require.NoError(err)
	require.Equal(&Stats{Modified: 1}, stats)

	target, err := os.Readlink(filepath.Join(tmpDir, "new/etc/localtime"))
	require.NoError(err)
	require.Equal("../usr/share/zoneinfo/Europe/Berlin", target)
}
