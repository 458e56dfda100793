package fileio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSymlinkReplace(t *testing.T) {
	require := require.New(t)
	tests := []struct {
		name     string
		existing string
		staleTmp bool
		target   string
	}{
		{
			name:   "fresh symlink",
			target: "loader.0",
		},
		{
			name:     "replace existing",
			existing: "loader.0",
			target:   "loader.1",
		},
		{
			name:     "stale tmp is cleaned up",
			existing: "loader.0",
			staleTmp: true,
			target:   "loader.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()
			w := NewWriter(WithWriterRootDir(tmpDir))
			if tt.existing != "" {
				require.NoError(os.Symlink(tt.existing, filepath.Join(tmpDir, "loader")))
			}
			if tt.staleTmp {
				require.NoError(os.Symlink("garbage", filepath.Join(tmpDir, "loader.tmp")))
			}

			require.NoError(w.SymlinkReplace(tt.target, "loader"))

			got, err := os.Readlink(filepath.Join(tmpDir, "loader"))
			require.NoError(err)
			require.Equal(tt.target, got)
			_, err = os.Lstat(filepath.Join(tmpDir, "loader.tmp"))
			require.True(os.IsNotExist(err))
		})
	}
}

func TestHardlinkOrCopy(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	w := NewWriter(WithWriterRootDir(tmpDir))

	require.NoError(os.WriteFile(filepath.Join(tmpDir, "vmlinuz"), []byte("kernel"), 0o644))
	require.NoError(w.HardlinkOrCopy("vmlinuz", "vmlinuz-linked"))

	srcInfo, err := os.Stat(filepath.Join(tmpDir, "vmlinuz"))
	require.NoError(err)
	dstInfo, err := os.Stat(filepath.Join(tmpDir, "vmlinuz-linked"))
	require.NoError(err)
	require.True(os.SameFile(srcInfo, dstInfo))
}

func TestCopyPreserving(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	w := NewWriter(WithWriterRootDir(tmpDir))

	require.NoError(os.MkdirAll(filepath.Join(tmpDir, "src/sub"), 0o755))
	require.NoError(os.WriteFile(filepath.Join(tmpDir, "src/file"), []byte("data"), 0o600))
	require.NoError(os.Symlink("file", filepath.Join(tmpDir, "src/link")))

	require.NoError(w.CopyPreserving("src", "dst"))

	data, err := os.ReadFile(filepath.Join(tmpDir, "dst/file"))
	require.NoError(err)
	require.Equal([]byte("data"), data)

	info, err := os.Stat(filepath.Join(tmpDir, "dst/file"))
	require.NoError(err)
	require.Equal(os.FileMode(0o600), info.Mode().Perm())

	target, err := os.Readlink(filepath.Join(tmpDir, "dst/link"))
	require.NoError(err)
	require.Equal("file", target)

	subInfo, err := os.Stat(filepath.Join(tmpDir, "dst/sub"))
	require.NoError(err)
	require.True(subInfo.IsDir())
}

func TestWriteFileAtomic(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	w := NewWriter(WithWriterRootDir(tmpDir))

	require.NoError(w.WriteFile("boot/loader.0/entries/test.conf", []byte("title x\n"), 0o644))
	data, err := os.ReadFile(filepath.Join(tmpDir, "boot/loader.0/entries/test.conf"))
	require.NoError(err)
	require.Equal("title x\n", string(data))

	// overwrite keeps content consistent
	require.NoError(w.WriteFile("boot/loader.0/entries/test.conf", []byte("title y\n"), 0o644))
	data, err = os.ReadFile(filepath.Join(tmpDir, "boot/loader.0/entries/test.conf"))
	require.NoError(err)
	require.Equal("title y\n", string(data))
}
