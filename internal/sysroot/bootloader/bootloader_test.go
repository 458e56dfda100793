package bootloader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bootwright/bootwright/internal/sysroot/bootconfig"
	"github.com/bootwright/bootwright/internal/sysroot/deployment"
	"github.com/bootwright/bootwright/internal/sysroot/fileio"
	"github.com/bootwright/bootwright/pkg/executer"
	"github.com/bootwright/bootwright/pkg/log"
)

const (
	testCsum = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testBoot = "1111111111111111111111111111111111111111111111111111111111111111"
)

func testDeployment(t *testing.T, title, kernel, initrd, options string) *deployment.Deployment {
	t.Helper()
	d, err := deployment.New("fedora", testCsum, 0)
	require.NoError(t, err)
	cfg := bootconfig.New()
	cfg.Set(bootconfig.KeyTitle, title)
	cfg.Set(bootconfig.KeyLinux, kernel)
	if initrd != "" {
		cfg.Set(bootconfig.KeyInitrd, initrd)
	}
	cfg.Set(bootconfig.KeyOptions, options)
	return d.WithBootCsum(testBoot).WithBootSerial(0).WithBootConfig(cfg)
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(t *testing.T, root string)
		expectedName string
	}{
		{
			name: "grub2 bios",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "boot/grub2"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(root, "boot/grub2/grub.cfg"), nil, 0o644))
			},
			expectedName: "grub2",
		},
		{
			name: "grub2 efi",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "boot/efi/EFI/fedora"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(root, "boot/efi/EFI/fedora/grub.cfg"), nil, 0o644))
			},
			expectedName: "grub2",
		},
		{
			name: "syslinux symlink",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "boot/syslinux"), 0o755))
				require.NoError(t, os.Symlink("../loader/syslinux.cfg", filepath.Join(root, "boot/syslinux/syslinux.cfg")))
			},
			expectedName: "syslinux",
		},
		{
			name: "syslinux regular file is not ours",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "boot/syslinux"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(root, "boot/syslinux/syslinux.cfg"), nil, 0o644))
			},
			expectedName: "",
		},
		{
			name: "uboot",
			setup: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "boot/loader"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(root, "boot/loader/uEnv.txt"), nil, 0o644))
			},
			expectedName: "uboot",
		},
		{
			name:         "none",
			setup:        func(t *testing.T, root string) {},
			expectedName: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)
			tmpDir := t.TempDir()
			tt.setup(t, tmpDir)

			rw := fileio.NewRootedReadWriter(tmpDir)
			bl, err := Probe(rw, executer.NewCommonExecuter(), log.NewPrefixLogger("bootloader"))
			require.NoError(err)
			if tt.expectedName == "" {
				require.Nil(bl)
				return
			}
			require.NotNil(bl)
			require.Equal(tt.expectedName, bl.Name())
		})
	}
}

func TestSyslinuxWriteConfig(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	rw := fileio.NewRootedReadWriter(tmpDir)

	existing := "TIMEOUT 20\nDEFAULT linux\nLABEL linux\n\tKERNEL /vmlinuz\n\tAPPEND root=/dev/sda1\nLABEL Fedora (ostree:fedora:0)\n\tKERNEL /ostree/old-kernel\n\tAPPEND old\n"
	require.NoError(os.MkdirAll(filepath.Join(tmpDir, "boot/syslinux"), 0o755))
	require.NoError(os.WriteFile(filepath.Join(tmpDir, "boot/syslinux/syslinux.cfg"), []byte(existing), 0o644))

	s := NewSyslinux(rw, log.NewPrefixLogger("syslinux"))
	d := testDeployment(t, "Fedora (ostree:fedora:0)", "/ostree/fedora-"+testBoot+"/vmlinuz", "/ostree/fedora-"+testBoot+"/initramfs", "rw ostree=/ostree/boot.1/fedora/"+testBoot+"/0")
	require.NoError(s.WriteConfig(context.Background(), 1, []*deployment.Deployment{d}))

	data, err := os.ReadFile(filepath.Join(tmpDir, "boot/loader.1/syslinux.cfg"))
	require.NoError(err)
	content := string(data)

	// foreign entries survive
	require.Contains(content, "TIMEOUT 20")
	require.Contains(content, "LABEL linux")
	require.Contains(content, "\tKERNEL /vmlinuz")
	// old engine-owned entry is dropped
	require.NotContains(content, "/ostree/old-kernel")
	// DEFAULT points at the new first deployment
	require.Contains(content, "DEFAULT Fedora (ostree:fedora:0)")
	require.Contains(content, "\tKERNEL /ostree/fedora-"+testBoot+"/vmlinuz")
	require.Contains(content, "\tINITRD /ostree/fedora-"+testBoot+"/initramfs")
	require.Contains(content, "\tAPPEND rw ostree=/ostree/boot.1/fedora/"+testBoot+"/0")
	// the non-engine DEFAULT line was replaced, not duplicated
	require.NotContains(content, "DEFAULT linux")
}

func TestUbootWriteConfig(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	rw := fileio.NewRootedReadWriter(tmpDir)

	u := NewUboot(rw, log.NewPrefixLogger("uboot"))
	first := testDeployment(t, "A", "/boot/ostree/fedora-"+testBoot+"/vmlinuz", "/boot/ostree/fedora-"+testBoot+"/initramfs", "rw quiet")
	second := testDeployment(t, "B", "/other", "", "ro")
	require.NoError(u.WriteConfig(context.Background(), 0, []*deployment.Deployment{first, second}))

	data, err := os.ReadFile(filepath.Join(tmpDir, "boot/loader.0/uEnv.txt"))
	require.NoError(err)
	require.Equal("kernel_image=/boot/ostree/fedora-"+testBoot+"/vmlinuz\nramdisk_image=/boot/ostree/fedora-"+testBoot+"/initramfs\nbootargs=rw quiet\n", string(data))
}

func TestExternalToolStampLifecycle(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	rw := fileio.NewRootedReadWriter(tmpDir)

	z := NewZipl(rw, executer.NewCommonExecuter(), log.NewPrefixLogger("zipl"))
	require.NoError(z.WriteConfig(context.Background(), 1, nil))

	present, err := StampPresent(rw)
	require.NoError(err)
	require.True(present)

	// zipl is never auto-detected
	active, err := z.Query()
	require.NoError(err)
	require.False(active)
}

func TestForKind(t *testing.T) {
	require := require.New(t)
	tmpDir := t.TempDir()
	rw := fileio.NewRootedReadWriter(tmpDir)
	exec := executer.NewCommonExecuter()
	logger := log.NewPrefixLogger("bootloader")

	for _, kind := range []Kind{KindGrub2, KindSyslinux, KindUboot, KindAboot, KindZipl} {
		bl, err := ForKind(kind, rw, exec, logger)
		require.NoError(err)
		require.Equal(string(kind), bl.Name())
	}

	bl, err := ForKind(KindNone, rw, exec, logger)
	require.NoError(err)
	require.Nil(bl)

	_, err = ForKind(Kind("lilo"), rw, exec, logger)
	require.Error(err)
}
