package image

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/filesystem"
)

// MountTree is the assembled target filesystem tree: every partition with a
// mount point mounted under root, plus the API filesystems a chroot needs.
type MountTree struct {
	// Root is where the target's / is mounted.
	Root string

	mounts []string
}

// fsTypeArg maps a filesystem kind to the -t argument mount(8) wants.
func fsTypeArg(t filesystem.Type) string {
	switch t {
	case filesystem.FAT16, filesystem.FAT32:
		return "vfat"
	default:
		return string(t)
	}
}

// Mount assembles the target tree under root. Partitions are mounted in
// path-depth order so /efi lands inside an already-mounted /.
func Mount(spec *device.DeviceSpec, loop *LoopDev, root string) (*MountTree, error) {
	tree := &MountTree{Root: root}

	parts := make([]*device.PartitionSpec, 0, len(spec.Partitions))
	for i := range spec.Partitions {
		if spec.Partitions[i].MountPoint != "" {
			parts = append(parts, &spec.Partitions[i])
		}
	}
	// ancestors are always shorter than their descendants
	slices.SortFunc(parts, func(a, b *device.PartitionSpec) int {
		return len(a.MountPoint) - len(b.MountPoint)
	})

	for _, p := range parts {
		target := filepath.Join(root, p.MountPoint)
		if err := os.MkdirAll(target, 0755); err != nil {
			tree.Unmount()
			return nil, err
		}
		dev := loop.Partition(p.Num)
		logrus.Debugf("Mounting %s on %s", dev, target)
		if err := unix.Mount(dev, target, fsTypeArg(p.Filesystem), 0, ""); err != nil {
			tree.Unmount()
			return nil, fmt.Errorf("cannot mount %s on %s: %w", dev, target, err)
		}
		tree.mounts = append(tree.mounts, target)
	}

	// API filesystems for chrooted provisioning steps
	for _, api := range []struct{ src, fstype, rel string }{
		{"proc", "proc", "proc"},
		{"sysfs", "sysfs", "sys"},
		{"devtmpfs", "devtmpfs", "dev"},
		{"devpts", "devpts", "dev/pts"},
	} {
		target := filepath.Join(root, api.rel)
		if err := os.MkdirAll(target, 0755); err != nil {
			tree.Unmount()
			return nil, err
		}
		if err := unix.Mount(api.src, target, api.fstype, 0, ""); err != nil {
			tree.Unmount()
			return nil, fmt.Errorf("cannot mount %s on %s: %w", api.fstype, target, err)
		}
		tree.mounts = append(tree.mounts, target)
	}
	return tree, nil
}

// Unmount tears the tree down in reverse mount order. It keeps going past
// individual failures so a stuck mount never pins the rest.
func (t *MountTree) Unmount() error {
	var firstErr error
	for i := len(t.mounts) - 1; i >= 0; i-- {
		if err := unix.Unmount(t.mounts[i], 0); err != nil {
			logrus.Errorf("cannot unmount %s: %v", t.mounts[i], err)
			if firstErr == nil {
				firstErr = fmt.Errorf("cannot unmount %s: %w", t.mounts[i], err)
			}
		}
	}
	t.mounts = nil
	return firstErr
}
