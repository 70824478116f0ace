package image

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/device-image-builder/internal/util"
)

// LoopDev is a loop device attached to a raw image, with partition
// scanning enabled so the individual partitions appear as /dev/loopNpM.
type LoopDev struct {
	// Path is the loop device node, e.g. /dev/loop0.
	Path string
}

// AttachLoopDev attaches the raw image at path to a free loop device.
func AttachLoopDev(path string) (*LoopDev, error) {
	out, err := util.RunCmdCapture("losetup", "--find", "--show", "--partscan", path)
	if err != nil {
		return nil, fmt.Errorf("cannot attach %q to a loop device: %w", path, err)
	}
	dev := &LoopDev{Path: out}
	logrus.Debugf("Attached %s to %s", path, dev.Path)
	return dev, nil
}

// Partition returns the device node of the numbered partition.
func (l *LoopDev) Partition(num uint32) string {
	return fmt.Sprintf("%sp%d", l.Path, num)
}

// Rescan asks the kernel to re-read the partition table, for when the map
// was written while the device was already attached.
func (l *LoopDev) Rescan() error {
	if err := util.RunCmdSync("partprobe", l.Path); err != nil {
		return fmt.Errorf("cannot rescan partitions on %s: %w", l.Path, err)
	}
	return nil
}

// WaitForPartitions blocks until the partition nodes show up; udev creates
// them asynchronously after a rescan.
func (l *LoopDev) WaitForPartitions(num uint32) error {
	if err := util.RunCmdSync("udevadm", "settle"); err != nil {
		logrus.Warningf("udevadm settle failed: %v", err)
	}
	for n := uint32(1); n <= num; n++ {
		if _, err := os.Stat(l.Partition(n)); err != nil {
			return fmt.Errorf("partition device %s did not appear: %w", l.Partition(n), err)
		}
	}
	return nil
}

// Detach releases the loop device.
func (l *LoopDev) Detach() error {
	if err := util.RunCmdSync("losetup", "--detach", l.Path); err != nil {
		return fmt.Errorf("cannot detach %s: %w", l.Path, err)
	}
	logrus.Debugf("Detached %s", l.Path)
	return nil
}

// IsLoopDev reports whether path names a loop device node.
func IsLoopDev(path string) bool {
	return strings.HasPrefix(path, "/dev/loop")
}
