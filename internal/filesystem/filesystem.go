// Package filesystem describes the filesystems that can live on a partition:
// their label rules, how to create them with the system mkfs tools, and how
// to read their UUID back via blkid(8).
package filesystem

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/osbuild/device-image-builder/internal/util"
)

// Type names a filesystem kind for a partition.
type Type string

// Supported filesystem kinds. None marks partitions that carry raw data
// (e.g. a BIOS boot stage) and are never formatted.
const (
	Ext4  Type = "ext4"
	XFS   Type = "xfs"
	Btrfs Type = "btrfs"
	FAT16 Type = "fat16"
	FAT32 Type = "fat32"
	None  Type = "none"
)

// Valid reports whether t names a supported filesystem.
func Valid(t Type) bool {
	switch t {
	case Ext4, XFS, Btrfs, FAT16, FAT32, None:
		return true
	}
	return false
}

// labelLimits holds the maximum label length each filesystem accepts.
var labelLimits = map[Type]int{
	Ext4:  16,
	XFS:   12,
	Btrfs: 255,
	FAT16: 11,
	FAT32: 11,
}

// CheckLabel validates label against the label length and character-set rules
// of the target filesystem. An empty label is always acceptable.
func (t Type) CheckLabel(label string) error {
	if label == "" {
		return nil
	}
	if t == None {
		return fmt.Errorf("filesystem label %q given for a partition without a filesystem", label)
	}
	limit, ok := labelLimits[t]
	if !ok {
		return fmt.Errorf("unknown filesystem type %q", string(t))
	}
	if len(label) > limit {
		return fmt.Errorf("filesystem label %q exceeds the %d-character limit of %s", label, limit, t)
	}
	if t == FAT16 || t == FAT32 {
		// dosfstools refuses lowercase and most punctuation
		for _, c := range label {
			if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-' || c == ' ') {
				return fmt.Errorf("filesystem label %q contains %q, which FAT labels do not allow", label, c)
			}
		}
	}
	return nil
}

// Mkfs formats the block device at devpath, applying label if set.
func (t Type) Mkfs(devpath, label string) error {
	var argv []string
	switch t {
	case Ext4:
		argv = []string{"mkfs.ext4", "-q", "-F"}
	case XFS:
		argv = []string{"mkfs.xfs", "-q", "-f"}
	case Btrfs:
		argv = []string{"mkfs.btrfs", "-q", "-f"}
	case FAT16:
		argv = []string{"mkfs.vfat", "-F", "16"}
	case FAT32:
		argv = []string{"mkfs.vfat", "-F", "32"}
	case None:
		return nil
	default:
		return fmt.Errorf("unknown filesystem type %q", string(t))
	}
	if label != "" {
		if t == FAT16 || t == FAT32 {
			argv = append(argv, "-n", label)
		} else {
			argv = append(argv, "-L", label)
		}
	}
	argv = append(argv, devpath)
	return util.RunCmdSync(argv[0], argv[1:]...)
}

// UUID returns the filesystem UUID of the formatted block device at devpath.
// FAT filesystems report the short XXXX-XXXX serial, everything else a
// RFC-4122 UUID, so the value is returned as blkid prints it.
func UUID(devpath string) (string, error) {
	out, err := exec.Command("blkid", "-s", "UUID", "-o", "value", devpath).Output()
	if err != nil {
		return "", fmt.Errorf("cannot probe filesystem UUID of %q: %w", devpath, util.OutputErr(err))
	}
	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", fmt.Errorf("no filesystem UUID found on %q, is it formatted?", devpath)
	}
	return value, nil
}
