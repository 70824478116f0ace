// Package disk provides block-device geometry queries and the free-space
// allocator shared by the GPT and MBR table builders.
package disk

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Mebibyte is the placement granularity for computed partition starts,
// in bytes. The gap below the first 1 MiB boundary is left for bootloader
// stage images that live outside any partition.
const Mebibyte = 1024 * 1024

// FallbackSectorSize is used for regular image files, which have no
// block-geometry interface.
const FallbackSectorSize = 512

// SectorSize returns the logical sector size of the block device backing f.
// Sector sizes can not be assumed: SD card readers and loop devices with
// explicit geometry report 4096. Regular files fall back to 512.
func SectorSize(f *os.File) (uint64, error) {
	ssz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil {
		if errors.Is(err, unix.ENOTTY) || errors.Is(err, unix.EINVAL) {
			return FallbackSectorSize, nil
		}
		return 0, fmt.Errorf("cannot query sector size of %q: %w", f.Name(), err)
	}
	return uint64(ssz), nil
}

// Size returns the total size in bytes of the block device or image file
// backing f.
func Size(f *os.File) (uint64, error) {
	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err == nil {
		return uint64(size), nil
	}
	if !errors.Is(err, unix.ENOTTY) && !errors.Is(err, unix.EINVAL) {
		return 0, fmt.Errorf("cannot query size of %q: %w", f.Name(), err)
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("cannot stat %q: %w", f.Name(), err)
	}
	return uint64(fi.Size()), nil
}
