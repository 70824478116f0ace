// Package bootloader stages bootloader payloads onto a freshly partitioned
// image: raw stage images written into the gap below the first partition,
// stages flashed into a dedicated partition, or scripts run inside the
// installed system.
package bootloader

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/device-image-builder/internal/util"
)

// Method selects how one bootloader action is applied.
type Method string

const (
	// FlashOffset writes a stage image at a fixed byte offset of the whole
	// device, inside the reserved space below the first partition.
	FlashOffset Method = "flash_offset"
	// FlashPartition writes a stage image over a whole partition.
	FlashPartition Method = "flash_partition"
	// Script runs a script inside the installed root with chroot.
	Script Method = "script"
)

// Spec is one bootloader-install action from device.toml, applied in
// declaration order after the filesystems are populated.
type Spec struct {
	Method Method `toml:"method"`
	// Path of the stage image, relative to the installed root.
	Path string `toml:"path"`
	// Offset in bytes for FlashOffset.
	Offset uint64 `toml:"offset"`
	// Partition number for FlashPartition.
	Partition uint32 `toml:"partition"`
	// Script path relative to the installed root, for Script.
	Script string `toml:"script"`
}

// Validate checks that the action names a known method and carries the
// fields that method needs.
func (s *Spec) Validate() error {
	switch s.Method {
	case FlashOffset:
		if s.Path == "" {
			return fmt.Errorf("flash_offset action needs a stage image path")
		}
	case FlashPartition:
		if s.Path == "" {
			return fmt.Errorf("flash_partition action needs a stage image path")
		}
		if s.Partition == 0 {
			return fmt.Errorf("flash_partition action needs a target partition")
		}
	case Script:
		if s.Script == "" {
			return fmt.Errorf("script action needs a script path")
		}
	default:
		return fmt.Errorf("unknown bootloader method %q", string(s.Method))
	}
	return nil
}

// Apply performs the action. root is the mounted target root, device the
// whole-disk device node, partDev resolves a partition number to its device
// node.
func (s *Spec) Apply(root, device string, partDev func(uint32) string) error {
	switch s.Method {
	case FlashOffset:
		return flashAt(filepath.Join(root, s.Path), device, int64(s.Offset))
	case FlashPartition:
		return flashAt(filepath.Join(root, s.Path), partDev(s.Partition), 0)
	case Script:
		logrus.Infof("Running bootloader script %s ...", s.Script)
		return util.RunCmdSync("chroot", root, "/bin/bash", "--", s.Script)
	}
	return fmt.Errorf("unknown bootloader method %q", string(s.Method))
}

// flashAt copies the stage image to the device node at the given byte
// offset and flushes it.
func flashAt(stage, device string, offset int64) error {
	src, err := os.Open(stage)
	if err != nil {
		return fmt.Errorf("cannot open bootloader stage: %w", err)
	}
	defer src.Close()

	fi, err := src.Stat()
	if err != nil {
		return fmt.Errorf("cannot stat bootloader stage: %w", err)
	}
	logrus.Infof("Writing %s (%s) to %s at offset %d ...",
		stage, humanize.IBytes(uint64(fi.Size())), device, offset)

	dst, err := os.OpenFile(device, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("cannot open %q for flashing: %w", device, err)
	}
	defer dst.Close()

	if _, err := dst.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("cannot seek to offset %d on %q: %w", offset, device, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("cannot write bootloader stage to %q: %w", device, err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("cannot flush bootloader stage to %q: %w", device, err)
	}
	return nil
}
