// Package device holds the in-memory model of one hardware target: its
// identity, partition layout and size policy, loaded from a device.toml
// document, plus the validator that proves the model consistent before any
// table is built.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/osbuild/device-image-builder/internal/bootloader"
	"github.com/osbuild/device-image-builder/internal/filesystem"
	"github.com/osbuild/device-image-builder/internal/parttype"
)

// SpecFilename is the fixed name a device specification must have inside the
// registry tree.
const SpecFilename = "device.toml"

// MapType selects the partition table format of a device's image.
type MapType string

const (
	MapGPT MapType = "gpt"
	MapMBR MapType = "mbr"
)

// Usage describes the role a partition plays in the installed system.
type Usage string

const (
	UsageRootfs Usage = "rootfs"
	UsageBoot   Usage = "boot"
	UsageData   Usage = "data"
	UsageOther  Usage = "other"
)

// PartitionSpec is one partition within a DeviceSpec.
type PartitionSpec struct {
	// Num is the 1-based partition number. Declarations must keep ascending
	// order.
	Num uint32 `toml:"num"`
	// Size in sectors; 0 means "consume all remaining free space" and is
	// only allowed on the last partition.
	Size uint64 `toml:"size"`
	// StartSector places the partition explicitly; when absent the start is
	// computed first-fit on a 1 MiB grain.
	StartSector *uint64 `toml:"start_sector"`
	// Type is the abstract partition type tag resolved through parttype.
	Type parttype.Type `toml:"type"`
	// Usage marks the partition's role; exactly one rootfs is required.
	Usage Usage `toml:"usage"`
	// Label is the GPT partition name. Not representable under MBR.
	Label string `toml:"label"`
	// Filesystem to create on the partition, if any.
	Filesystem filesystem.Type `toml:"filesystem"`
	// FSLabel is the filesystem label, checked against the target
	// filesystem's own rules.
	FSLabel string `toml:"fs_label"`
	// MountPoint inside the installed system, for formatting and fstab.
	MountPoint string `toml:"mount_point"`
}

// VariantSizes carries the image size in MiB for each distribution variant.
type VariantSizes struct {
	Base    uint64 `toml:"base"`
	Desktop uint64 `toml:"desktop"`
	Server  uint64 `toml:"server"`
}

// DefaultVariantSizes returns the sizes used when a device.toml does not
// declare its own.
func DefaultVariantSizes() VariantSizes {
	return VariantSizes{Base: 5120, Desktop: 25600, Server: 6144}
}

// DeviceSpec is one hardware target, loaded once from device.toml and
// immutable afterwards.
type DeviceSpec struct {
	// ID uniquely identifies the device. ASCII, no structural
	// metacharacters.
	ID string `toml:"id"`
	// Aliases are alternative identifiers, same constraints as ID.
	Aliases []string `toml:"aliases"`
	// Vendor of the device.
	Vendor string `toml:"vendor"`
	// Arch is the CPU architecture of the device.
	Arch Arch `toml:"arch"`
	// SOCVendor names the SoC platform vendor, matching the kernel's
	// arch/$ARCH/boot/dts directory.
	SOCVendor string `toml:"soc_vendor"`
	// Name is the full human-facing device name.
	Name string `toml:"name"`
	// Model is the model name when it differs from Name.
	Model string `toml:"model"`
	// Compatible is the most relevant root compatible string of the
	// device tree, e.g. "raspberrypi,5-model-b".
	Compatible string `toml:"compatible"`
	// BSPPackages are installed on top of the variant package set.
	BSPPackages []string `toml:"bsp_packages"`
	// PartitionMap selects GPT or MBR.
	PartitionMap MapType `toml:"partition_map"`
	// NumPartitions must equal the number of declared partitions.
	NumPartitions uint32 `toml:"num_partitions"`
	// Size per image variant, in MiB.
	Size VariantSizes `toml:"size"`
	// Partitions of the image, in ascending partition-number order.
	Partitions []PartitionSpec `toml:"partition"`
	// Bootloaders are applied in order after installation.
	Bootloaders []bootloader.Spec `toml:"bootloader"`

	// Path is the canonical path of the device.toml this spec was loaded
	// from.
	Path string `toml:"-"`
}

// FromPath loads a DeviceSpec from a device.toml file.
func FromPath(path string) (*DeviceSpec, error) {
	if filepath.Base(path) != SpecFilename {
		return nil, fmt.Errorf("filename in the path must be %q, got %q", SpecFilename, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read device spec: %w", err)
	}
	spec := DeviceSpec{Size: DefaultVariantSizes()}
	meta, err := toml.Decode(string(content), &spec)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %q as a device spec: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown keys in %q: %s", path, strings.Join(keys, ", "))
	}
	canonical, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot canonicalize %q: %w", path, err)
	}
	spec.Path = canonical
	return &spec, nil
}

// SizeMiB returns the image size in MiB for the named variant.
func (s VariantSizes) SizeMiB(variant string) (uint64, error) {
	switch variant {
	case "base":
		return s.Base, nil
	case "desktop":
		return s.Desktop, nil
	case "server":
		return s.Server, nil
	}
	return 0, fmt.Errorf("unknown image variant %q", variant)
}

// RootPartition returns the rootfs partition of a validated spec.
func (d *DeviceSpec) RootPartition() *PartitionSpec {
	for i := range d.Partitions {
		if d.Partitions[i].Usage == UsageRootfs {
			return &d.Partitions[i]
		}
	}
	return nil
}
