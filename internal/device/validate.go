package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/osbuild/device-image-builder/internal/bootloader"
	"github.com/osbuild/device-image-builder/internal/filesystem"
	"github.com/osbuild/device-image-builder/internal/parttype"
)

// ErrSpec marks structural or semantic violations found by Validate. They
// are always fatal before any device I/O begins and are never retried.
var ErrSpec = errors.New("invalid device specification")

// forbiddenChars are rejected in every identity and human-facing field:
// quoting, path, glob and shell metacharacters that would make a field
// unusable in filenames or generated scripts.
const forbiddenChars = `'"\/{}[]!` + "`" + `*&`

func isASCII(s string) bool {
	for _, c := range s {
		if c > 127 {
			return false
		}
	}
	return true
}

// Validate proves the spec internally consistent. Field-group checks are
// exhaustive: every offending identity or name field is reported in one go.
// The partition scan stops at the first structural failure, since later
// checks depend on the assumption it violates.
func (d *DeviceSpec) Validate() error {
	var errs []error

	identity := []struct{ name, value string }{
		{"id", d.ID},
		{"vendor", d.Vendor},
	}
	for i, a := range d.Aliases {
		identity = append(identity, struct{ name, value string }{fmt.Sprintf("alias %d", i+1), a})
	}
	if d.Compatible != "" {
		identity = append(identity, struct{ name, value string }{"compatible", d.Compatible})
	}
	for _, f := range identity {
		if !isASCII(f.value) {
			errs = append(errs, fmt.Errorf("%w: %s %q contains non-ASCII characters", ErrSpec, f.name, f.value))
		}
		if strings.ContainsAny(f.value, forbiddenChars) {
			errs = append(errs, fmt.Errorf("%w: %s %q contains one of the forbidden characters %s",
				ErrSpec, f.name, f.value, forbiddenChars))
		}
	}

	// human-facing fields may be localized, so only the structural
	// metacharacters are rejected
	human := []struct{ name, value string }{{"name", d.Name}}
	if d.Model != "" {
		human = append(human, struct{ name, value string }{"model", d.Model})
	}
	for _, f := range human {
		if strings.ContainsAny(f.value, forbiddenChars) {
			errs = append(errs, fmt.Errorf("%w: %s %q contains one of the forbidden characters %s",
				ErrSpec, f.name, f.value, forbiddenChars))
		}
	}

	if !ValidArch(d.Arch) {
		errs = append(errs, fmt.Errorf("%w: unknown architecture %q", ErrSpec, string(d.Arch)))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if len(d.Partitions) == 0 {
		return fmt.Errorf("%w: no partition defined for this device", ErrSpec)
	}
	if d.NumPartitions != uint32(len(d.Partitions)) {
		return fmt.Errorf("%w: num_partitions should be %d, got %d",
			ErrSpec, len(d.Partitions), d.NumPartitions)
	}
	switch d.PartitionMap {
	case MapMBR:
		if len(d.Partitions) > 4 {
			return fmt.Errorf("%w: an MBR partition map can contain up to 4 partitions", ErrSpec)
		}
	case MapGPT:
		if len(d.Partitions) > 128 {
			return fmt.Errorf("%w: too many partitions for GPT", ErrSpec)
		}
	default:
		return fmt.Errorf("%w: unknown partition map type %q", ErrSpec, string(d.PartitionMap))
	}

	// Some devices have no boot partition and some use MBR maps; the root
	// partition is the only hard requirement.
	var rootSeen bool
	var lastNum uint32
	for i, p := range d.Partitions {
		if p.Type == parttype.Swap {
			return fmt.Errorf("%w: swap partitions are not allowed on raw images (partition %d)", ErrSpec, p.Num)
		}
		if !parttype.Valid(p.Type) {
			return fmt.Errorf("%w: unknown partition type %q in partition %d", ErrSpec, string(p.Type), p.Num)
		}
		if p.Num == 0 {
			return fmt.Errorf("%w: partition numbers should start from 1", ErrSpec)
		}
		if p.Num < lastNum {
			return fmt.Errorf("%w: please keep the partitions in order (partition %d after %d)", ErrSpec, p.Num, lastNum)
		}
		if p.Num == lastNum {
			return fmt.Errorf("%w: duplicate partition number %d", ErrSpec, p.Num)
		}
		if p.Usage == UsageRootfs {
			if rootSeen {
				return fmt.Errorf("%w: more than one root partition defined", ErrSpec)
			}
			rootSeen = true
		}
		if p.Size == 0 && i != len(d.Partitions)-1 {
			return fmt.Errorf("%w: partition %d wants all remaining space but is not the last partition", ErrSpec, p.Num)
		}
		if p.Label != "" {
			if d.PartitionMap == MapMBR {
				return fmt.Errorf("%w: MBR partition maps do not allow partition labels, found one in partition %d", ErrSpec, p.Num)
			}
			if len([]rune(p.Label)) > 35 {
				return fmt.Errorf("%w: label for partition %d exceeds the 35-character limit", ErrSpec, p.Num)
			}
		}
		if p.Filesystem != "" {
			if !filesystem.Valid(p.Filesystem) {
				return fmt.Errorf("%w: unknown filesystem %q in partition %d", ErrSpec, string(p.Filesystem), p.Num)
			}
			if err := p.Filesystem.CheckLabel(p.FSLabel); err != nil {
				return fmt.Errorf("%w: partition %d: %w", ErrSpec, p.Num, err)
			}
		}
		lastNum = p.Num
	}
	if !rootSeen {
		return fmt.Errorf("%w: no root partition defined", ErrSpec)
	}

	for i := range d.Bootloaders {
		b := &d.Bootloaders[i]
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%w: bootloader action %d: %w", ErrSpec, i+1, err)
		}
		if b.Method == bootloader.FlashPartition && b.Partition > lastNum {
			return fmt.Errorf("%w: bootloader action %d flashes partition %d, which does not exist",
				ErrSpec, i+1, b.Partition)
		}
	}
	return nil
}
