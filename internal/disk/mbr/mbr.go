// Package mbr assembles classic Master Boot Record partition tables in
// memory and commits them to a block device. Extended and logical partitions
// are deliberately unsupported; four primaries is the ceiling.
package mbr

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/osbuild/device-image-builder/internal/disk"
)

const (
	// NumEntries is the hard limit of a classic table.
	NumEntries = 4

	entryOffset     = 446
	entrySize       = 16
	signatureOffset = 440

	// BootActive marks the legacy active partition.
	BootActive   = 0x80
	BootInactive = 0x00
)

// Entry is one primary partition slot. LBAs are 32-bit sector counts; the
// CHS fields of the on-disk entry are left zeroed, as every LBA-era tool
// expects.
type Entry struct {
	Boot     byte
	Type     byte
	StartLBA uint32
	Sectors  uint32
}

// Table is a classic partition table assembled in memory and committed
// atomically by Write, keyed by 1-based partition number.
type Table struct {
	SectorSize    uint32
	DiskSignature uint32
	// Align is the placement granularity in sectors for computed starts.
	Align uint32

	totalLBA uint32
	entries  [NumEntries]*Entry
}

// New sizes an empty table for the device backing f, seeded with the given
// 32-bit disk signature. Devices larger than 2^32 sectors are clamped; the
// space beyond stays unreachable, which is inherent to the format.
func New(f *os.File, sectorSize uint32, diskSignature uint32) (*Table, error) {
	size, err := disk.Size(f)
	if err != nil {
		return nil, err
	}
	totalLBA := size / uint64(sectorSize)
	if totalLBA > 0xFFFFFFFF {
		totalLBA = 0xFFFFFFFF
	}
	if totalLBA < 2 {
		return nil, fmt.Errorf("device %q is too small for a partition table (%d sectors)", f.Name(), totalLBA)
	}
	return &Table{
		SectorSize:    sectorSize,
		DiskSignature: diskSignature,
		Align:         1,
		totalLBA:      uint32(totalLBA),
	}, nil
}

func (t *Table) allocator() *disk.Allocator {
	// LBA 0 holds the table itself
	a := disk.NewAllocator(1, uint64(t.totalLBA)-1, uint64(t.Align))
	for _, e := range t.entries {
		if e != nil {
			a.Occupy(uint64(e.StartLBA), uint64(e.Sectors))
		}
	}
	return a
}

// FreeRanges returns the free sector runs of the table, ascending by start,
// with starts rounded up to the alignment granularity.
func (t *Table) FreeRanges() []disk.Range {
	return t.allocator().FreeRanges()
}

// FindFirstFit returns the first aligned free start that accommodates size
// sectors.
func (t *Table) FindFirstFit(size uint32) (uint32, error) {
	start, err := t.allocator().FindFirstFit(uint64(size))
	if err != nil {
		return 0, err
	}
	return uint32(start), nil
}

// Insert places e at the 1-based partition number num.
func (t *Table) Insert(num uint32, e Entry) error {
	if num < 1 || num > NumEntries {
		return fmt.Errorf("partition number %d out of range, an MBR holds up to %d primary partitions", num, NumEntries)
	}
	if t.entries[num-1] != nil {
		return fmt.Errorf("partition %d is already present in the table", num)
	}
	if e.Sectors == 0 {
		return fmt.Errorf("partition %d has no sectors", num)
	}
	if e.StartLBA < 1 || uint64(e.StartLBA)+uint64(e.Sectors) > uint64(t.totalLBA) {
		return fmt.Errorf("partition %d [%d, %d] exceeds the device (%d sectors)",
			num, e.StartLBA, uint64(e.StartLBA)+uint64(e.Sectors)-1, t.totalLBA)
	}
	for i, other := range t.entries {
		if other == nil {
			continue
		}
		if e.StartLBA <= other.StartLBA+other.Sectors-1 && other.StartLBA <= e.StartLBA+e.Sectors-1 {
			return fmt.Errorf("partition %d [%d, %d] overlaps partition %d [%d, %d]",
				num, e.StartLBA, e.StartLBA+e.Sectors-1, i+1, other.StartLBA, other.StartLBA+other.Sectors-1)
		}
	}
	entry := e
	t.entries[num-1] = &entry
	return nil
}

// Entry returns the partition at the 1-based number num, or nil.
func (t *Table) Entry(num uint32) *Entry {
	if num < 1 || num > NumEntries {
		return nil
	}
	return t.entries[num-1]
}

// Write commits the table sector at LBA 0 and flushes it to stable storage.
// The bootstrap code area is left zeroed; bootloader stages are staged by a
// separate step.
func (t *Table) Write(f *os.File) error {
	sector := make([]byte, t.SectorSize)
	binary.LittleEndian.PutUint32(sector[signatureOffset:], t.DiskSignature)
	// sector[444:446] stay zero (copy-protect flag unused)
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		off := entryOffset + i*entrySize
		sector[off] = e.Boot
		// CHS fields at off+1..3 and off+5..7 stay zero
		sector[off+4] = e.Type
		binary.LittleEndian.PutUint32(sector[off+8:], e.StartLBA)
		binary.LittleEndian.PutUint32(sector[off+12:], e.Sectors)
	}
	sector[510] = 0x55
	sector[511] = 0xAA
	if _, err := f.WriteAt(sector, 0); err != nil {
		return fmt.Errorf("cannot write partition table to %q: %w", f.Name(), err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("cannot flush partition table to %q: %w", f.Name(), err)
	}
	return nil
}
