// Package gpt assembles GUID Partition Tables in memory and commits them to a
// block device: protective MBR, primary and backup headers, and both entry
// arrays, with the CRC32 and mixed-endian GUID rules the format demands.
package gpt

import (
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/osbuild/device-image-builder/internal/disk"
)

const (
	signature  = "EFI PART"
	revision   = 0x00010000 // 1.0
	headerSize = 92

	// NumEntries and EntrySize are the conventional array dimensions; every
	// mainstream tool writes and expects 128 entries of 128 bytes.
	NumEntries = 128
	EntrySize  = 128
)

// Entry is one partition slot of the entry array. Start and end LBAs are
// inclusive, per the UEFI specification.
type Entry struct {
	TypeGUID   uuid.UUID
	GUID       uuid.UUID
	StartLBA   uint64
	EndLBA     uint64
	Attributes uint64
	Name       string
}

// Table is a GPT assembled fully in memory and committed atomically by
// Write. Partitions are keyed by their 1-based partition number; insertion
// is validated against capacity, duplicates and the usable window before
// anything touches the device.
type Table struct {
	SectorSize uint64
	DiskGUID   uuid.UUID
	// Align is the placement granularity in sectors for computed starts.
	Align uint64

	totalLBA uint64
	entries  [NumEntries]*Entry
}

// New sizes an empty table for the device backing f, seeded with the given
// disk GUID. Nothing is written until Write is called.
func New(f *os.File, sectorSize uint64, diskGUID uuid.UUID) (*Table, error) {
	size, err := disk.Size(f)
	if err != nil {
		return nil, err
	}
	t := &Table{
		SectorSize: sectorSize,
		DiskGUID:   diskGUID,
		Align:      1,
		totalLBA:   size / sectorSize,
	}
	// protective MBR + two headers + two entry arrays, plus at least one
	// usable sector
	if t.totalLBA < 4+2*t.entrySectors() {
		return nil, fmt.Errorf("device %q is too small for a GPT (%d sectors)", f.Name(), t.totalLBA)
	}
	return t, nil
}

// entrySectors is the length of one entry array in sectors.
func (t *Table) entrySectors() uint64 {
	return (NumEntries*EntrySize + t.SectorSize - 1) / t.SectorSize
}

// FirstUsableLBA returns the first LBA available for partition data, right
// after the primary header and entry array.
func (t *Table) FirstUsableLBA() uint64 {
	return 2 + t.entrySectors()
}

// LastUsableLBA returns the last LBA available for partition data, right
// before the backup entry array and header.
func (t *Table) LastUsableLBA() uint64 {
	return t.totalLBA - 2 - t.entrySectors()
}

// LastLBA returns the device's last addressable LBA, where the backup header
// lives.
func (t *Table) LastLBA() uint64 {
	return t.totalLBA - 1
}

func (t *Table) allocator() *disk.Allocator {
	a := disk.NewAllocator(t.FirstUsableLBA(), t.LastUsableLBA(), t.Align)
	for _, e := range t.entries {
		if e != nil {
			a.Occupy(e.StartLBA, e.EndLBA-e.StartLBA+1)
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
func (t *Table) FindFirstFit(size uint64) (uint64, error) {
	return t.allocator().FindFirstFit(size)
}

// Insert places e at the 1-based partition number num. The slot must be
// empty, the LBA range must lie within the usable window and must not overlap
// an existing partition.
func (t *Table) Insert(num uint32, e Entry) error {
	if num < 1 || num > NumEntries {
		return fmt.Errorf("partition number %d out of range, GPT holds up to %d partitions", num, NumEntries)
	}
	if t.entries[num-1] != nil {
		return fmt.Errorf("partition %d is already present in the table", num)
	}
	if e.StartLBA > e.EndLBA {
		return fmt.Errorf("partition %d ends (LBA %d) before it starts (LBA %d)", num, e.EndLBA, e.StartLBA)
	}
	if e.StartLBA < t.FirstUsableLBA() || e.EndLBA > t.LastUsableLBA() {
		return fmt.Errorf("partition %d [%d, %d] exceeds the usable window [%d, %d]",
			num, e.StartLBA, e.EndLBA, t.FirstUsableLBA(), t.LastUsableLBA())
	}
	for i, other := range t.entries {
		if other == nil {
			continue
		}
		if e.StartLBA <= other.EndLBA && other.StartLBA <= e.EndLBA {
			return fmt.Errorf("partition %d [%d, %d] overlaps partition %d [%d, %d]",
				num, e.StartLBA, e.EndLBA, i+1, other.StartLBA, other.EndLBA)
		}
	}
	if len([]rune(e.Name)) > 36 {
		return fmt.Errorf("partition %d name %q does not fit the 36-code-unit name field", num, e.Name)
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

// WriteProtectiveMBR writes the legacy table at LBA 0 that covers the whole
// disk with a single 0xEE partition. Most partitioning tools refuse a disk
// carrying a bare GPT without one.
func (t *Table) WriteProtectiveMBR(f *os.File) error {
	sector := make([]byte, t.SectorSize)
	encodeProtectiveMBR(sector, t.totalLBA)
	if _, err := f.WriteAt(sector, 0); err != nil {
		return fmt.Errorf("cannot write protective MBR to %q: %w", f.Name(), err)
	}
	return nil
}

// Write commits the primary header and entry array, then the backup pair at
// the end of the device, and flushes everything to stable storage. The
// protective MBR is written separately by WriteProtectiveMBR.
func (t *Table) Write(f *os.File) error {
	array := t.encodeEntries()
	entrySectors := t.entrySectors()

	primary := t.encodeHeader(1, t.LastLBA(), 2, array)
	backup := t.encodeHeader(t.LastLBA(), 1, t.totalLBA-1-entrySectors, array)

	for _, chunk := range []struct {
		lba  uint64
		data []byte
	}{
		{1, primary},
		{2, array},
		{t.totalLBA - 1 - entrySectors, array},
		{t.LastLBA(), backup},
	} {
		if _, err := f.WriteAt(chunk.data, int64(chunk.lba*t.SectorSize)); err != nil {
			return fmt.Errorf("cannot write partition table to %q at LBA %d: %w", f.Name(), chunk.lba, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("cannot flush partition table to %q: %w", f.Name(), err)
	}
	return nil
}
