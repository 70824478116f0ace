package disk

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// ErrNoSpace is wrapped by allocation failures: no free range fits a
// requested size, or the final range is narrower than the placement minimum.
var ErrNoSpace = errors.New("not enough free space")

// Range is a contiguous run of sectors starting at LBA Start.
type Range struct {
	Start  uint64
	Length uint64
}

// Allocator computes free sector ranges over the usable window of a partition
// table, given the set of occupied regions. The window runs from First to
// Last (both inclusive); the table metadata itself is outside the window.
type Allocator struct {
	// First and Last bound the usable LBAs, inclusive.
	First uint64
	Last  uint64
	// Align is the placement granularity in sectors. Free range starts are
	// rounded up to it, so anything handed out by FindFirstFit is aligned.
	Align uint64

	occupied []Range
}

// NewAllocator returns an allocator for the usable window [first, last] with
// the given alignment granularity. An align of 0 is treated as 1.
func NewAllocator(first, last, align uint64) *Allocator {
	if align == 0 {
		align = 1
	}
	return &Allocator{First: first, Last: last, Align: align}
}

// Occupy marks [start, start+length) as taken.
func (a *Allocator) Occupy(start, length uint64) {
	if length == 0 {
		return
	}
	a.occupied = append(a.occupied, Range{Start: start, Length: length})
}

func alignUp(v, align uint64) uint64 {
	rem := v % align
	if rem == 0 {
		return v
	}
	return v + align - rem
}

// FreeRanges returns the unoccupied runs within the usable window, ascending
// by start. Starts are rounded up to the alignment granularity; runs that
// vanish after rounding are dropped.
func (a *Allocator) FreeRanges() []Range {
	occ := slices.Clone(a.occupied)
	slices.SortFunc(occ, func(x, y Range) int {
		switch {
		case x.Start < y.Start:
			return -1
		case x.Start > y.Start:
			return 1
		}
		return 0
	})

	var free []Range
	cursor := a.First
	for _, r := range occ {
		end := r.Start + r.Length // exclusive
		if r.Start > cursor {
			free = appendAligned(free, cursor, min(r.Start-1, a.Last), a.Align)
		}
		if end > cursor {
			cursor = end
		}
		if cursor > a.Last {
			return free
		}
	}
	return appendAligned(free, cursor, a.Last, a.Align)
}

// appendAligned adds the run [start, last] (inclusive) with its start rounded
// up, dropping it if rounding consumes it entirely.
func appendAligned(free []Range, start, last, align uint64) []Range {
	start = alignUp(start, align)
	if start > last {
		return free
	}
	return append(free, Range{Start: start, Length: last - start + 1})
}

// FindFirstFit scans the free ranges in ascending order and returns the start
// of the first one that accommodates size sectors. First-fit is sufficient
// here: partitions are declared in a fixed, caller-controlled order, so
// fragmentation is not adversarial.
func (a *Allocator) FindFirstFit(size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("cannot place an empty partition")
	}
	for _, r := range a.FreeRanges() {
		if r.Length >= size {
			return r.Start, nil
		}
	}
	return 0, fmt.Errorf("%w for %d sectors", ErrNoSpace, size)
}
