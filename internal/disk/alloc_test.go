package disk_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/device-image-builder/internal/disk"
)

func TestFreeRangesEmptyTable(t *testing.T) {
	// 512-byte sectors: usable window starts at LBA 34, 1 MiB alignment is
	// 2048 sectors, so the single free range must start at LBA 2048.
	a := disk.NewAllocator(34, 204799, 2048)
	free := a.FreeRanges()
	require.Len(t, free, 1)
	assert.Equal(t, disk.Range{Start: 2048, Length: 202752}, free[0])
}

func TestFreeRangesAfterOccupy(t *testing.T) {
	a := disk.NewAllocator(34, 1048575, 2048)
	a.Occupy(2048, 204800)  // [2048, 206847]
	a.Occupy(411648, 2048)  // [411648, 413695]
	free := a.FreeRanges()
	require.Len(t, free, 2)
	// gap between the two partitions, already aligned
	assert.Equal(t, disk.Range{Start: 206848, Length: 204800}, free[0])
	// tail up to the last usable LBA
	assert.Equal(t, disk.Range{Start: 413696, Length: 634880}, free[1])
}

func TestFreeRangesDropsVanishingRuns(t *testing.T) {
	// The run between LBA 34 and 2047 disappears entirely after aligning
	// its start up to 2048.
	a := disk.NewAllocator(34, 409599, 2048)
	a.Occupy(2048, 204800)
	free := a.FreeRanges()
	require.Len(t, free, 1)
	assert.Equal(t, uint64(206848), free[0].Start)
}

func TestFreeRangesUnsortedOccupied(t *testing.T) {
	a := disk.NewAllocator(34, 1048575, 2048)
	a.Occupy(411648, 2048)
	a.Occupy(2048, 204800)
	free := a.FreeRanges()
	require.Len(t, free, 2)
	assert.Equal(t, uint64(206848), free[0].Start)
	assert.Equal(t, uint64(413696), free[1].Start)
}

func TestFindFirstFit(t *testing.T) {
	a := disk.NewAllocator(34, 1048575, 2048)
	a.Occupy(2048, 204800)
	a.Occupy(411648, 2048)

	// fits into the gap between the partitions
	start, err := a.FindFirstFit(100000)
	require.NoError(t, err)
	assert.Equal(t, uint64(206848), start)

	// too big for the gap, lands after the second partition
	start, err = a.FindFirstFit(300000)
	require.NoError(t, err)
	assert.Equal(t, uint64(413696), start)

	// too big for the disk
	_, err = a.FindFirstFit(10000000)
	require.ErrorIs(t, err, disk.ErrNoSpace)
}

func TestFindFirstFitZero(t *testing.T) {
	a := disk.NewAllocator(34, 4096, 2048)
	_, err := a.FindFirstFit(0)
	assert.Error(t, err)
}

func TestFreeRanges4KSectors(t *testing.T) {
	// 4096-byte sectors: 1 MiB alignment is 256 sectors.
	a := disk.NewAllocator(6, 262143, 256)
	free := a.FreeRanges()
	require.Len(t, free, 1)
	assert.Equal(t, uint64(256), free[0].Start)
}
