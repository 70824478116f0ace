package image_test

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/device-image-builder/internal/device"
	"github.com/osbuild/device-image-builder/internal/disk"
	"github.com/osbuild/device-image-builder/internal/image"
	"github.com/osbuild/device-image-builder/internal/parttype"
)

func makeImage(t *testing.T, size uint64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, image.CreateSparseFile(path, size))
	return path
}

func gptSpec() *device.DeviceSpec {
	return &device.DeviceSpec{
		ID:            "board-a",
		Vendor:        "acme",
		Arch:          device.Arm64,
		Name:          "Acme Board A",
		PartitionMap:  device.MapGPT,
		NumPartitions: 3,
		Size:          device.DefaultVariantSizes(),
		Partitions: []device.PartitionSpec{
			{Num: 1, Size: 204800, Type: parttype.EFI, Usage: device.UsageBoot},
			{Num: 2, Size: 409600, Type: parttype.Linux, Usage: device.UsageData},
			{Num: 3, Size: 0, Type: parttype.Linux, Usage: device.UsageRootfs},
		},
	}
}

// gptEntry reads the raw on-disk entry for the 1-based partition number.
func gptEntry(t *testing.T, raw []byte, num int) (start, end uint64) {
	t.Helper()
	off := 2*512 + (num-1)*128
	return binary.LittleEndian.Uint64(raw[off+32 : off+40]),
		binary.LittleEndian.Uint64(raw[off+40 : off+48])
}

func TestPartitionGPTLayout(t *testing.T) {
	path := makeImage(t, 512*disk.Mebibyte)
	spec := gptSpec()
	require.NoError(t, spec.Validate())

	data, err := image.Partition(spec, path)
	require.NoError(t, err)
	assert.Equal(t, 3, data.RootPartNum)
	_, err = uuid.Parse(data.RootPartUUID)
	assert.NoError(t, err)
	assert.Nil(t, data.EfiPartNum)
	assert.Nil(t, data.BootPartNum)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// protective MBR guards the GPT
	assert.Equal(t, byte(0xee), raw[446+4])
	assert.Equal(t, []byte("EFI PART"), raw[512:520])

	// partitions pack at 1 MiB alignment, the last one fills the disk up
	// to the backup structures minus one sector
	start, end := gptEntry(t, raw, 1)
	assert.Equal(t, uint64(2048), start)
	assert.Equal(t, uint64(206847), end)
	start, end = gptEntry(t, raw, 2)
	assert.Equal(t, uint64(206848), start)
	assert.Equal(t, uint64(616447), end)
	start, end = gptEntry(t, raw, 3)
	assert.Equal(t, uint64(616448), start)
	lastUsable := uint64(512*disk.Mebibyte/512) - 2 - 32
	assert.Equal(t, lastUsable-1, end)
}

func TestPartitionGPTDeterministicLayout(t *testing.T) {
	spec := gptSpec()
	pathA := makeImage(t, 512*disk.Mebibyte)
	pathB := makeImage(t, 512*disk.Mebibyte)

	dataA, err := image.Partition(spec, pathA)
	require.NoError(t, err)
	dataB, err := image.Partition(spec, pathB)
	require.NoError(t, err)

	rawA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	rawB, err := os.ReadFile(pathB)
	require.NoError(t, err)

	// identical geometry, fresh identity
	for num := 1; num <= 3; num++ {
		startA, endA := gptEntry(t, rawA, num)
		startB, endB := gptEntry(t, rawB, num)
		assert.Equal(t, startA, startB)
		assert.Equal(t, endA, endB)
	}
	assert.NotEqual(t, dataA.RootPartUUID, dataB.RootPartUUID)
}

func TestPartitionGPTExplicitStart(t *testing.T) {
	spec := gptSpec()
	start := uint64(4096)
	spec.Partitions[0].StartSector = &start
	path := makeImage(t, 512*disk.Mebibyte)

	_, err := image.Partition(spec, path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	got, _ := gptEntry(t, raw, 1)
	assert.Equal(t, uint64(4096), got)
}

func TestPartitionGPTNoSpace(t *testing.T) {
	spec := gptSpec()
	// 250 MiB fits the first partition but not the second
	path := makeImage(t, 250*disk.Mebibyte)

	_, err := image.Partition(spec, path)
	require.Error(t, err)
	assert.ErrorIs(t, err, disk.ErrNoSpace)
	assert.ErrorContains(t, err, "partition 2")
}

func TestPartitionMBR(t *testing.T) {
	spec := &device.DeviceSpec{
		ID:            "board-m",
		Vendor:        "acme",
		Arch:          device.Arm64,
		Name:          "Acme Board M",
		PartitionMap:  device.MapMBR,
		NumPartitions: 2,
		Size:          device.DefaultVariantSizes(),
		Partitions: []device.PartitionSpec{
			{Num: 1, Size: 204800, Type: parttype.Basic, Usage: device.UsageBoot},
			{Num: 2, Size: 0, Type: parttype.Linux, Usage: device.UsageRootfs},
		},
	}
	require.NoError(t, spec.Validate())
	path := makeImage(t, 256*disk.Mebibyte)

	data, err := image.Partition(spec, path)
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x55, 0xaa}, raw[510:512])

	// boot partition carries the active flag
	assert.Equal(t, byte(0x80), raw[446])
	assert.Equal(t, byte(0x0c), raw[446+4])
	assert.Equal(t, uint32(2048), binary.LittleEndian.Uint32(raw[446+8:446+12]))
	assert.Equal(t, uint32(204800), binary.LittleEndian.Uint32(raw[446+12:446+16]))

	// root fills the rest, PARTUUID derives from the disk signature
	assert.Equal(t, byte(0x00), raw[462])
	assert.Equal(t, byte(0x83), raw[462+4])
	sig := binary.LittleEndian.Uint32(raw[440:444])
	assert.Equal(t, 2, data.RootPartNum)
	assert.Equal(t, fmt.Sprintf("%08x-02", sig), data.RootPartUUID)
}

func TestPartitionMBRRejects64BitValues(t *testing.T) {
	base := func() *device.DeviceSpec {
		return &device.DeviceSpec{
			PartitionMap:  device.MapMBR,
			NumPartitions: 2,
			Partitions: []device.PartitionSpec{
				{Num: 1, Size: 204800, Type: parttype.Basic, Usage: device.UsageBoot},
				{Num: 2, Size: 0, Type: parttype.Linux, Usage: device.UsageRootfs},
			},
		}
	}

	t.Run("start sector", func(t *testing.T) {
		spec := base()
		start := uint64(1)<<32 + 16384
		spec.Partitions[0].StartSector = &start
		path := makeImage(t, 256*disk.Mebibyte)

		_, err := image.Partition(spec, path)
		require.Error(t, err)
		assert.ErrorContains(t, err, "start sector 4294983680 of partition 1 exceeds the limit of MBR")

		// the truncated LBA must not have been written anywhere
		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotEqual(t, uint32(16384), binary.LittleEndian.Uint32(raw[446+8:446+12]))
	})

	t.Run("size", func(t *testing.T) {
		spec := base()
		spec.Partitions[0].Size = uint64(1)<<32 + 2048
		path := makeImage(t, 256*disk.Mebibyte)

		_, err := image.Partition(spec, path)
		require.Error(t, err)
		assert.ErrorContains(t, err, "size of partition 1 exceeds the limit of MBR")
	})
}

func TestPartitionMBRTooManyPartitions(t *testing.T) {
	spec := &device.DeviceSpec{
		PartitionMap:  device.MapMBR,
		NumPartitions: 5,
		Partitions: []device.PartitionSpec{
			{Num: 1, Size: 2048, Type: parttype.Linux},
			{Num: 2, Size: 2048, Type: parttype.Linux},
			{Num: 3, Size: 2048, Type: parttype.Linux},
			{Num: 4, Size: 2048, Type: parttype.Linux},
			{Num: 5, Size: 2048, Type: parttype.Linux, Usage: device.UsageRootfs},
		},
	}
	path := makeImage(t, 256*disk.Mebibyte)

	_, err := image.Partition(spec, path)
	assert.ErrorContains(t, err, "extended and logical partitions are not supported")
}

func TestPartitionBIOSBootHasNoMBRType(t *testing.T) {
	spec := &device.DeviceSpec{
		PartitionMap:  device.MapMBR,
		NumPartitions: 2,
		Partitions: []device.PartitionSpec{
			{Num: 1, Size: 2048, Type: parttype.BIOSBoot},
			{Num: 2, Size: 0, Type: parttype.Linux, Usage: device.UsageRootfs},
		},
	}
	path := makeImage(t, 256*disk.Mebibyte)

	_, err := image.Partition(spec, path)
	require.Error(t, err)
	var resErr *parttype.ResolutionError
	assert.ErrorAs(t, err, &resErr)
}
