package parttype_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/device-image-builder/internal/parttype"
)

func TestToGUID(t *testing.T) {
	for _, tc := range []struct {
		typ  parttype.Type
		guid string
	}{
		{parttype.EFI, "c12a7328-f81f-11d2-ba4b-00a0c93ec93b"},
		{parttype.Linux, "0fc63daf-8483-4772-8e79-3d69d8477de4"},
		{parttype.Basic, "ebd0a0a2-b9e5-4433-87c0-68b6b72699c7"},
		{parttype.BIOSBoot, "21686148-6449-6e6f-744e-656564454649"},
		{parttype.Swap, "0657fd6d-a4ab-43c4-84e5-0933c84b4f4f"},
	} {
		g, err := parttype.ToGUID(tc.typ)
		require.NoError(t, err)
		assert.Equal(t, tc.guid, g.String())
	}
}

func TestToMBRByte(t *testing.T) {
	for _, tc := range []struct {
		typ parttype.Type
		b   byte
	}{
		{parttype.EFI, 0xef},
		{parttype.Linux, 0x83},
		{parttype.Basic, 0x0c},
		{parttype.Swap, 0x82},
	} {
		b, err := parttype.ToMBRByte(tc.typ)
		require.NoError(t, err)
		assert.Equal(t, tc.b, b)
	}
}

func TestBIOSBootHasNoMBRByte(t *testing.T) {
	_, err := parttype.ToMBRByte(parttype.BIOSBoot)
	require.Error(t, err)
	var resErr *parttype.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, parttype.BIOSBoot, resErr.Type)
	assert.Equal(t, `partition type "bios_boot" has no MBR representation`, err.Error())
}

func TestUnknownType(t *testing.T) {
	assert.False(t, parttype.Valid(parttype.Type("exfat")))
	_, err := parttype.ToGUID(parttype.Type("exfat"))
	assert.Error(t, err)
}
