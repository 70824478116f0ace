package gpt

import (
	"encoding/binary"
	"hash/crc32"
	"unicode/utf16"

	"github.com/google/uuid"
)

// GUIDs are stored on disk in RFC 4122 mixed-endian form: the first three
// fields little-endian, the last two big-endian. uuid.UUID holds the bulk
// big-endian string form, so the first eight bytes must be swapped field by
// field. Writing the bulk form instead makes every other tool display a
// different identifier than intended.
func encodeGUID(u uuid.UUID) [16]byte {
	var b [16]byte
	copy(b[:], u[:])
	b[0], b[1], b[2], b[3] = b[3], b[2], b[1], b[0]
	b[4], b[5] = b[5], b[4]
	b[6], b[7] = b[7], b[6]
	return b
}

// decodeGUID is the inverse of encodeGUID. The swap is self-inverse.
func decodeGUID(b []byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:16])
	u[0], u[1], u[2], u[3] = u[3], u[2], u[1], u[0]
	u[4], u[5] = u[5], u[4]
	u[6], u[7] = u[7], u[6]
	return u
}

// encodeEntries renders the full entry array. Empty slots stay zeroed.
func (t *Table) encodeEntries() []byte {
	buf := make([]byte, NumEntries*EntrySize)
	for i, e := range t.entries {
		if e == nil {
			continue
		}
		off := i * EntrySize
		typeGUID := encodeGUID(e.TypeGUID)
		partGUID := encodeGUID(e.GUID)
		copy(buf[off:], typeGUID[:])
		copy(buf[off+16:], partGUID[:])
		binary.LittleEndian.PutUint64(buf[off+32:], e.StartLBA)
		binary.LittleEndian.PutUint64(buf[off+40:], e.EndLBA)
		binary.LittleEndian.PutUint64(buf[off+48:], e.Attributes)
		// partition name: UTF-16LE, 36 code units, zero padded
		for j, cu := range utf16.Encode([]rune(e.Name)) {
			binary.LittleEndian.PutUint16(buf[off+56+2*j:], cu)
		}
	}
	return buf
}

// encodeHeader renders one header sector. current/other are the LBAs of this
// header and its counterpart; entriesLBA points at the array this header
// describes. The header CRC is computed over the first 92 bytes with the CRC
// field itself zeroed.
func (t *Table) encodeHeader(current, other, entriesLBA uint64, array []byte) []byte {
	buf := make([]byte, t.SectorSize)
	copy(buf[0:8], signature)
	binary.LittleEndian.PutUint32(buf[8:], revision)
	binary.LittleEndian.PutUint32(buf[12:], headerSize)
	// buf[16:20] header CRC, filled below
	// buf[20:24] reserved, zero
	binary.LittleEndian.PutUint64(buf[24:], current)
	binary.LittleEndian.PutUint64(buf[32:], other)
	binary.LittleEndian.PutUint64(buf[40:], t.FirstUsableLBA())
	binary.LittleEndian.PutUint64(buf[48:], t.LastUsableLBA())
	diskGUID := encodeGUID(t.DiskGUID)
	copy(buf[56:72], diskGUID[:])
	binary.LittleEndian.PutUint64(buf[72:], entriesLBA)
	binary.LittleEndian.PutUint32(buf[80:], NumEntries)
	binary.LittleEndian.PutUint32(buf[84:], EntrySize)
	binary.LittleEndian.PutUint32(buf[88:], crc32.ChecksumIEEE(array))
	binary.LittleEndian.PutUint32(buf[16:], crc32.ChecksumIEEE(buf[:headerSize]))
	return buf
}

// encodeProtectiveMBR fills sector with a classic table whose single 0xEE
// entry spans from LBA 1 to the end of the disk (clamped to 32 bits).
func encodeProtectiveMBR(sector []byte, totalLBA uint64) {
	size := totalLBA - 1
	if size > 0xFFFFFFFF {
		size = 0xFFFFFFFF
	}
	// first (and only) entry: not bootable, starts at CHS 0/0/2
	sector[446+1] = 0x00 // head
	sector[446+2] = 0x02 // sector
	sector[446+3] = 0x00 // cylinder
	sector[446+4] = 0xEE
	sector[446+5] = 0xFF
	sector[446+6] = 0xFF
	sector[446+7] = 0xFF
	binary.LittleEndian.PutUint32(sector[446+8:], 1)
	binary.LittleEndian.PutUint32(sector[446+12:], uint32(size))
	sector[510] = 0x55
	sector[511] = 0xAA
}
