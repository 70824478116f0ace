// Package parttype maps the abstract partition-type tags used in device.toml
// to their on-disk representations: a type GUID for GPT tables and a type
// byte for classic MBR tables.
package parttype

import (
	"fmt"

	"github.com/google/uuid"
)

// Type is an abstract partition role tag.
type Type string

// Known partition types.
const (
	EFI      Type = "efi"
	Linux    Type = "linux"
	Basic    Type = "basic"
	BIOSBoot Type = "bios_boot"
	Swap     Type = "swap"
)

// ResolutionError reports a type that has no representation in the requested
// table format. A spec may legitimately request e.g. a BIOS boot partition on
// an MBR device, so this is a reportable error rather than a panic.
type ResolutionError struct {
	Type   Type
	Format string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("partition type %q has no %s representation", string(e.Type), e.Format)
}

var gptGUIDs = map[Type]uuid.UUID{
	EFI:      uuid.MustParse("c12a7328-f81f-11d2-ba4b-00a0c93ec93b"),
	Linux:    uuid.MustParse("0fc63daf-8483-4772-8e79-3d69d8477de4"),
	Basic:    uuid.MustParse("ebd0a0a2-b9e5-4433-87c0-68b6b72699c7"),
	BIOSBoot: uuid.MustParse("21686148-6449-6e6f-744e-656564454649"),
	Swap:     uuid.MustParse("0657fd6d-a4ab-43c4-84e5-0933c84b4f4f"),
}

var mbrBytes = map[Type]byte{
	EFI:   0xef,
	Linux: 0x83,
	Basic: 0x0c,
	Swap:  0x82,
}

// Valid reports whether t names a known partition type.
func Valid(t Type) bool {
	_, ok := gptGUIDs[t]
	return ok
}

// ToGUID resolves t to its GPT type GUID.
func ToGUID(t Type) (uuid.UUID, error) {
	g, ok := gptGUIDs[t]
	if !ok {
		return uuid.Nil, &ResolutionError{Type: t, Format: "GPT"}
	}
	return g, nil
}

// ToMBRByte resolves t to its MBR type byte. GPT-only types such as
// bios_boot have none.
func ToMBRByte(t Type) (byte, error) {
	b, ok := mbrBytes[t]
	if !ok {
		return 0, &ResolutionError{Type: t, Format: "MBR"}
	}
	return b, nil
}
