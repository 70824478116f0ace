package gpt

import "github.com/google/uuid"

// EncodeGUID and DecodeGUID expose the mixed-endian codec to the tests.
func EncodeGUID(u uuid.UUID) [16]byte  { return encodeGUID(u) }
func DecodeGUID(b []byte) uuid.UUID    { return decodeGUID(b) }
