package hfsplus

import (
	"bytes"
	"encoding/binary"
)

// bigEndianRead is a small convenience over binary.Read for the
// fixed-size structs decoded throughout this package; every HFS+ on-disk
// structure is big-endian (TN1150).
func bigEndianRead(b []byte, v any) error {
	return binary.Read(bytes.NewReader(b), binary.BigEndian, v)
}
