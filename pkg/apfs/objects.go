// Package apfs implements read-only access to an Apple File System
// container: the container superblock and checkpoint, the object map that
// resolves virtual object identifiers to physical blocks, a volume's
// file-system B-tree, and the fork reader needed to resolve a path to file
// data (Apple File System Reference, "Objects" through "File-System
// Objects").
//
// Unlike HFS+/UDIF, every APFS on-disk structure is little-endian.
package apfs

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-dmgpkg/pkg/codec"
)

// byteOrder is the fixed on-disk byte order for every APFS structure.
var byteOrder = binary.LittleEndian

// OidT is an object identifier: a logical block address for a physical
// object, or an opaque number for an ephemeral or virtual object.
type OidT uint64

// XidT is a transaction identifier; zero is never valid.
type XidT uint64

// Paddr is a physical block address.
type Paddr int64

const (
	oidInvalid       OidT = 0
	oidNxSuperblock  OidT = 1
	oidReservedCount      = 1024
)

const xidInvalid XidT = 0

// objPhys is the 32-byte header at the start of every physical, virtual,
// and ephemeral object.
type objPhys struct {
	Checksum uint64 // raw on-disk bytes, read separately for verification
	Oid      OidT
	Xid      XidT
	Type     uint32
	Subtype  uint32
}

const objPhysSize = 32

func parseObjPhys(b []byte) objPhys {
	return objPhys{
		Checksum: byteOrder.Uint64(b[0:8]),
		Oid:      OidT(byteOrder.Uint64(b[8:16])),
		Xid:      XidT(byteOrder.Uint64(b[16:24])),
		Type:     byteOrder.Uint32(b[24:28]),
		Subtype:  byteOrder.Uint32(b[28:32]),
	}
}

// Object type/storage masks and values (Apple File System Reference,
// "Objects").
const (
	objectTypeMask      uint32 = 0x0000ffff
	objStorageTypeMask  uint32 = 0xc0000000
	objVirtual          uint32 = 0x00000000
	objEphemeral        uint32 = 0x80000000
	objPhysical         uint32 = 0x40000000
	objectTypeNxSupers  uint32 = 0x00000001
	objectTypeBtree     uint32 = 0x00000002
	objectTypeBtreeNode uint32 = 0x00000003
	objectTypeOmap      uint32 = 0x0000000b
	objectTypeFs        uint32 = 0x0000000d
)

func (o objPhys) objType() uint32 { return o.Type & objectTypeMask }

// verifyFletcher64 checks o's stored checksum against a Fletcher-64 of raw
// (the full on-disk object, including its 32-byte header). The checksum
// field itself is excluded from the sum rather than zeroed, which is
// equivalent: Fletcher-64's running sums are unaffected by leading zero
// words (see pkg/codec.Fletcher64).
func verifyFletcher64(raw []byte) bool {
	if len(raw) < 8 {
		return false
	}
	want := byteOrder.Uint64(raw[0:8])
	got := codec.Fletcher64(raw[8:])
	return got == want
}
