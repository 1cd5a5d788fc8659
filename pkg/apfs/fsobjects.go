package apfs

import (
	"time"
)

// File-system record types (Apple File System Reference, "File-System
// Objects", j_obj_types). Only the types a read-only extractor needs to
// resolve paths and file data are named; Xattr records share an inode's
// oid and are skipped by inodeCmp/dirRangeCmp's type filter without
// needing their own constant here (spec's "ignored except for size" —
// their data, when present, is irrelevant to path resolution or file
// extraction).
const (
	jObjTypeInode      uint8 = 3
	jObjTypeFileExtent uint8 = 8
	jObjTypeDirRec     uint8 = 9
)

const (
	objIdMask   uint64 = 0x0fffffffffffffff
	objTypeMask uint64 = 0xf000000000000000
	objTypeShift       = 60
)

// jKeyHeader decodes the 8-byte j_key_t that prefixes every file-system
// record's key.
func jKeyHeader(key []byte) (id uint64, typ uint8) {
	raw := byteOrder.Uint64(key[0:8])
	return raw & objIdMask, uint8((raw & objTypeMask) >> objTypeShift)
}

// Directory entry file types (Apple File System Reference, "Directory
// Entry File Types" — these use the same numbers as POSIX's DT_*
// values).
const (
	dtDir uint16 = 4
	dtReg uint16 = 8
	dtLnk uint16 = 10
)

const drecTypeMask uint16 = 0x000f

// apfsEpoch converts a j_*_val_t timestamp (nanoseconds since the Unix
// epoch) to time.Time.
func apfsEpoch(ns uint64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(ns)).UTC()
}

// Entry is a resolved file-system object: enough of its inode and
// directory-entry fields to stat, list, and read it.
type Entry struct {
	ObjID     uint64
	Name      string
	IsDir     bool
	IsLink    bool
	IsRegular bool
	Size      uint64
	Mode      uint16
	ModTime   time.Time

	privateID uint64 // dstream id file extents are keyed by
}

// internal_flags bit relevant to size resolution (Apple File System
// Reference, "Inode Flags").
const inodeHasUncompressedSize uint64 = 0x00040000

// decodeInode parses a j_inode_val_t payload (everything after the j_key_t
// header) into its fixed fields, plus the trailing xfields region. Name
// and type come from the parent's drec and aren't decoded here.
func decodeInode(val []byte) (privateID uint64, modTime time.Time, uncompressedSize uint64, hasUncompressedSize bool, xfields []byte) {
	privateID = byteOrder.Uint64(val[8:16])
	modTime = apfsEpoch(byteOrder.Uint64(val[24:32]))
	if len(val) >= 56 {
		hasUncompressedSize = byteOrder.Uint64(val[48:56])&inodeHasUncompressedSize != 0
	}
	// uncompressed_size sits after owner/group/mode/pad, at the end of
	// j_inode_val_t's fixed portion; xfields immediately follow it. Its
	// value is only meaningful when INODE_HAS_UNCOMPRESSED_SIZE is set —
	// for a regular, uncompressed file the logical size instead lives in
	// the inode's XF_DATA_STREAM xfield (decodeDstreamSize).
	if len(val) >= 92 {
		uncompressedSize = byteOrder.Uint64(val[84:92])
		xfields = val[92:]
	}
	return privateID, modTime, uncompressedSize, hasUncompressedSize, xfields
}

// decodeDstreamSize extracts the j_dstream_t logical size and the inode's
// own name (XF_NAME), if present, from an inode's extended-fields region.
func decodeDstreamSize(xfields []byte) (size uint64, name string) {
	xFields(xfields, func(typ uint8, value []byte) {
		switch typ {
		case xfDstream:
			if len(value) >= 8 {
				size = byteOrder.Uint64(value[0:8])
			}
		case xfINodeName:
			if i := indexByte(value, 0); i >= 0 {
				value = value[:i]
			}
			name = string(value)
		}
	})
	return size, name
}

// decodeInodeMode extracts the BSD file mode from a j_inode_val_t payload.
func decodeInodeMode(val []byte) uint16 {
	// owner(4) + group(4) immediately precede mode(2) in j_inode_val_t's
	// fixed portion, themselves preceded by bsd_flags(4),
	// write_generation_counter(4), default_protection_class(4),
	// nchildren_or_nlink(4): 56 (internal_flags end) + 4 + 4 + 4 + 4 = 72
	// bytes into the value for owner, 76 for group, 80 for mode, with mode
	// and its 2-byte pad ending at 84.
	if len(val) < 84 {
		return 0
	}
	return byteOrder.Uint16(val[80:82])
}

// xFields walks an inode or directory-entry record's extended-fields
// area (x_field_t array, Apple File System Reference "Extended Fields"):
// a 4-byte header (count, used-bytes padded) followed by that many
// x_field_t descriptors (type, flags, size, 4 bytes each), followed by the
// tightly packed, 8-byte-aligned field data in the same order.
func xFields(data []byte, fn func(typ uint8, value []byte)) {
	if len(data) < 4 {
		return
	}
	count := byteOrder.Uint16(data[0:2])
	descOff := 4
	dataOff := 4 + int(count)*4
	for i := 0; i < int(count); i++ {
		if descOff+4 > len(data) {
			return
		}
		typ := data[descOff]
		size := byteOrder.Uint16(data[descOff+2 : descOff+4])
		descOff += 4

		if dataOff+int(size) > len(data) {
			return
		}
		fn(typ, data[dataOff:dataOff+int(size)])

		// Field data is padded up to the next 8-byte boundary.
		adv := int(size)
		if rem := adv % 8; rem != 0 {
			adv += 8 - rem
		}
		dataOff += adv
	}
}

// Extended field types used when decoding an inode's xfields (Apple File
// System Reference, "Extended Fields").
const (
	xfINodeName    uint8 = 1 // name
	xfDstream      uint8 = 8 // j_dstream_t: logical size + allocation info
)

// decodeDrecValue parses a j_drec_val_t payload.
func decodeDrecValue(val []byte) (fileID uint64, flags uint16) {
	fileID = byteOrder.Uint64(val[0:8])
	flags = byteOrder.Uint16(val[16:18])
	return fileID, flags
}

// decodeFileExtentKey parses a j_file_extent_key_t payload (the 8 bytes
// after the j_key_t header).
func decodeFileExtentKey(key []byte) (logicalAddr uint64) {
	return byteOrder.Uint64(key[8:16])
}

// decodeFileExtentValue parses a j_file_extent_val_t payload.
func decodeFileExtentValue(val []byte) (length, physBlock uint64) {
	lenAndFlags := byteOrder.Uint64(val[0:8])
	length = lenAndFlags & 0x00ffffffffffffff
	physBlock = byteOrder.Uint64(val[8:16])
	return length, physBlock
}
