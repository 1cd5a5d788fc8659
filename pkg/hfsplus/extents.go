package hfsplus

import "encoding/binary"

// ExtentKey indexes one record in the extents overflow B-tree: the file
// whose fork it continues, which fork, and the first allocation block the
// record covers (TN1150 "Extents Overflow File").
type ExtentKey struct {
	ForkType   uint8
	FileID     CatalogNodeID
	StartBlock uint32
}

const (
	forkTypeData uint8 = 0x00
	forkTypeRsrc uint8 = 0xFF
)

func parseExtentKey(rec []byte) ExtentKey {
	// rec[0:2] key_length, rec[2] forkType, rec[3] pad, rec[4:8] fileID,
	// rec[8:12] startBlock.
	return ExtentKey{
		ForkType:   rec[2],
		FileID:     CatalogNodeID(binary.BigEndian.Uint32(rec[4:8])),
		StartBlock: binary.BigEndian.Uint32(rec[8:12]),
	}
}

const extentKeyByteLen = 12

func compareExtentKeys(a, b ExtentKey) int {
	if a.FileID != b.FileID {
		if a.FileID < b.FileID {
			return -1
		}
		return 1
	}
	if a.ForkType != b.ForkType {
		if a.ForkType < b.ForkType {
			return -1
		}
		return 1
	}
	if a.StartBlock != b.StartBlock {
		if a.StartBlock < b.StartBlock {
			return -1
		}
		return 1
	}
	return 0
}

func extentKeyCompareFunc(target ExtentKey) func([]byte) int {
	return func(rec []byte) int {
		return compareExtentKeys(parseExtentKey(rec), target)
	}
}

// lookupExtents returns the next eight-extent record continuing fileID's
// fork at startBlock, found via the extents overflow B-tree. Volumes whose
// every fork fits in the initial ForkData.Extents array never call this.
func (v *Volume) lookupExtents(fileID CatalogNodeID, forkType uint8, startBlock uint32) ([8]ExtentDescriptor, bool) {
	if v.extents == nil {
		return [8]ExtentDescriptor{}, false
	}
	target := ExtentKey{ForkType: forkType, FileID: fileID, StartBlock: startBlock}
	node, err := v.extents.descend(extentKeyCompareFunc(target))
	if err != nil {
		return [8]ExtentDescriptor{}, false
	}
	for i := 0; i < int(node.numRecords); i++ {
		rec := node.record(i)
		key := parseExtentKey(rec)
		if compareExtentKeys(key, target) == 0 {
			var out [8]ExtentDescriptor
			payload := rec[extentKeyByteLen:]
			for j := 0; j < 8 && (j+1)*8 <= len(payload); j++ {
				out[j] = ExtentDescriptor{
					StartBlock: binary.BigEndian.Uint32(payload[j*8:]),
					BlockCount: binary.BigEndian.Uint32(payload[j*8+4:]),
				}
			}
			return out, true
		}
	}
	return [8]ExtentDescriptor{}, false
}
