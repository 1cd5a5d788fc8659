package hfsplus

import (
	"encoding/binary"
	"strings"
	"unicode/utf16"
)

// CatalogKey identifies a catalog record: the record's parent folder CNID
// plus its name within that folder (TN1150 "Catalog File").
type CatalogKey struct {
	ParentID CatalogNodeID
	NodeName string
}

// parseCatalogKey reads a key_length-prefixed CatalogKey from the start of
// a catalog B-tree record.
func parseCatalogKey(rec []byte) CatalogKey {
	// rec[0:2] is the stored key_length, already implied by the record's
	// own byte range; skip it and read parentID + name directly.
	parentID := binary.BigEndian.Uint32(rec[2:6])
	nameLen := binary.BigEndian.Uint16(rec[6:8])
	units := make([]uint16, nameLen)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(rec[8+i*2:])
	}
	return CatalogKey{ParentID: CatalogNodeID(parentID), NodeName: string(utf16.Decode(units))}
}

// catalogKeyByteLen returns the number of bytes parseCatalogKey consumed,
// so callers can find where the record's payload begins.
func catalogKeyByteLen(rec []byte) int {
	nameLen := binary.BigEndian.Uint16(rec[6:8])
	return 8 + int(nameLen)*2
}

// compareCatalogKeys orders two keys the way the volume's B-tree does:
// binary comparison on HFSX volumes, case-folded Unicode comparison
// ("fast Unicode compare") on HFS+ volumes (TN1150 "HFSX Volumes").
func compareCatalogKeys(a, b CatalogKey, caseFold bool) int {
	if a.ParentID != b.ParentID {
		if a.ParentID < b.ParentID {
			return -1
		}
		return 1
	}
	an, bn := a.NodeName, b.NodeName
	if caseFold {
		// Approximates TN1150's fast-Unicode-compare (a lowercase-fold
		// table over UTF-16 code units) with Go's byte-wise UTF-8 case
		// fold. Close enough for ASCII and most BMP names; a name whose
		// casing behaves differently under the two fold tables would sort
		// inconsistently with a real HFS+ driver.
		an, bn = strings.ToLower(an), strings.ToLower(bn)
	}
	return strings.Compare(an, bn)
}

func catalogKeyCompareFunc(target CatalogKey, caseFold bool) func([]byte) int {
	return func(rec []byte) int {
		return compareCatalogKeys(parseCatalogKey(rec), target, caseFold)
	}
}
