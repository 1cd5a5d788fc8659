package hfsplus

import (
	"io"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// forkReader provides random access to a fork's logical byte range,
// translating a logical offset into the volume's allocation blocks via
// the fork's initial extents and, when those run out, the extents
// overflow B-tree (TN1150 "Extents Overflow File").
type forkReader struct {
	vol      *Volume
	fork     ForkData
	cnid     CatalogNodeID
	forkType uint8
}

func newForkReader(v *Volume, fork ForkData, cnid CatalogNodeID, forkType uint8) (*forkReader, error) {
	return &forkReader{vol: v, fork: fork, cnid: cnid, forkType: forkType}, nil
}

// extentAt returns the extent covering logical allocation block
// blockIndex and the starting allocation block that extent itself begins
// at within the fork, continuing into the extents overflow tree as
// needed.
func (fr *forkReader) extentAt(blockIndex uint32) (ExtentDescriptor, uint32, bool) {
	var blockBase uint32
	extents := fr.fork.Extents[:]
	for {
		for _, e := range extents {
			if e.BlockCount == 0 {
				return ExtentDescriptor{}, 0, false
			}
			if blockIndex < blockBase+e.BlockCount {
				return e, blockBase, true
			}
			blockBase += e.BlockCount
		}
		next, ok := fr.vol.lookupExtents(fr.cnid, fr.forkType, blockBase)
		if !ok {
			return ExtentDescriptor{}, 0, false
		}
		extents = next[:]
	}
}

// ReadAt implements io.ReaderAt over the fork's logical byte range.
func (fr *forkReader) ReadAt(p []byte, off int64) (int, error) {
	blockSize := int64(fr.vol.header.BlockSize)
	if blockSize == 0 {
		return 0, dmgerr.New(dmgerr.BadHeader, "hfsplus.forkReader.ReadAt")
	}
	if off >= fr.Size() {
		return 0, io.EOF
	}
	if want := fr.Size() - off; int64(len(p)) > want {
		p = p[:want]
	}

	total := 0
	for total < len(p) {
		logicalOff := off + int64(total)
		blockIndex := uint32(logicalOff / blockSize)
		blockOff := logicalOff % blockSize

		extent, blockBase, ok := fr.extentAt(blockIndex)
		if !ok {
			if total == 0 {
				return 0, io.EOF
			}
			return total, io.EOF
		}

		physicalBlock := extent.StartBlock + (blockIndex - blockBase)
		physicalOff := int64(physicalBlock)*blockSize + blockOff

		// Clamp the read to the remainder of this extent so the next
		// iteration re-resolves via extentAt rather than assuming
		// contiguity across extent boundaries.
		remainingInExtent := int64(extent.BlockCount-(blockIndex-blockBase))*blockSize - blockOff
		want := int64(len(p) - total)
		if want > remainingInExtent {
			want = remainingInExtent
		}

		n, err := fr.vol.src.ReadAt(p[total:int64(total)+want], physicalOff)
		total += n
		if err != nil {
			return total, dmgerr.Wrap(dmgerr.Io, "hfsplus.forkReader.ReadAt", err)
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}

// Size returns the fork's logical byte length.
func (fr *forkReader) Size() int64 { return int64(fr.fork.LogicalSize) }
