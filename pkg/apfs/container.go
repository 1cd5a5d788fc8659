package apfs

import (
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

const (
	nxMagic uint32 = 0x4253584e // 'NXSB'

	nxMinBlockSize = 4096
	nxMaxBlockSize = 65536

	// nxSuperblockSize is the on-disk size of the fixed-size portion of
	// nx_superblock_t (Apple File System Reference, "Container
	// Superblock"): the object header plus every field through the
	// 32-entry counters array.
	nxSuperblockSize = 1376
)

// nxSuperblock is the container-wide superblock at block zero (and every
// checkpoint-descriptor-area copy thereafter).
type nxSuperblock struct {
	obj objPhys

	BlockSize              uint32
	BlockCount             uint64
	Features               uint64
	ReadOnlyCompatFeatures uint64
	IncompatFeatures       uint64
	UUID                   [16]byte
	NextOid                OidT
	NextXid                XidT

	XPDescBlocks uint32
	XPDataBlocks uint32
	XPDescBase   Paddr
	XPDataBase   Paddr
	XPDescNext   uint32
	XPDataNext   uint32
	XPDescIndex  uint32
	XPDescLen    uint32
	XPDataIndex  uint32
	XPDataLen    uint32

	SpacemanOid    OidT
	OmapOid        OidT
	ReaperOid      OidT
	MaxFileSystems uint32
	FSOid          [100]OidT
}

func parseNXSuperblock(raw []byte) (*nxSuperblock, error) {
	if len(raw) < nxSuperblockSize {
		return nil, dmgerr.New(dmgerr.Truncated, "apfs.parseNXSuperblock")
	}

	sb := &nxSuperblock{obj: parseObjPhys(raw[0:objPhysSize])}

	d := raw[objPhysSize:]
	magic := byteOrder.Uint32(d[0:4])
	if magic != nxMagic {
		return nil, dmgerr.New(dmgerr.BadMagic, "apfs.parseNXSuperblock")
	}
	sb.BlockSize = byteOrder.Uint32(d[4:8])
	sb.BlockCount = byteOrder.Uint64(d[8:16])
	sb.Features = byteOrder.Uint64(d[16:24])
	sb.ReadOnlyCompatFeatures = byteOrder.Uint64(d[24:32])
	sb.IncompatFeatures = byteOrder.Uint64(d[32:40])
	copy(sb.UUID[:], d[40:56])
	sb.NextOid = OidT(byteOrder.Uint64(d[56:64]))
	sb.NextXid = XidT(byteOrder.Uint64(d[64:72]))

	sb.XPDescBlocks = byteOrder.Uint32(d[72:76])
	sb.XPDataBlocks = byteOrder.Uint32(d[76:80])
	sb.XPDescBase = Paddr(byteOrder.Uint64(d[80:88]))
	sb.XPDataBase = Paddr(byteOrder.Uint64(d[88:96]))
	sb.XPDescNext = byteOrder.Uint32(d[96:100])
	sb.XPDataNext = byteOrder.Uint32(d[100:104])
	sb.XPDescIndex = byteOrder.Uint32(d[104:108])
	sb.XPDescLen = byteOrder.Uint32(d[108:112])
	sb.XPDataIndex = byteOrder.Uint32(d[112:116])
	sb.XPDataLen = byteOrder.Uint32(d[116:120])

	sb.SpacemanOid = OidT(byteOrder.Uint64(d[120:128]))
	sb.OmapOid = OidT(byteOrder.Uint64(d[128:136]))
	sb.ReaperOid = OidT(byteOrder.Uint64(d[136:144]))
	// d[144:148] is test_type, skipped.
	sb.MaxFileSystems = byteOrder.Uint32(d[148:152])

	off := 152
	for i := range sb.FSOid {
		sb.FSOid[i] = OidT(byteOrder.Uint64(d[off : off+8]))
		off += 8
	}

	if sb.BlockSize < nxMinBlockSize || sb.BlockSize > nxMaxBlockSize {
		return nil, dmgerr.New(dmgerr.BadHeader, "apfs.parseNXSuperblock")
	}
	return sb, nil
}

// readBlock reads one blockSize-byte block at physical block address addr.
func readBlock(src source.Source, blockSize uint32, addr Paddr) ([]byte, error) {
	buf := make([]byte, blockSize)
	if _, err := src.ReadAt(buf, int64(addr)*int64(blockSize)); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "apfs.readBlock", err)
	}
	return buf, nil
}

// readValidSuperblock reads block 0, then scans the checkpoint descriptor
// area for the highest-transaction-identifier superblock copy that passes
// its Fletcher-64 checksum, matching the "most recent valid checkpoint"
// selection every APFS mounter performs. Block 0 is always present and
// checksum-valid in a clean container; the checkpoint scan recovers from
// block 0 being stale or (after a crash) mid-write.
//
// The Fletcher-64 checksum covers the entire block ([8:BlockSize), Apple
// File System Reference "Checksums"), not just the fixed-size portion
// nxSuperblockSize parses — block 0 is read twice: once for the minimal
// prefix needed to learn BlockSize, then again at full length to verify.
func readValidSuperblock(src source.Source, verifyChecksums bool) (*nxSuperblock, error) {
	prefix := make([]byte, nxSuperblockSize)
	if _, err := src.ReadAt(prefix, 0); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "apfs.readValidSuperblock", err)
	}
	sb, err := parseNXSuperblock(prefix)
	if err != nil {
		return nil, err
	}

	block0, err := readBlock(src, sb.BlockSize, 0)
	if err != nil {
		return nil, err
	}
	if verifyChecksums && !verifyFletcher64(block0) {
		return nil, dmgerr.New(dmgerr.ChecksumMismatch, "apfs.readValidSuperblock")
	}

	best := sb
	for i := uint32(0); i < sb.XPDescBlocks; i++ {
		block, err := readBlock(src, sb.BlockSize, sb.XPDescBase+Paddr(i))
		if err != nil {
			continue
		}
		if verifyChecksums && !verifyFletcher64(block) {
			continue
		}
		cand, err := parseNXSuperblock(block)
		if err != nil || cand.obj.objType() != objectTypeNxSupers {
			continue
		}
		if cand.obj.Xid > best.obj.Xid {
			best = cand
		}
	}
	return best, nil
}
