package apfs

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

const (
	omapKeySize     = 16 // OidT + XidT
	omapLeafValSize = 16 // OvFlags(4) + OvSize(4) + OvPaddr(8)

	// nodeCacheSize bounds the number of decoded B-tree nodes retained
	// across the container's object map and every open volume's object
	// map and file-system tree.
	nodeCacheSize = 1024
)

// objectMap resolves (virtual object id, transaction id) pairs to physical
// block addresses (Apple File System Reference, "Object Maps"). The
// container has exactly one, rooted at nx_superblock_t.omap_oid; every
// volume has its own, rooted at apfs_superblock_t.omap_oid, used to
// resolve that volume's own file-system tree.
type objectMap struct {
	tree *btree
}

func openObjectMap(src source.Source, blockSize uint32, omapOid OidT, cacheID int, nodes *lru.Cache[btNodeCacheKey, *btNode]) (*objectMap, error) {
	if omapOid == oidInvalid {
		return nil, dmgerr.New(dmgerr.BadHeader, "apfs.openObjectMap")
	}
	raw, err := readBlock(src, blockSize, Paddr(omapOid))
	if err != nil {
		return nil, err
	}
	if !verifyFletcher64(raw) {
		return nil, dmgerr.New(dmgerr.ChecksumMismatch, "apfs.openObjectMap")
	}
	hdr := parseObjPhys(raw[0:objPhysSize])
	if hdr.objType() != objectTypeOmap {
		return nil, dmgerr.New(dmgerr.BadHeader, "apfs.openObjectMap")
	}

	d := raw[objPhysSize:]
	treeOid := OidT(byteOrder.Uint64(d[16:24])) // om_tree_oid, after flags/snap_count/tree_type/snapshot_tree_type

	ns := &physicalNodeSource{src: src, blockSize: blockSize}
	bt := &btree{
		src:         ns,
		root:        nodeRef{physical: true, paddr: Paddr(treeOid)},
		keySize:     omapKeySize,
		leafValSize: omapLeafValSize,
		cacheID:     cacheID,
		nodes:       nodes,
	}
	return &objectMap{tree: bt}, nil
}

// resolve finds the physical address of the version of oid current as of
// xid: the object map entry for oid with the largest okXid <= xid.
func (om *objectMap) resolve(oid OidT, xid XidT) (Paddr, error) {
	cmp := func(rec []byte) int {
		recOid := OidT(byteOrder.Uint64(rec[0:8]))
		if recOid != oid {
			if recOid < oid {
				return -1
			}
			return 1
		}
		recXid := XidT(byteOrder.Uint64(rec[8:16]))
		if recXid > xid {
			return 1
		}
		return -1 // keep descending to the rightmost entry <= xid for this oid
	}

	leaf, err := om.tree.descend(cmp)
	if err != nil {
		return 0, err
	}

	var best Paddr
	found := false
	for i := 0; i < int(leaf.nkeys); i++ {
		k, v := leaf.record(i, omapKeySize, omapLeafValSize)
		recOid := OidT(byteOrder.Uint64(k[0:8]))
		recXid := XidT(byteOrder.Uint64(k[8:16]))
		if recOid != oid || recXid > xid {
			continue
		}
		found = true
		best = Paddr(byteOrder.Uint64(v[8:16]))
	}
	if !found {
		return 0, dmgerr.New(dmgerr.PathNotFound, "apfs.objectMap.resolve")
	}
	return best, nil
}

// virtualNodeSource resolves file-system tree node reads through a
// volume's object map: every non-root node reference is a virtual oid.
type virtualNodeSource struct {
	src       source.Source
	omap      *objectMap
	xid       XidT
	blockSize uint32
}

func (v *virtualNodeSource) readNode(ref nodeRef) ([]byte, error) {
	addr, err := v.omap.resolve(ref.oid, v.xid)
	if err != nil {
		return nil, err
	}
	return readBlock(v.src, v.blockSize, addr)
}
