package apfs

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// B-tree node flags (Apple File System Reference, "B-Trees").
const (
	btnodeRoot        uint16 = 0x0001
	btnodeLeaf        uint16 = 0x0002
	btnodeFixedKvSize uint16 = 0x0004

	// btreeInfoSize is the size of btree_info_t, appended after a root
	// node's btn_data.
	btreeInfoSize = 40
	// btnHeaderSize is the size of the fixed btree_node_phys_t header
	// preceding btn_data: the 32-byte object header plus flags, level,
	// nkeys and the four nloc fields through btn_val_freelist.
	btnHeaderSize = 56
	// childValSize is the size of a child node pointer stored as an
	// index node's value, regardless of the tree's own key/value sizes:
	// child links are always a plain 8-byte object identifier.
	childValSize = 8
)

type nloc struct {
	Off uint16
	Len uint16
}

// btNode is a decoded B-tree node: enough of its header to interpret the
// table of contents, plus the raw btn_data region every record offset is
// relative to.
type btNode struct {
	level      uint16
	nkeys      uint32
	isLeaf     bool
	isRoot     bool
	fixedKV    bool
	tableSpace nloc
	data       []byte // btn_data: raw[btnHeaderSize:]
}

func parseBtreeNode(raw []byte) (*btNode, error) {
	if len(raw) < btnHeaderSize {
		return nil, dmgerr.New(dmgerr.Truncated, "apfs.parseBtreeNode")
	}
	flags := byteOrder.Uint16(raw[32:34])
	n := &btNode{
		level:   byteOrder.Uint16(raw[34:36]),
		nkeys:   byteOrder.Uint32(raw[36:40]),
		isLeaf:  flags&btnodeLeaf != 0,
		isRoot:  flags&btnodeRoot != 0,
		fixedKV: flags&btnodeFixedKvSize != 0,
		tableSpace: nloc{
			Off: byteOrder.Uint16(raw[40:42]),
			Len: byteOrder.Uint16(raw[42:44]),
		},
		data: raw[btnHeaderSize:],
	}
	return n, nil
}

// valAreaEnd is the byte, within data, one past the end of the value area:
// the end of the node for non-root nodes, or the start of the trailing
// btree_info_t for root nodes.
func (n *btNode) valAreaEnd() int {
	end := len(n.data)
	if n.isRoot {
		end -= btreeInfoSize
	}
	return end
}

// record returns the key and value bytes of the i'th entry in the node's
// table of contents. keySize is the tree's fixed key size (only consulted
// when the node uses fixed-size entries); leafValSize is the tree's fixed
// leaf value size (index-node values are always an 8-byte child oid,
// regardless of the tree's value type).
func (n *btNode) record(i int, keySize, leafValSize uint32) (key, val []byte) {
	keyAreaStart := int(n.tableSpace.Off) + int(n.tableSpace.Len)
	valEnd := n.valAreaEnd()

	if n.fixedKV {
		const entrySize = 4 // kvoff_t: two uint16
		tocOff := int(n.tableSpace.Off) + i*entrySize
		koff := byteOrder.Uint16(n.data[tocOff : tocOff+2])
		voff := byteOrder.Uint16(n.data[tocOff+2 : tocOff+4])

		valSize := leafValSize
		if !n.isLeaf {
			valSize = childValSize
		}
		key = n.data[keyAreaStart+int(koff) : keyAreaStart+int(koff)+int(keySize)]
		val = n.data[valEnd-int(voff) : valEnd-int(voff)+int(valSize)]
		return key, val
	}

	const entrySize = 8 // kvloc_t: nloc K, nloc V
	tocOff := int(n.tableSpace.Off) + i*entrySize
	kOff := byteOrder.Uint16(n.data[tocOff : tocOff+2])
	kLen := byteOrder.Uint16(n.data[tocOff+2 : tocOff+4])
	vOff := byteOrder.Uint16(n.data[tocOff+4 : tocOff+6])
	vLen := byteOrder.Uint16(n.data[tocOff+6 : tocOff+8])

	key = n.data[keyAreaStart+int(kOff) : keyAreaStart+int(kOff)+int(kLen)]
	if vLen == 0 {
		return key, nil // ghost key (BTREE_ALLOW_GHOSTS): no value stored
	}
	val = n.data[valEnd-int(vOff) : valEnd-int(vOff)+int(vLen)]
	return key, val
}

// btreeNodeSource resolves a node reference to its raw bytes. The container
// object map uses physical addressing (oid is the block number); a
// volume's file-system tree uses virtual addressing through that volume's
// own object map.
type btreeNodeSource interface {
	readNode(ref nodeRef) ([]byte, error)
}

// nodeRef identifies a B-tree node: either a physical block address
// (omap trees) or a virtual object id resolved through an object map
// (file-system trees).
type nodeRef struct {
	physical bool
	paddr    Paddr
	oid      OidT
}

// btree is a generic APFS B-tree: a node source, the tree's fixed key/leaf
// value sizes (zero when variable), and an LRU cache of decoded nodes
// shared with the rest of the Container/Volume.
type btree struct {
	src         btreeNodeSource
	root        nodeRef
	keySize     uint32
	leafValSize uint32
	cacheID     int
	nodes       *lru.Cache[btNodeCacheKey, *btNode]
}

type btNodeCacheKey struct {
	cacheID int
	oid     OidT
	paddr   Paddr
}

func (bt *btree) readNode(ref nodeRef) (*btNode, error) {
	key := btNodeCacheKey{cacheID: bt.cacheID, oid: ref.oid, paddr: ref.paddr}
	if n, ok := bt.nodes.Get(key); ok {
		return n, nil
	}
	raw, err := bt.src.readNode(ref)
	if err != nil {
		return nil, err
	}
	n, err := parseBtreeNode(raw)
	if err != nil {
		return nil, err
	}
	bt.nodes.Add(key, n)
	return n, nil
}

// descend walks the tree from the root to the leaf node that would contain
// key, using cmp to compare a candidate record's key bytes against the
// search key (negative: record < key; zero: equal; positive: record >
// key). At each index node it follows the last child whose key is <= the
// search key (Apple File System Reference, "B-Trees").
func (bt *btree) descend(cmp func(record []byte) int) (*btNode, error) {
	ref := bt.root
	for {
		node, err := bt.readNode(ref)
		if err != nil {
			return nil, err
		}
		if node.isLeaf {
			return node, nil
		}

		var next OidT
		found := false
		for i := 0; i < int(node.nkeys); i++ {
			k, v := node.record(i, bt.keySize, bt.leafValSize)
			if cmp(k) > 0 {
				break
			}
			next = OidT(byteOrder.Uint64(v))
			found = true
		}
		if !found {
			if node.nkeys == 0 {
				return nil, dmgerr.New(dmgerr.PathNotFound, "apfs.btree.descend")
			}
			_, v := node.record(0, bt.keySize, bt.leafValSize)
			next = OidT(byteOrder.Uint64(v))
		}
		ref = childRef(ref, next)
	}
}

// childRef builds the next level's node reference: physical trees (omap)
// address children directly by block number; virtual trees (file-system
// trees) carry a virtual oid that the node source resolves itself.
func childRef(parent nodeRef, childOid OidT) nodeRef {
	if parent.physical {
		return nodeRef{physical: true, paddr: Paddr(childOid)}
	}
	return nodeRef{physical: false, oid: childOid}
}

// scan visits every leaf record whose key is in-range, in key order.
// inRange partitions the key space: negative (key before the range), zero
// (in range), positive (key after the range). fn may return false to stop
// early. APFS B-tree nodes carry no sibling links (unlike HFS+'s catalog
// B-tree), so a multi-record range can span several leaves; scan finds
// every leaf that could hold an in-range key by recursing into any child
// whose own minimum key (its index-node record key) isn't already past
// the range, matching the standard B-tree range-scan algorithm.
func (bt *btree) scan(inRange func(key []byte) int, fn func(key, val []byte) bool) error {
	_, err := bt.scanRef(bt.root, inRange, fn)
	return err
}

// scanRef returns false in its first result to tell the caller to stop
// recursing (fn returned false, or we've passed the end of the range).
func (bt *btree) scanRef(ref nodeRef, inRange func([]byte) int, fn func(key, val []byte) bool) (bool, error) {
	node, err := bt.readNode(ref)
	if err != nil {
		return false, err
	}

	if node.isLeaf {
		for i := 0; i < int(node.nkeys); i++ {
			k, v := node.record(i, bt.keySize, bt.leafValSize)
			c := inRange(k)
			if c > 0 {
				return false, nil
			}
			if c == 0 {
				if !fn(k, v) {
					return false, nil
				}
			}
		}
		return true, nil
	}

	for i := 0; i < int(node.nkeys); i++ {
		k, v := node.record(i, bt.keySize, bt.leafValSize)
		// Only stops once past the range's end; every child to the left of
		// the range's start is still descended into, since an index node's
		// own record key is its child's minimum key, not its maximum — an
		// O(n) over-scan on the low side rather than a missed record.
		if inRange(k) > 0 {
			return false, nil
		}
		childOid := OidT(byteOrder.Uint64(v))
		cont, err := bt.scanRef(childRef(ref, childOid), inRange, fn)
		if err != nil {
			return false, err
		}
		if !cont {
			return false, nil
		}
	}
	return true, nil
}

// source.Source-backed reader used by both the container object map
// (physical) and, indirectly, every virtual tree's omap lookups.
type physicalNodeSource struct {
	src       source.Source
	blockSize uint32
}

func (p *physicalNodeSource) readNode(ref nodeRef) ([]byte, error) {
	return readBlock(p.src, p.blockSize, ref.paddr)
}
