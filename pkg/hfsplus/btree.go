package hfsplus

import (
	"bytes"
	"encoding/binary"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// treeID distinguishes the catalog and extents overflow B-trees in the
// node cache key, since both live in the same Volume's lru.Cache.
type treeID int

const (
	treeCatalog treeID = iota
	treeExtents
)

type btNodeKind int8

const (
	kBTLeafNode   btNodeKind = -1
	kBTIndexNode  btNodeKind = 0
	kBTHeaderNode btNodeKind = 1
	kBTMapNode    btNodeKind = 2
)

type btNodeDescriptor struct {
	FLink      uint32
	BLink      uint32
	Kind       int8
	Height     uint8
	NumRecords uint16
	Reserved   uint16
}

type btHeaderRecord struct {
	TreeDepth     uint16
	RootNode      uint32
	LeafRecords   uint32
	FirstLeafNode uint32
	LastLeafNode  uint32
	NodeSize      uint16
	MaxKeyLength  uint16
	TotalNodes    uint32
	FreeNodes     uint32
	Reserved1     uint16
	ClumpSize     uint32
	BTreeType     uint8
	KeyCompare    uint8
	Attributes    uint32
	Reserved3     [16]uint32
}

// btree is an opened HFS+ B-tree (catalog or extents overflow): its node
// size and root, plus the fork reader backing every node read.
type btree struct {
	id       treeID
	vol      *Volume
	fork     *forkReader
	nodeSize uint16
	rootNode uint32
	caseFold bool
}

func openBTree(v *Volume, id treeID, cnid CatalogNodeID, fork ForkData) (*btree, error) {
	fr, err := newForkReader(v, fork, cnid, forkTypeData)
	if err != nil {
		return nil, err
	}

	header := make([]byte, 512)
	if _, err := fr.ReadAt(header, 0); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "hfsplus.openBTree", err)
	}

	var desc btNodeDescriptor
	if err := binary.Read(bytes.NewReader(header[:14]), binary.BigEndian, &desc); err != nil {
		return nil, dmgerr.Wrap(dmgerr.BadHeader, "hfsplus.openBTree", err)
	}
	if btNodeKind(desc.Kind) != kBTHeaderNode {
		return nil, dmgerr.New(dmgerr.BadHeader, "hfsplus.openBTree")
	}

	var hdr btHeaderRecord
	if err := binary.Read(bytes.NewReader(header[14:14+120]), binary.BigEndian, &hdr); err != nil {
		return nil, dmgerr.Wrap(dmgerr.BadHeader, "hfsplus.openBTree", err)
	}

	return &btree{
		id:       id,
		vol:      v,
		fork:     fr,
		nodeSize: hdr.NodeSize,
		rootNode: hdr.RootNode,
		caseFold: !v.header.IsHFSX(),
	}, nil
}

// nodeKey identifies a cached node across both B-trees of a Volume.
type nodeKey struct {
	tree treeID
	node uint32
}

// btNode is a decoded node: its descriptor plus a byte-range table giving
// each record's [start, end) within the node's raw bytes (TN1150 "B-Tree
// Node Descriptor" — the record offset array is stored in reverse order
// at the end of the node).
type btNode struct {
	kind       btNodeKind
	numRecords uint16
	data       []byte
	recOffsets []uint16
}

func (n *btNode) record(i int) []byte {
	return n.data[n.recOffsets[i]:n.recOffsets[i+1]]
}

func (bt *btree) readNode(num uint32) (*btNode, error) {
	key := nodeKey{tree: bt.id, node: num}
	if n, ok := bt.vol.nodes.Get(key); ok {
		return n, nil
	}

	raw := make([]byte, bt.nodeSize)
	if _, err := bt.fork.ReadAt(raw, int64(num)*int64(bt.nodeSize)); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "hfsplus.btree.readNode", err)
	}

	var desc btNodeDescriptor
	if err := binary.Read(bytes.NewReader(raw[:14]), binary.BigEndian, &desc); err != nil {
		return nil, dmgerr.Wrap(dmgerr.BadHeader, "hfsplus.btree.readNode", err)
	}

	count := int(desc.NumRecords)
	offsets := make([]uint16, count+1)
	trailer := raw[len(raw)-2*(count+1):]
	for i := 0; i < count+1; i++ {
		// The offset array is stored last-to-first.
		offsets[count-i] = binary.BigEndian.Uint16(trailer[i*2:])
	}

	n := &btNode{
		kind:       btNodeKind(desc.Kind),
		numRecords: desc.NumRecords,
		data:       raw,
		recOffsets: offsets,
	}
	bt.vol.nodes.Add(key, n)
	return n, nil
}

// descend walks the tree from the root to the leaf node that would
// contain key, using cmp to compare a candidate record's key bytes
// against the search key (negative: record < key, zero: equal, positive:
// record > key). At each index node it follows the last child whose key
// is <= the search key, matching B-tree descent per TN1150 "Btree
// Manager".
func (bt *btree) descend(cmp func(record []byte) int) (*btNode, error) {
	num := bt.rootNode
	for {
		node, err := bt.readNode(num)
		if err != nil {
			return nil, err
		}
		if node.kind == kBTLeafNode {
			return node, nil
		}
		if node.kind != kBTIndexNode {
			return nil, dmgerr.New(dmgerr.BadHeader, "hfsplus.btree.descend")
		}

		var next uint32
		found := false
		for i := 0; i < int(node.numRecords); i++ {
			rec := node.record(i)
			if cmp(rec) > 0 {
				break
			}
			next = binary.BigEndian.Uint32(rec[len(rec)-4:])
			found = true
		}
		if !found {
			// Key sorts before every record; descend via the first child.
			if node.numRecords == 0 {
				return nil, dmgerr.New(dmgerr.PathNotFound, "hfsplus.btree.descend")
			}
			next = binary.BigEndian.Uint32(node.record(0)[len(node.record(0))-4:])
		}
		num = next
	}
}
