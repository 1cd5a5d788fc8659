package apfs

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

func keyHeader(id uint64, typ uint8) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, (id&objIdMask)|(uint64(typ)<<objTypeShift))
	return b
}

// buildLeafNode lays out a single B-tree leaf node (variable key/value
// sizes) holding records in the given (key, value) order, padded out to a
// full blockSize-byte block.
func buildLeafNode(blockSize uint32, records [][2][]byte) []byte {
	dataLen := int(blockSize) - btnHeaderSize
	data := make([]byte, dataLen)

	nkeys := len(records)
	tocLen := nkeys * 8
	keyAreaStart := tocLen

	koffs := make([]int, nkeys)
	pos := keyAreaStart
	for i, r := range records {
		koffs[i] = pos - keyAreaStart
		copy(data[pos:], r[0])
		pos += len(r[0])
	}

	valEnd := len(data)
	voffs := make([]int, nkeys)
	vpos := pos + 16 // leave a gap past the key area
	for i, r := range records {
		copy(data[vpos:], r[1])
		voffs[i] = valEnd - vpos
		vpos += len(r[1])
	}

	for i, r := range records {
		off := i * 8
		binary.LittleEndian.PutUint16(data[off:off+2], uint16(koffs[i]))
		binary.LittleEndian.PutUint16(data[off+2:off+4], uint16(len(r[0])))
		binary.LittleEndian.PutUint16(data[off+4:off+6], uint16(voffs[i]))
		binary.LittleEndian.PutUint16(data[off+6:off+8], uint16(len(r[1])))
	}

	raw := make([]byte, btnHeaderSize+len(data))
	binary.LittleEndian.PutUint16(raw[32:34], btnodeLeaf)
	binary.LittleEndian.PutUint32(raw[36:40], uint32(nkeys))
	binary.LittleEndian.PutUint16(raw[40:42], 0)
	binary.LittleEndian.PutUint16(raw[42:44], uint16(tocLen))
	copy(raw[btnHeaderSize:], data)
	return raw
}

// buildSingleLeafFsTree hand-lays-out a minimal file-system B-tree: the
// root directory's own Inode, a DirRec naming one regular file, that
// file's Inode, and its sole FileExtent. The file's inode carries no
// INODE_HAS_UNCOMPRESSED_SIZE flag and a zero uncompressed_size field,
// matching a normal uncompressed file — its logical size is only
// recoverable from the XF_DATA_STREAM xfield, which is what this fixture
// is built to exercise. Returns the two-block image: the leaf node at
// block 0, the file's data at block 1.
func buildSingleLeafFsTree(t *testing.T, blockSize uint32, name string, fileData []byte) []byte {
	t.Helper()

	const fileOid = 5

	rootInodeVal := make([]byte, 32) // enough for decodeInode to not panic; contents unused

	nameBytes := append([]byte(name), 0)
	dirKey := keyHeader(rootDirOid, jObjTypeDirRec)
	lengthAndHash := make([]byte, 4)
	binary.LittleEndian.PutUint32(lengthAndHash, uint32(len(nameBytes)))
	dirKey = append(dirKey, lengthAndHash...)
	dirKey = append(dirKey, nameBytes...)

	dirVal := make([]byte, 18)
	binary.LittleEndian.PutUint64(dirVal[0:8], fileOid)
	binary.LittleEndian.PutUint16(dirVal[16:18], dtReg)

	inodeKey := keyHeader(fileOid, jObjTypeInode)
	inodeVal := make([]byte, 108)
	binary.LittleEndian.PutUint64(inodeVal[8:16], fileOid) // private_id
	binary.LittleEndian.PutUint16(inodeVal[80:82], 0o644)  // mode
	binary.LittleEndian.PutUint16(inodeVal[92:94], 1)      // xfield count
	inodeVal[96] = xfDstream
	binary.LittleEndian.PutUint16(inodeVal[98:100], 8)
	binary.LittleEndian.PutUint64(inodeVal[100:108], uint64(len(fileData)))

	extentKey := append(keyHeader(fileOid, jObjTypeFileExtent), make([]byte, 8)...) // logicalAddr=0
	extentVal := make([]byte, 16)
	binary.LittleEndian.PutUint64(extentVal[0:8], uint64(len(fileData)))
	binary.LittleEndian.PutUint64(extentVal[8:16], 1) // physBlock

	raw := buildLeafNode(blockSize, [][2][]byte{
		{keyHeader(rootDirOid, jObjTypeInode), rootInodeVal},
		{dirKey, dirVal},
		{inodeKey, inodeVal},
		{extentKey, extentVal},
	})

	image := make([]byte, 2*int(blockSize))
	copy(image[0:blockSize], raw)
	copy(image[blockSize:], fileData)
	return image
}

func newTestVolume(t *testing.T, image []byte, blockSize uint32) *Volume {
	t.Helper()
	src := source.New(bytes.NewReader(image), int64(len(image)), nil)
	nodes, err := lru.New[btNodeCacheKey, *btNode](8)
	if err != nil {
		t.Fatalf("lru.New: %v", err)
	}
	return &Volume{
		src:       src,
		blockSize: blockSize,
		sb:        &volumeSuperblock{VolumeName: "test"},
		nodes:     nodes,
		fsTree: &btree{
			src:   &physicalNodeSource{src: src, blockSize: blockSize},
			root:  nodeRef{physical: true, paddr: 0},
			nodes: nodes,
		},
	}
}

func TestVolumeResolvesRegularFileSizeFromDstreamXfield(t *testing.T) {
	const blockSize = 4096
	fileData := bytes.Repeat([]byte{0x42}, blockSize)
	image := buildSingleLeafFsTree(t, blockSize, "hello.txt", fileData)
	vol := newTestVolume(t, image, blockSize)

	entry, err := vol.Stat("hello.txt")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if entry.IsDir || !entry.IsRegular {
		t.Fatalf("got IsDir=%v IsRegular=%v, want a regular file", entry.IsDir, entry.IsRegular)
	}
	if entry.Size != uint64(len(fileData)) {
		t.Fatalf("Size = %d, want %d (the bug this guards against: falling back to the unset uncompressed_size field yields 0)", entry.Size, len(fileData))
	}
}

func TestVolumeReadsRegularFileContentEndToEnd(t *testing.T) {
	const blockSize = 4096
	fileData := bytes.Repeat([]byte{0x99}, blockSize)
	image := buildSingleLeafFsTree(t, blockSize, "hello.txt", fileData)
	vol := newTestVolume(t, image, blockSize)

	f, err := vol.OpenFile("hello.txt")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if f.Size() != int64(len(fileData)) {
		t.Fatalf("Size() = %d, want %d", f.Size(), len(fileData))
	}
	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, fileData) {
		t.Fatalf("content mismatch: got %d bytes, want %d bytes of 0x99", len(got), len(fileData))
	}
}

func TestVolumeListsDirectoryEntryKind(t *testing.T) {
	const blockSize = 4096
	image := buildSingleLeafFsTree(t, blockSize, "hello.txt", []byte("x"))
	vol := newTestVolume(t, image, blockSize)

	children, err := vol.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(children) != 1 {
		t.Fatalf("got %d children, want 1", len(children))
	}
	if children[0].Name != "hello.txt" || !children[0].IsRegular {
		t.Fatalf("got %+v, want a regular file named hello.txt", children[0])
	}
}
