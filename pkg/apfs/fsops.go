package apfs

import (
	"io"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// drecKeySuffix parses a j_drec_hashed_key_t's variable suffix (everything
// after the 8-byte j_key_t header): a 4-byte name-length-and-hash field
// followed by the NUL-terminated name (Apple File System Reference,
// "Directory Entry Keys"). Only the length is load-bearing here; the hash
// is a lookup accelerator this reader doesn't need.
func drecKeySuffix(key []byte) string {
	if len(key) < 12 {
		return ""
	}
	lengthAndHash := byteOrder.Uint32(key[8:12])
	nameLen := int(lengthAndHash & 0x3ff) // low 10 bits, includes the NUL
	name := key[12:]
	if nameLen > 0 && nameLen <= len(name) {
		name = name[:nameLen]
	}
	if i := indexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// dirRangeCmp partitions keys into "before dirOid's DirRec records"
// (negative), "a DirRec record belonging to dirOid" (zero), or "past them"
// (positive) — file-system B-tree keys sort by (oid, type, ...) so every
// DirRec for one directory is contiguous.
func dirRangeCmp(dirOid uint64) func([]byte) int {
	return func(key []byte) int {
		id, typ := jKeyHeader(key)
		if id != dirOid {
			if id < dirOid {
				return -1
			}
			return 1
		}
		if typ != jObjTypeDirRec {
			if typ < jObjTypeDirRec {
				return -1
			}
			return 1
		}
		return 0
	}
}

// inodeCmp finds the single Inode record for oid.
func inodeCmp(oid uint64) func([]byte) int {
	return func(key []byte) int {
		id, typ := jKeyHeader(key)
		if id != oid {
			if id < oid {
				return -1
			}
			return 1
		}
		if typ != jObjTypeInode {
			if typ < jObjTypeInode {
				return -1
			}
			return 1
		}
		return 0
	}
}

// statInode resolves oid's Inode record into an Entry with type left for
// the caller (a directory entry or the root) to fill in. Name is taken
// from the inode's own XF_NAME xfield when present, overridden by the
// caller with the parent drec's name for anything but the root.
func (v *Volume) statInode(oid uint64) (*Entry, error) {
	var found *Entry
	err := v.fsTree.scan(inodeCmp(oid), func(key, val []byte) bool {
		privateID, modTime, uncompressedSize, hasUncompressedSize, xfields := decodeInode(val)
		mode := decodeInodeMode(val)

		size, name := decodeDstreamSize(xfields)
		if hasUncompressedSize {
			size = uncompressedSize
		}

		found = &Entry{
			ObjID:     oid,
			Name:      name,
			Size:      size,
			Mode:      mode,
			ModTime:   modTime,
			privateID: privateID,
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, dmgerr.New(dmgerr.PathNotFound, "apfs.Volume.statInode")
	}
	return found, nil
}

// lookupChild resolves one path component within dirOid by range-scanning
// that directory's DirRec records for a name match (§4.3 "Directory
// listing").
func (v *Volume) lookupChild(dirOid uint64, name string) (*Entry, error) {
	var childOid uint64
	var childFlags uint16
	hit := false
	err := v.fsTree.scan(dirRangeCmp(dirOid), func(key, val []byte) bool {
		if drecKeySuffix(key) == name {
			childOid, childFlags = decodeDrecValue(val)
			hit = true
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if !hit {
		return nil, dmgerr.New(dmgerr.PathNotFound, "apfs.Volume.lookupChild")
	}
	entry, err := v.statInode(childOid)
	if err != nil {
		return nil, err
	}
	entry.Name = name
	kind := childFlags & drecTypeMask
	entry.IsDir = kind == dtDir
	entry.IsLink = kind == dtLnk
	entry.IsRegular = kind == dtReg
	return entry, nil
}

// listChildren returns every DirRec entry directly under dirOid, in
// on-disk key (name) order.
func (v *Volume) listChildren(dirOid uint64) ([]*Entry, error) {
	type child struct {
		name  string
		oid   uint64
		flags uint16
	}
	var kids []child
	err := v.fsTree.scan(dirRangeCmp(dirOid), func(key, val []byte) bool {
		oid, flags := decodeDrecValue(val)
		kids = append(kids, child{name: drecKeySuffix(key), oid: oid, flags: flags})
		return true
	})
	if err != nil {
		return nil, err
	}

	entries := make([]*Entry, 0, len(kids))
	for _, k := range kids {
		entry, err := v.statInode(k.oid)
		if err != nil {
			continue
		}
		entry.Name = k.name
		kind := k.flags & drecTypeMask
		entry.IsDir = kind == dtDir
		entry.IsLink = kind == dtLnk
		entry.IsRegular = kind == dtReg
		entries = append(entries, entry)
	}
	return entries, nil
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolve walks path from the volume's root directory object id.
func (v *Volume) resolve(path string) (*Entry, error) {
	components := splitPath(path)
	if len(components) == 0 {
		root, err := v.statInode(rootDirOid)
		if err != nil {
			return nil, err
		}
		root.IsDir = true
		return root, nil
	}

	dirOid := rootDirOid
	var entry *Entry
	for i, name := range components {
		e, err := v.lookupChild(dirOid, name)
		if err != nil {
			return nil, err
		}
		entry = e
		if i < len(components)-1 {
			if !e.IsDir {
				return nil, dmgerr.New(dmgerr.NotADirectory, "apfs.Volume.resolve")
			}
			dirOid = e.ObjID
		}
	}
	return entry, nil
}

// Stat resolves path to its file-system entry.
func (v *Volume) Stat(path string) (*Entry, error) {
	return v.resolve(path)
}

// List returns the direct children of the directory at path.
func (v *Volume) List(path string) ([]*Entry, error) {
	entry, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir {
		return nil, dmgerr.New(dmgerr.NotADirectory, "apfs.Volume.List")
	}
	return v.listChildren(entry.ObjID)
}

// Walk visits every entry reachable from path, depth-first.
func (v *Volume) Walk(path string, fn func(path string, e *Entry) error) error {
	entry, err := v.resolve(path)
	if err != nil {
		return err
	}
	return v.walk(path, entry, fn)
}

func (v *Volume) walk(path string, entry *Entry, fn func(string, *Entry) error) error {
	if err := fn(path, entry); err != nil {
		return err
	}
	if !entry.IsDir {
		return nil
	}
	children, err := v.listChildren(entry.ObjID)
	if err != nil {
		return err
	}
	for _, child := range children {
		childPath := child.Name
		if path != "" {
			childPath = path + "/" + child.Name
		}
		if err := v.walk(childPath, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// forkReader provides random access to a file's data stream, translating
// a logical offset into physical blocks via a range scan of the
// FileExtent records keyed by that file's private (dstream) id (§4.3
// "File extents").
type forkReader struct {
	vol       *Volume
	privateID uint64
	size      int64
}

// extentEntry is one decoded FileExtent record: [logicalStart, logicalStart+length)
// maps to physBlock (0 and length 0 both mean a hole).
type extentEntry struct {
	logicalStart int64
	length       int64
	physBlock    uint64
}

func (v *Volume) loadExtents(privateID uint64) ([]extentEntry, error) {
	var extents []extentEntry
	cmp := func(key []byte) int {
		id, typ := jKeyHeader(key)
		if id != privateID {
			if id < privateID {
				return -1
			}
			return 1
		}
		if typ != jObjTypeFileExtent {
			if typ < jObjTypeFileExtent {
				return -1
			}
			return 1
		}
		return 0
	}
	err := v.fsTree.scan(cmp, func(key, val []byte) bool {
		logical := decodeFileExtentKey(key)
		length, phys := decodeFileExtentValue(val)
		extents = append(extents, extentEntry{
			logicalStart: int64(logical),
			length:       int64(length),
			physBlock:    phys,
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return extents, nil
}

func newForkReader(v *Volume, privateID uint64, size int64) (*forkReader, error) {
	return &forkReader{vol: v, privateID: privateID, size: size}, nil
}

// ReadAt implements io.ReaderAt over the file's logical data stream,
// returning zero bytes for holes (zero-length or physBlock-zero extents)
// without touching the underlying source (§4.3, §8 "boundary cases").
func (fr *forkReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= fr.size {
		return 0, io.EOF
	}
	if want := fr.size - off; int64(len(p)) > want {
		p = p[:want]
	}
	extents, err := fr.vol.loadExtents(fr.privateID)
	if err != nil {
		return 0, err
	}

	total := 0
	for total < len(p) {
		logicalOff := off + int64(total)
		ext, ok := findExtent(extents, logicalOff)
		if !ok {
			return total, io.EOF
		}
		withinExtent := logicalOff - ext.logicalStart
		remaining := ext.length - withinExtent
		want := int64(len(p) - total)
		if want > remaining {
			want = remaining
		}

		if ext.length == 0 || ext.physBlock == 0 {
			for i := int64(0); i < want; i++ {
				p[int64(total)+i] = 0
			}
			total += int(want)
			continue
		}

		physOff := int64(ext.physBlock)*int64(fr.vol.blockSize) + withinExtent
		n, err := fr.vol.src.ReadAt(p[total:int64(total)+want], physOff)
		total += n
		if err != nil {
			return total, dmgerr.Wrap(dmgerr.Io, "apfs.forkReader.ReadAt", err)
		}
	}
	return total, nil
}

func findExtent(extents []extentEntry, logicalOff int64) (extentEntry, bool) {
	for _, e := range extents {
		if logicalOff >= e.logicalStart && logicalOff < e.logicalStart+e.length {
			return e, true
		}
	}
	return extentEntry{}, false
}

// Size returns the fork's logical byte length.
func (fr *forkReader) Size() int64 { return fr.size }

// FileReader is a sequential, seekable reader over a file's data stream.
type FileReader struct {
	fork *forkReader
	off  int64
}

func (f *FileReader) Read(p []byte) (int, error) {
	if f.off >= f.fork.Size() {
		return 0, io.EOF
	}
	if remaining := f.fork.Size() - f.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := f.fork.ReadAt(p, f.off)
	f.off += int64(n)
	return n, err
}

func (f *FileReader) ReadAt(p []byte, off int64) (int, error) { return f.fork.ReadAt(p, off) }

// Size returns the file's logical data stream length.
func (f *FileReader) Size() int64 { return f.fork.Size() }

// OpenFile resolves path to a regular file and returns a reader over its
// data stream.
func (v *Volume) OpenFile(path string) (*FileReader, error) {
	entry, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	if entry.IsDir {
		return nil, dmgerr.New(dmgerr.NotAFile, "apfs.Volume.OpenFile")
	}
	fr, err := newForkReader(v, entry.privateID, int64(entry.Size))
	if err != nil {
		return nil, err
	}
	return &FileReader{fork: fr}, nil
}

// ReadFileTo resolves path and streams its full data stream to w.
func (v *Volume) ReadFileTo(path string, w io.Writer) error {
	f, err := v.OpenFile(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, io.NewSectionReader(f, 0, f.Size())); err != nil {
		return dmgerr.Wrap(dmgerr.Io, "apfs.Volume.ReadFileTo", err)
	}
	return nil
}
