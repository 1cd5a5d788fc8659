package xar

import (
	"bytes"
	"io"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/codec"
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// Archive is an opened, read-only XAR archive: its header, its parsed TOC,
// and the heap offset file entries' Data.Offset fields are relative to.
type Archive struct {
	src        source.Source
	header     *Header
	roots      []*Entry
	flat       []*Entry
	heapOffset int64
}

// Open parses src's header and TOC (§4.4 "XAR archive header / TOC").
func Open(src source.Source) (*Archive, error) {
	hdr, err := parseHeader(io.NewSectionReader(src, 0, src.Size()))
	if err != nil {
		return nil, err
	}
	tocReader := io.NewSectionReader(src, int64(hdr.HeaderSize), src.Size()-int64(hdr.HeaderSize))
	roots, flat, err := parseToc(tocReader, hdr)
	if err != nil {
		return nil, err
	}
	return &Archive{
		src:        src,
		header:     hdr,
		roots:      roots,
		flat:       flat,
		heapOffset: int64(hdr.HeaderSize) + int64(hdr.TocCompressedLen),
	}, nil
}

// Header returns the archive's parsed header.
func (a *Archive) Header() *Header { return a.header }

// Files returns every entry in the archive, depth-first, root-to-leaf.
func (a *Archive) Files() []*Entry { return a.flat }

// Roots returns the archive's top-level entries (those with no parent).
func (a *Archive) Roots() []*Entry { return a.roots }

// Find returns the entry whose Path equals path (leading/trailing slashes
// ignored), or nil if none matches.
func (a *Archive) Find(path string) *Entry {
	path = strings.Trim(path, "/")
	for _, e := range a.flat {
		if e.Path == path {
			return e
		}
	}
	return nil
}

// ReadFileTo streams e's decoded heap payload to w. Directories and
// entries with no Data write nothing.
func (a *Archive) ReadFileTo(e *Entry, w io.Writer) (int64, error) {
	if e.Data == nil {
		return 0, nil
	}
	compressed := make([]byte, e.Data.Length)
	if _, err := a.src.ReadAt(compressed, a.heapOffset+int64(e.Data.Offset)); err != nil {
		return 0, dmgerr.Wrap(dmgerr.Io, "xar.Archive.ReadFileTo", err)
	}

	var kind codec.Kind
	switch e.Data.Encoding {
	case "none":
		if _, err := w.Write(compressed); err != nil {
			return 0, dmgerr.Wrap(dmgerr.Io, "xar.Archive.ReadFileTo", err)
		}
		return int64(len(compressed)), nil
	case "gzip":
		kind = codec.Gzip
	case "bzip2":
		kind = codec.Bzip2
	default:
		return 0, dmgerr.New(dmgerr.UnsupportedCompression, "xar.Archive.ReadFileTo")
	}

	out, err := codec.DecodeAll(kind, compressed, int(e.Data.Size))
	if err != nil {
		return 0, dmgerr.Wrap(dmgerr.Codec, "xar.Archive.ReadFileTo", err)
	}
	if _, err := w.Write(out); err != nil {
		return 0, dmgerr.Wrap(dmgerr.Io, "xar.Archive.ReadFileTo", err)
	}
	return int64(len(out)), nil
}

// ReadFile decodes e's heap payload fully into memory.
func (a *Archive) ReadFile(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := a.ReadFileTo(e, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
