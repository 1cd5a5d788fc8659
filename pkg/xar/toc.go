package xar

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/codec"
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// Kind classifies a XAR file entry (§3 "XAR file entry").
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
)

// Data describes a file entry's heap-resident payload: offset and length
// within the heap, its decompressed size, and the encoding the heap bytes
// are stored under.
type Data struct {
	Offset   uint64
	Length   uint64
	Size     uint64
	Encoding string
}

// Entry is one resolved XAR TOC file, with its heap-relative Data (nil for
// directories) and the slash-joined Path from the archive root.
type Entry struct {
	ID       string
	Name     string
	Kind     Kind
	Path     string
	Data     *Data
	Children []*Entry
}

// xmlData mirrors the TOC's <data> element (offset/length/size plus an
// <encoding style="..."/> child), translated from the nested tag style
// other_examples/mkrautz-goxar__readtoc.go uses into modern struct tags.
type xmlData struct {
	Offset   uint64      `xml:"offset"`
	Length   uint64      `xml:"length"`
	Size     uint64      `xml:"size"`
	Encoding xmlEncoding `xml:"encoding"`
}

type xmlEncoding struct {
	Style string `xml:"style,attr"`
}

type xmlFile struct {
	ID       string     `xml:"id,attr"`
	Name     string     `xml:"name"`
	Type     string     `xml:"type"`
	Data     *xmlData   `xml:"data"`
	Children []*xmlFile `xml:"file"`
}

type xmlToc struct {
	Files []*xmlFile `xml:"file"`
}

type xmlXar struct {
	XMLName xml.Name `xml:"xar"`
	Toc     xmlToc   `xml:"toc"`
}

func parseKind(typ string) Kind {
	switch typ {
	case "directory":
		return KindDir
	case "symlink":
		return KindSymlink
	default:
		return KindFile
	}
}

// decodeEncodingStyle maps a <data><encoding style="..."/> MIME-ish string
// to the encoding name the heap decoder understands (§3: "encoding ∈
// {gzip, none, bzip2}").
func decodeEncodingStyle(style string) string {
	switch {
	case strings.Contains(style, "gzip"):
		return "gzip"
	case strings.Contains(style, "bzip2"):
		return "bzip2"
	default:
		return "none"
	}
}

func buildEntry(x *xmlFile, parentPath string) *Entry {
	path := x.Name
	if parentPath != "" {
		path = parentPath + "/" + x.Name
	}
	e := &Entry{
		ID:   x.ID,
		Name: x.Name,
		Kind: parseKind(x.Type),
		Path: path,
	}
	if x.Data != nil {
		e.Data = &Data{
			Offset:   x.Data.Offset,
			Length:   x.Data.Length,
			Size:     x.Data.Size,
			Encoding: decodeEncodingStyle(x.Data.Encoding.Style),
		}
	}
	for _, c := range x.Children {
		e.Children = append(e.Children, buildEntry(c, path))
	}
	return e
}

// flatten walks the entry tree depth-first, collecting every node into a
// single slice (used to build the path index).
func flatten(roots []*Entry, out *[]*Entry) {
	for _, e := range roots {
		*out = append(*out, e)
		flatten(e.Children, out)
	}
}

// parseToc decompresses the zlib-compressed TOC immediately following the
// header and parses its XML into a tree of Entry nodes plus a flat,
// path-indexed list for lookup.
func parseToc(r io.Reader, hdr *Header) ([]*Entry, []*Entry, error) {
	compressed := make([]byte, hdr.TocCompressedLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, nil, dmgerr.Wrap(dmgerr.Truncated, "xar.parseToc", err)
	}

	decoded, err := codec.DecodeAll(codec.Zlib, compressed, int(hdr.TocUncompressedLen))
	if err != nil {
		return nil, nil, dmgerr.Wrap(dmgerr.MalformedToc, "xar.parseToc", err)
	}

	var doc xmlXar
	if err := xml.NewDecoder(bytes.NewReader(decoded)).Decode(&doc); err != nil {
		return nil, nil, dmgerr.Wrap(dmgerr.MalformedXml, "xar.parseToc", err)
	}

	var roots []*Entry
	for _, f := range doc.Toc.Files {
		roots = append(roots, buildEntry(f, ""))
	}
	var flat []*Entry
	flatten(roots, &flat)
	return roots, flat, nil
}
