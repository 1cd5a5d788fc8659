package xar

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// buildXar assembles a minimal, valid XAR archive: header, zlib-compressed
// TOC XML, and a heap holding one uncompressed and one gzip-compressed
// entry, mirroring the on-disk layout §4.4 describes.
func buildXar(t *testing.T) []byte {
	t.Helper()

	plain := []byte("hello from the heap")
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write([]byte("compressed payload")); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	heap := append(append([]byte{}, plain...), gz.Bytes()...)

	tocXML := `<?xml version="1.0" encoding="UTF-8"?>
<xar><toc>
  <file id="1">
    <name>README</name>
    <type>file</type>
    <data>
      <offset>0</offset>
      <length>` + itoa(len(plain)) + `</length>
      <size>` + itoa(len(plain)) + `</size>
      <encoding style="application/octet-stream"/>
    </data>
  </file>
  <file id="2">
    <name>Payload</name>
    <type>file</type>
    <data>
      <offset>` + itoa(len(plain)) + `</offset>
      <length>` + itoa(len(gz.Bytes())) + `</length>
      <size>18</size>
      <encoding style="application/x-gzip"/>
    </data>
  </file>
  <file id="3">
    <name>sub.pkg</name>
    <type>directory</type>
  </file>
</toc></xar>`

	var tocCompressed bytes.Buffer
	zlw := zlib.NewWriter(&tocCompressed)
	if _, err := zlw.Write([]byte(tocXML)); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zlw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	var buf bytes.Buffer
	hdr := make([]byte, fixedHeaderSize)
	binary.BigEndian.PutUint32(hdr[0:4], magic)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(fixedHeaderSize))
	binary.BigEndian.PutUint16(hdr[6:8], 1)
	binary.BigEndian.PutUint64(hdr[8:16], uint64(tocCompressed.Len()))
	binary.BigEndian.PutUint64(hdr[16:24], uint64(len(tocXML)))
	binary.BigEndian.PutUint32(hdr[24:28], uint32(ChecksumSha1))
	buf.Write(hdr)
	buf.Write(tocCompressed.Bytes())
	buf.Write(heap)

	return buf.Bytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	raw := buildXar(t)
	src := source.New(bytes.NewReader(raw), int64(len(raw)), nil)
	a, err := Open(src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return a
}

func TestOpenParsesTocAndPaths(t *testing.T) {
	a := openTestArchive(t)

	if got := len(a.Files()); got != 3 {
		t.Fatalf("expected 3 TOC entries, got %d", got)
	}
	readme := a.Find("README")
	if readme == nil {
		t.Fatalf("expected to find README by path")
	}
	if readme.Data.Encoding != "none" {
		t.Fatalf("expected octet-stream to map to \"none\", got %q", readme.Data.Encoding)
	}
}

func TestReadFileDecodesRawAndGzip(t *testing.T) {
	a := openTestArchive(t)

	readme := a.Find("README")
	data, err := a.ReadFile(readme)
	if err != nil {
		t.Fatalf("ReadFile(README): %v", err)
	}
	if string(data) != "hello from the heap" {
		t.Fatalf("unexpected README content: %q", data)
	}

	payload := a.Find("Payload")
	if payload.Data.Encoding != "gzip" {
		t.Fatalf("expected application/x-gzip to map to \"gzip\", got %q", payload.Data.Encoding)
	}
	decoded, err := a.ReadFile(payload)
	if err != nil {
		t.Fatalf("ReadFile(Payload): %v", err)
	}
	if string(decoded) != "compressed payload" {
		t.Fatalf("unexpected decoded payload: %q", decoded)
	}
}

func TestPkgReaderFindsComponentDirectories(t *testing.T) {
	a := openTestArchive(t)
	pr := NewPkgReader(a)

	if pr.IsProductPackage() {
		t.Fatalf("archive has no Distribution entry, expected not a product package")
	}

	components := pr.Components()
	if len(components) != 1 || components[0] != "sub.pkg" {
		t.Fatalf("expected root .pkg directory to be the sole component, got %v", components)
	}
}
