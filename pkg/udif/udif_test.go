package udif

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"howett.net/plist"
)

// buildMish encodes a minimal mish blob: header plus a Raw run covering
// one sector, followed by a ZeroFill run covering another, terminated by
// an End run, matching §4.1's block-run invariant.
func buildMish(t *testing.T, rawPayload []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	header := mishHeader{
		Signature:     binary.BigEndian.Uint32([]byte(mishMagic)),
		Version:       1,
		FirstSector:   0,
		SectorCount:   2,
		DataOffset:    0,
		BlockRunCount: 3,
	}
	if err := binary.Write(&buf, binary.BigEndian, header); err != nil {
		t.Fatalf("write header: %v", err)
	}

	type rawRun struct {
		EntryType        uint32
		Comment          uint32
		SectorNumber     uint64
		SectorCount      uint64
		CompressedOffset uint64
		CompressedLength uint64
	}
	runs := []rawRun{
		{EntryType: uint32(Raw), SectorNumber: 0, SectorCount: 1, CompressedOffset: 0, CompressedLength: uint64(len(rawPayload))},
		{EntryType: uint32(ZeroFill), SectorNumber: 1, SectorCount: 1},
		{EntryType: uint32(End)},
	}
	for _, r := range runs {
		if err := binary.Write(&buf, binary.BigEndian, r); err != nil {
			t.Fatalf("write run: %v", err)
		}
	}
	return buf.Bytes()
}

func TestOpenAndExtractPartition(t *testing.T) {
	rawPayload := bytes.Repeat([]byte{0xAB}, 200) // less than one sector, rest is zero-padded
	mish := buildMish(t, rawPayload)

	var plistBuf bytes.Buffer
	pl := propertyList{}
	pl.ResourceFork.Blkx = []blkxDict{{
		Name: "disk image",
		ID:   "0",
		Data: mish,
	}}
	if err := plist.NewEncoder(&plistBuf).Encode(&pl); err != nil {
		t.Fatalf("encode plist: %v", err)
	}

	dataFork := rawPayload // block run's CompressedOffset=0 is relative to data-fork start

	var image bytes.Buffer
	dataForkOffset := uint64(image.Len())
	image.Write(dataFork)

	plistOffset := uint64(image.Len())
	image.Write(plistBuf.Bytes())

	trailer := Trailer{
		Signature:      [4]byte{'k', 'o', 'l', 'y'},
		Version:        4,
		DataForkOffset: dataForkOffset,
		DataForkLength: uint64(len(dataFork)),
		PlistOffset:    plistOffset,
		PlistLength:    uint64(plistBuf.Len()),
		SectorCount:    2,
	}
	if err := binary.Write(&image, binary.BigEndian, trailer); err != nil {
		t.Fatalf("write trailer: %v", err)
	}

	src := source.New(bytes.NewReader(image.Bytes()), int64(image.Len()), nil)

	r, err := Open(src, Options{VerifyChecksums: false})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(r.Partitions()) != 1 {
		t.Fatalf("got %d partitions, want 1", len(r.Partitions()))
	}

	p := r.Partitions()[0]
	if p.Size() != 2*sectorSize {
		t.Fatalf("Size() = %d, want %d", p.Size(), 2*sectorSize)
	}

	var out bytes.Buffer
	if _, err := p.WriteTo(&out); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if out.Len() != 2*sectorSize {
		t.Fatalf("decoded length = %d, want %d", out.Len(), 2*sectorSize)
	}
	if !bytes.Equal(out.Bytes()[:len(rawPayload)], rawPayload) {
		t.Fatalf("raw payload mismatch")
	}
	for _, b := range out.Bytes()[len(rawPayload):] {
		if b != 0 {
			t.Fatalf("expected zero padding/fill, got %x", b)
		}
	}
}

// buildImageWithDataChecksum lays out a data fork plus an empty-blkx plist
// and a koly trailer carrying a DataChecksum computed over the data fork,
// returning the full image bytes.
func buildImageWithDataChecksum(t *testing.T, dataFork []byte, storedCRC uint32) []byte {
	t.Helper()

	var plistBuf bytes.Buffer
	pl := propertyList{}
	if err := plist.NewEncoder(&plistBuf).Encode(&pl); err != nil {
		t.Fatalf("encode plist: %v", err)
	}

	var image bytes.Buffer
	dataForkOffset := uint64(image.Len())
	image.Write(dataFork)

	plistOffset := uint64(image.Len())
	image.Write(plistBuf.Bytes())

	trailer := Trailer{
		Signature:      [4]byte{'k', 'o', 'l', 'y'},
		Version:        4,
		DataForkOffset: dataForkOffset,
		DataForkLength: uint64(len(dataFork)),
		PlistOffset:    plistOffset,
		PlistLength:    uint64(plistBuf.Len()),
		SectorCount:    uint64(len(dataFork)) / sectorSize,
	}
	trailer.DataChecksum[0] = storedCRC
	if err := binary.Write(&image, binary.BigEndian, trailer); err != nil {
		t.Fatalf("write trailer: %v", err)
	}
	return image.Bytes()
}

func TestOpenVerifiesDataForkChecksum(t *testing.T) {
	dataFork := bytes.Repeat([]byte{0x5A}, sectorSize)
	crc := crc32.ChecksumIEEE(dataFork)
	image := buildImageWithDataChecksum(t, dataFork, crc)
	src := source.New(bytes.NewReader(image), int64(len(image)), nil)

	if _, err := Open(src, Options{VerifyChecksums: true}); err != nil {
		t.Fatalf("Open with correct data-fork checksum: %v", err)
	}
}

func TestOpenRejectsCorruptedDataForkChecksum(t *testing.T) {
	dataFork := bytes.Repeat([]byte{0x5A}, sectorSize)
	badCRC := crc32.ChecksumIEEE(dataFork) ^ 0xffffffff
	image := buildImageWithDataChecksum(t, dataFork, badCRC)
	src := source.New(bytes.NewReader(image), int64(len(image)), nil)

	_, err := Open(src, Options{VerifyChecksums: true})
	if !dmgerr.Is(err, dmgerr.ChecksumMismatch) {
		t.Fatalf("Open with corrupted data-fork checksum: got %v, want ChecksumMismatch", err)
	}
}

func TestOpenSkipsDataForkChecksumWhenDisabled(t *testing.T) {
	dataFork := bytes.Repeat([]byte{0x5A}, sectorSize)
	badCRC := crc32.ChecksumIEEE(dataFork) ^ 0xffffffff
	image := buildImageWithDataChecksum(t, dataFork, badCRC)
	src := source.New(bytes.NewReader(image), int64(len(image)), nil)

	if _, err := Open(src, Options{VerifyChecksums: false}); err != nil {
		t.Fatalf("Open with VerifyChecksums=false: %v", err)
	}
}

func TestReadTrailerBadMagic(t *testing.T) {
	buf := make([]byte, kolySize)
	copy(buf, "nope")
	src := source.New(bytes.NewReader(buf), int64(len(buf)), nil)
	if _, err := readTrailer(src); err == nil {
		t.Fatal("expected error for bad magic")
	}
}
