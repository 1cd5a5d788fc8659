// Package xar decodes XAR archives and the .pkg/.mpkg installer packages
// built on top of them (§4.4 "XAR/PKG reader").
package xar

import (
	"encoding/binary"
	"io"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

const (
	magic = 0x78617221 // "xar!"

	// fixedHeaderSize is the portion of the header this reader
	// understands; header_size may declare a larger value on newer
	// archives, in which case the remainder is skipped unread.
	fixedHeaderSize = 28
)

// ChecksumAlgo identifies the TOC checksum algorithm declared in the
// header (Apple's xar(1) on-disk format).
type ChecksumAlgo uint32

const (
	ChecksumNone ChecksumAlgo = iota
	ChecksumSha1
	ChecksumMd5
	ChecksumSha256
)

// Header is the fixed-size XAR preamble preceding the compressed TOC.
type Header struct {
	HeaderSize         uint16
	Version            uint16
	TocCompressedLen   uint64
	TocUncompressedLen uint64
	ChecksumAlgo       ChecksumAlgo
}

// parseHeader reads and validates the 28-byte XAR header from r, skipping
// any extra bytes declared by HeaderSize beyond what this reader parses.
func parseHeader(r io.Reader) (*Header, error) {
	var buf [fixedHeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Truncated, "xar.parseHeader", err)
	}
	if binary.BigEndian.Uint32(buf[0:4]) != magic {
		return nil, dmgerr.New(dmgerr.BadMagic, "xar.parseHeader")
	}
	hdr := &Header{
		HeaderSize:         binary.BigEndian.Uint16(buf[4:6]),
		Version:            binary.BigEndian.Uint16(buf[6:8]),
		TocCompressedLen:   binary.BigEndian.Uint64(buf[8:16]),
		TocUncompressedLen: binary.BigEndian.Uint64(buf[16:24]),
		ChecksumAlgo:       ChecksumAlgo(binary.BigEndian.Uint32(buf[24:28])),
	}
	if extra := int64(hdr.HeaderSize) - fixedHeaderSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return nil, dmgerr.Wrap(dmgerr.Truncated, "xar.parseHeader", err)
		}
	}
	return hdr, nil
}
