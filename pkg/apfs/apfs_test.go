package apfs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/deploymenttheory/go-dmgpkg/pkg/codec"
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// buildNxSuperblock hand-lays-out a minimal valid nx_superblock_t: a
// 32-byte object header followed by magic, block size, and block count,
// with every other field left zero.
func buildNxSuperblock(magic, blockSize uint32, blockCount uint64) []byte {
	buf := make([]byte, nxSuperblockSize)
	binary.LittleEndian.PutUint32(buf[objPhysSize+0:], magic)
	binary.LittleEndian.PutUint32(buf[objPhysSize+4:], blockSize)
	binary.LittleEndian.PutUint64(buf[objPhysSize+8:], blockCount)
	return buf
}

func TestParseNXSuperblockValid(t *testing.T) {
	raw := buildNxSuperblock(nxMagic, 4096, 1000)
	sb, err := parseNXSuperblock(raw)
	if err != nil {
		t.Fatalf("parseNXSuperblock: %v", err)
	}
	if sb.BlockSize != 4096 || sb.BlockCount != 1000 {
		t.Fatalf("got BlockSize=%d BlockCount=%d", sb.BlockSize, sb.BlockCount)
	}
}

func TestParseNXSuperblockRejectsBadMagic(t *testing.T) {
	raw := buildNxSuperblock(0xdeadbeef, 4096, 1000)
	_, err := parseNXSuperblock(raw)
	if !dmgerr.Is(err, dmgerr.BadMagic) {
		t.Fatalf("expected BadMagic, got %v", err)
	}
}

func TestParseNXSuperblockRejectsOutOfRangeBlockSize(t *testing.T) {
	raw := buildNxSuperblock(nxMagic, 128, 1000)
	_, err := parseNXSuperblock(raw)
	if !dmgerr.Is(err, dmgerr.BadHeader) {
		t.Fatalf("expected BadHeader for undersized block size, got %v", err)
	}
}

func TestParseNXSuperblockRejectsTruncatedInput(t *testing.T) {
	raw := buildNxSuperblock(nxMagic, 4096, 1000)
	_, err := parseNXSuperblock(raw[:objPhysSize+10])
	if !dmgerr.Is(err, dmgerr.Truncated) {
		t.Fatalf("expected Truncated, got %v", err)
	}
}

// buildNxBlock lays out a full blockSize-byte block 0: the fixed
// nx_superblock_t prefix followed by zero-padding out to blockSize, with
// a valid Fletcher-64 checksum computed over the whole block (minus the
// checksum field itself) written into the object header.
func buildNxBlock(blockSize uint32) []byte {
	block := make([]byte, blockSize)
	copy(block, buildNxSuperblock(nxMagic, blockSize, 1000))
	binary.LittleEndian.PutUint64(block[0:8], codec.Fletcher64(block[8:]))
	return block
}

func TestReadValidSuperblockChecksumsFullBlock(t *testing.T) {
	block := buildNxBlock(nxMinBlockSize)
	src := source.New(bytes.NewReader(block), int64(len(block)), nil)

	sb, err := readValidSuperblock(src, true)
	if err != nil {
		t.Fatalf("readValidSuperblock: %v", err)
	}
	if sb.BlockSize != nxMinBlockSize {
		t.Fatalf("got BlockSize=%d", sb.BlockSize)
	}
}

func TestReadValidSuperblockDetectsCorruptBlock(t *testing.T) {
	block := buildNxBlock(nxMinBlockSize)
	block[nxSuperblockSize+10] ^= 0xff // corrupt a byte outside the fixed prefix
	src := source.New(bytes.NewReader(block), int64(len(block)), nil)

	if _, err := readValidSuperblock(src, true); !dmgerr.Is(err, dmgerr.ChecksumMismatch) {
		t.Fatalf("expected ChecksumMismatch for a block corrupted past the fixed prefix, got %v", err)
	}
}

func TestReadValidSuperblockSkipsChecksumWhenDisabled(t *testing.T) {
	block := buildNxBlock(nxMinBlockSize)
	block[nxSuperblockSize+10] ^= 0xff
	src := source.New(bytes.NewReader(block), int64(len(block)), nil)

	if _, err := readValidSuperblock(src, false); err != nil {
		t.Fatalf("expected no error with verifyChecksums=false, got %v", err)
	}
}
