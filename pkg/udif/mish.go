package udif

import (
	"bytes"
	"encoding/binary"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// BlockKind classifies one block run's compression (§3 "Partition record").
type BlockKind uint32

const (
	ZeroFill BlockKind = 0x00000000
	Raw      BlockKind = 0x00000001
	Ignore   BlockKind = 0x00000002
	Adc      BlockKind = 0x80000004
	Zlib     BlockKind = 0x80000005
	Bzip2    BlockKind = 0x80000006
	Lzfse    BlockKind = 0x80000007
	// Xz is historically mislabeled LZVN in some ecosystem tools; it is
	// LZMA2/XZ framed data (§9 Open Questions).
	Xz      BlockKind = 0x80000008
	Comment BlockKind = 0x7FFFFFFE
	End     BlockKind = 0xFFFFFFFF
)

func (k BlockKind) String() string {
	switch k {
	case ZeroFill:
		return "zerofill"
	case Raw:
		return "raw"
	case Ignore:
		return "ignore"
	case Adc:
		return "adc"
	case Zlib:
		return "zlib"
	case Bzip2:
		return "bzip2"
	case Lzfse:
		return "lzfse"
	case Xz:
		return "xz"
	case Comment:
		return "comment"
	case End:
		return "end"
	default:
		return "unknown"
	}
}

// BlockRun is one 40-byte entry in a partition's mish block map (§3).
type BlockRun struct {
	Kind           BlockKind
	Comment        uint32
	OutSector      uint64
	OutSectorCount uint64
	InOffset       uint64
	InLength       uint64
}

// mishHeader is the 204-byte header preceding a partition's block runs
// (§4.1). The count at offset 200 (NumberOfBlockChunks) is authoritative;
// the field at offset 36 (BlockDescriptors) is advisory only — it's
// frequently observed holding a partition index instead of a count (§9
// Open Questions) and is kept here for diagnostics, never for sizing the
// block-run slice.
type mishHeader struct {
	Signature        uint32
	Version          uint32
	FirstSector      uint64
	SectorCount      uint64
	DataOffset       uint64
	BuffersNeeded    uint32
	BlockDescriptors uint32
	Reserved1        uint32
	Reserved2        uint32
	Reserved3        uint32
	Reserved4        uint32
	Reserved5        uint32
	Reserved6        uint32
	ChecksumType     uint32
	ChecksumSize     uint32
	Checksum         [32]uint32
	BlockRunCount    uint32
}

// parseMish decodes a mish blob (the decoded <Data> of one blkx dict) into
// its header and ordered block runs.
func parseMish(data []byte) (*mishHeader, []BlockRun, error) {
	if len(data) < mishHeaderSize || string(data[:4]) != mishMagic {
		return nil, nil, dmgerr.New(dmgerr.BadMagic, "udif.parseMish")
	}

	var h mishHeader
	if err := binary.Read(bytes.NewReader(data[:mishHeaderSize]), binary.BigEndian, &h); err != nil {
		return nil, nil, dmgerr.Wrap(dmgerr.BadHeader, "udif.parseMish", err)
	}

	runsData := data[mishHeaderSize:]
	count := int(h.BlockRunCount)
	if count*blockRunSize > len(runsData) {
		return nil, nil, dmgerr.New(dmgerr.Truncated, "udif.parseMish")
	}

	runs := make([]BlockRun, 0, count)
	r := bytes.NewReader(runsData)
	for i := 0; i < count; i++ {
		var raw struct {
			EntryType        uint32
			Comment          uint32
			SectorNumber     uint64
			SectorCount      uint64
			CompressedOffset uint64
			CompressedLength uint64
		}
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, nil, dmgerr.Wrap(dmgerr.Truncated, "udif.parseMish", err)
		}
		run := BlockRun{
			Kind:           BlockKind(raw.EntryType),
			Comment:        raw.Comment,
			OutSector:      raw.SectorNumber,
			OutSectorCount: raw.SectorCount,
			InOffset:       raw.CompressedOffset,
			InLength:       raw.CompressedLength,
		}
		runs = append(runs, run)
		if run.Kind == End {
			break
		}
	}

	return &h, runs, nil
}
