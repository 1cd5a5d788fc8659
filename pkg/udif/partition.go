package udif

import (
	"hash/crc32"
	"io"

	"github.com/deploymenttheory/go-dmgpkg/pkg/codec"
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// Partition is one resource-fork/blkx entry: a named, checksummed,
// block-compressed region of the disk image's logical sector space (§3
// "Partition record").
type Partition struct {
	Name       string
	ID         string
	Attributes string

	header mishHeader
	runs   []BlockRun

	// dataForkBase is the absolute file offset of the UDIF data fork;
	// every block run's InOffset is rebased through mish.DataOffset and
	// then through this value (§4.1).
	dataForkBase int64
	src          source.Source
}

// SectorCount is the partition's total logical sector count.
func (p *Partition) SectorCount() uint64 { return p.header.SectorCount }

// Size is the partition's total decompressed byte length.
func (p *Partition) Size() int64 { return int64(p.header.SectorCount) * sectorSize }

// storedChecksum returns the partition's mish CRC-32, if non-zero (§4.1,
// §8: "verified against CRC-32... if non-zero").
func (p *Partition) storedChecksum() (uint32, bool) {
	return dataCRC32(p.header.Checksum)
}

func (p *Partition) physicalOffset(run BlockRun) int64 {
	return p.dataForkBase + int64(p.header.DataOffset) + int64(run.InOffset)
}

func blockKindToCodec(k BlockKind) (codec.Kind, bool) {
	switch k {
	case Zlib:
		return codec.Zlib, true
	case Bzip2:
		return codec.Bzip2, true
	case Adc:
		return codec.Adc, true
	case Lzfse:
		return codec.Lzfse, true
	case Xz:
		return codec.Xz, true
	default:
		return 0, false
	}
}

// WriteTo decompresses the full partition, in block-run (out_sector)
// order, to w. This is the streaming form of extraction (§4.6).
func (p *Partition) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, run := range p.runs {
		window := int64(run.OutSectorCount) * sectorSize
		switch run.Kind {
		case End, Comment, Ignore:
			continue
		case ZeroFill:
			n, err := io.CopyN(w, zeroReader{}, window)
			written += n
			if err != nil {
				return written, dmgerr.Wrap(dmgerr.Io, "udif.Partition.WriteTo", err)
			}
		case Raw:
			n, err := p.copyPadded(w, run, window, nil)
			written += n
			if err != nil {
				return written, err
			}
		default:
			kind, ok := blockKindToCodec(run.Kind)
			if !ok {
				return written, dmgerr.New(dmgerr.UnsupportedCompression, "udif.Partition.WriteTo")
			}
			n, err := p.copyPadded(w, run, window, &kind)
			written += n
			if err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// copyPadded reads run.InLength bytes at the run's rebased offset (raw if
// kind is nil, otherwise codec-decoded), writes them to w, and zero-pads
// the remainder of the sector window (§4.1: "the tail is left zero").
func (p *Partition) copyPadded(w io.Writer, run BlockRun, window int64, kind *codec.Kind) (int64, error) {
	in := make([]byte, run.InLength)
	if _, err := p.src.ReadAt(in, p.physicalOffset(run)); err != nil {
		return 0, dmgerr.Wrap(dmgerr.Io, "udif.Partition.copyPadded", err)
	}

	var payload []byte
	if kind == nil {
		payload = in
	} else {
		out, err := codec.DecodeAll(*kind, in, int(window))
		if err != nil {
			return 0, dmgerr.Wrap(dmgerr.Codec, "udif.Partition.copyPadded", err)
		}
		payload = out
	}

	if int64(len(payload)) > window {
		payload = payload[:window]
	}

	n, err := w.Write(payload)
	if err != nil {
		return int64(n), dmgerr.Wrap(dmgerr.Io, "udif.Partition.copyPadded", err)
	}

	pad := window - int64(len(payload))
	if pad > 0 {
		pn, perr := io.CopyN(w, zeroReader{}, pad)
		if perr != nil {
			return int64(n) + pn, dmgerr.Wrap(dmgerr.Io, "udif.Partition.copyPadded", perr)
		}
	}
	return window, nil
}

// zeroReader is an infinite stream of zero bytes, used to emit ZeroFill
// runs and sector-window padding without allocating.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// VerifyChecksum decompresses the partition and checks its CRC-32 against
// the stored mish checksum, if any is present (§4.1, §8).
func (p *Partition) VerifyChecksum() error {
	stored, ok := p.storedChecksum()
	if !ok {
		return nil
	}
	h := crc32.NewIEEE()
	if _, err := p.WriteTo(h); err != nil {
		return err
	}
	if h.Sum32() != stored {
		return dmgerr.New(dmgerr.ChecksumMismatch, "udif.Partition.VerifyChecksum")
	}
	return nil
}
