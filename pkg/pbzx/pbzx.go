// Package pbzx decodes PBZX framing and the CPIO entry stream it wraps
// (§4.5 "PBZX/CPIO reader"). PBZX concatenates independently XZ-compressed
// chunks; decoding the chunks serially or across a worker pool must produce
// byte-identical output.
package pbzx

import (
	"bytes"
	"encoding/binary"
	"io"
	"runtime"

	"github.com/deploymenttheory/go-dmgpkg/pkg/codec"
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"golang.org/x/sync/errgroup"
)

const (
	magic           = "pbzx"
	headerSize      = 4 + 8 // magic + flags
	chunkHeaderSize = 8 + 8
)

// Header is the 12-byte PBZX preamble: a magic and a flags field whose
// only documented use is as a chunk-size hint (§4.5 "PBZX framing").
type Header struct {
	Flags uint64
}

// chunkFraming is one chunk's position and declared lengths, recorded by
// the light first pass of the two-pass parallel strategy (§4.5 "Parallel
// mode").
type chunkFraming struct {
	inOffset int64
	inLen    int64
	outLen   int64
}

// Reader decodes a PBZX stream's chunks in order.
//
// Both the serial and the parallel path read chunks through the source's
// io.ReaderAt; the parallel path uses it to fan chunk reads out to a worker
// pool (§4.5 "Parallel mode").
type Reader struct {
	src    source.Source
	header Header
}

// Open validates the PBZX header and returns a Reader positioned at the
// first chunk.
func Open(src source.Source) (*Reader, error) {
	var hdr [headerSize]byte
	if _, err := src.ReadAt(hdr[:], 0); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Truncated, "pbzx.Open", err)
	}
	if string(hdr[0:4]) != magic {
		return nil, dmgerr.New(dmgerr.BadMagic, "pbzx.Open")
	}
	return &Reader{src: src, header: Header{Flags: binary.BigEndian.Uint64(hdr[4:12])}}, nil
}

// Header returns the decoded PBZX preamble.
func (r *Reader) Header() Header { return r.header }

// framing performs the light first pass over the chunk headers: every
// chunk's (in_offset, in_len, out_len), without touching payload bytes.
func (r *Reader) framing() ([]chunkFraming, error) {
	var chunks []chunkFraming
	off := int64(headerSize)
	size := r.src.Size()
	for off+chunkHeaderSize <= size {
		var hdr [chunkHeaderSize]byte
		if _, err := r.src.ReadAt(hdr[:], off); err != nil {
			return nil, dmgerr.Wrap(dmgerr.Io, "pbzx.Reader.framing", err)
		}
		outLen := binary.BigEndian.Uint64(hdr[0:8])
		inLen := binary.BigEndian.Uint64(hdr[8:16])
		off += chunkHeaderSize
		if outLen == 0 && inLen == 0 {
			break
		}
		chunks = append(chunks, chunkFraming{inOffset: off, inLen: int64(inLen), outLen: int64(outLen)})
		off += int64(inLen)
	}
	return chunks, nil
}

// decodeChunk decompresses one chunk's payload, or copies it verbatim when
// it was stored raw (compressed_len == decompressed_len, §3 "PBZX chunk").
func (r *Reader) decodeChunk(c chunkFraming) ([]byte, error) {
	raw := make([]byte, c.inLen)
	if _, err := r.src.ReadAt(raw, c.inOffset); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "pbzx.decodeChunk", err)
	}
	if c.inLen == c.outLen {
		return raw, nil
	}
	out, err := codec.DecodeAll(codec.Xz, raw, int(c.outLen))
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Pbzx, "pbzx.decodeChunk", err)
	}
	if int64(len(out)) != c.outLen {
		return nil, dmgerr.New(dmgerr.Truncated, "pbzx.decodeChunk")
	}
	return out, nil
}

// DecodeTo writes the fully decompressed CPIO stream to w, decoding chunks
// one at a time in order (§4.5 "PBZX framing").
func (r *Reader) DecodeTo(w io.Writer) error {
	chunks, err := r.framing()
	if err != nil {
		return err
	}
	for _, c := range chunks {
		data, err := r.decodeChunk(c)
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return dmgerr.Wrap(dmgerr.Io, "pbzx.Reader.DecodeTo", err)
		}
	}
	return nil
}

// DecodeParallelTo writes the fully decompressed CPIO stream to w, decoding
// every chunk concurrently across a bounded worker pool and joining results
// in chunk order before writing (§4.5 "Parallel mode"). Output is
// byte-identical to DecodeTo.
func (r *Reader) DecodeParallelTo(w io.Writer) error {
	chunks, err := r.framing()
	if err != nil {
		return err
	}
	decoded := make([][]byte, len(chunks))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, c := range chunks {
		i, c := i, c
		g.Go(func() error {
			data, err := r.decodeChunk(c)
			if err != nil {
				return err
			}
			decoded[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, data := range decoded {
		if _, err := w.Write(data); err != nil {
			return dmgerr.Wrap(dmgerr.Io, "pbzx.Reader.DecodeParallelTo", err)
		}
	}
	return nil
}

// Decode returns the fully decompressed CPIO stream as an owned buffer.
func (r *Reader) Decode(parallel bool) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if parallel {
		err = r.DecodeParallelTo(&buf)
	} else {
		err = r.DecodeTo(&buf)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CpioStream opens a streaming CpioReader over the decompressed payload,
// decoding chunks serially as the caller consumes entries. This backs
// seek-based listing: headers are parsed and file bodies skipped without
// ever materializing the whole decompressed stream (§4.5 "Seek-based
// listing").
func (r *Reader) CpioStream() (*CpioReader, error) {
	chunks, err := r.framing()
	if err != nil {
		return nil, err
	}
	return NewCpioReader(&chunkStreamReader{r: r, chunks: chunks}), nil
}

// chunkStreamReader presents a sequence of decoded chunks as one io.Reader,
// decoding the next chunk on demand so a CpioReader can skip file bodies
// without pulling the whole archive into memory.
type chunkStreamReader struct {
	r      *Reader
	chunks []chunkFraming
	idx    int
	cur    []byte
}

func (c *chunkStreamReader) Read(p []byte) (int, error) {
	for len(c.cur) == 0 {
		if c.idx >= len(c.chunks) {
			return 0, io.EOF
		}
		data, err := c.r.decodeChunk(c.chunks[c.idx])
		c.idx++
		if err != nil {
			return 0, err
		}
		c.cur = data
	}
	n := copy(p, c.cur)
	c.cur = c.cur[n:]
	return n, nil
}

// List decodes just enough of the archive to return every CPIO entry's
// header, skipping file bodies via the streaming reader.
func (r *Reader) List() ([]*CpioEntry, error) {
	cr, err := r.CpioStream()
	if err != nil {
		return nil, err
	}
	var entries []*CpioEntry
	for {
		entry, err := cr.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		entries = append(entries, entry)
		if _, err := io.Copy(io.Discard, cr); err != nil {
			return nil, dmgerr.Wrap(dmgerr.Io, "pbzx.Reader.List", err)
		}
	}
	return entries, nil
}

// ExtractFile decodes the archive looking for name, returning its file
// body the moment it's found without decoding entries past it.
func (r *Reader) ExtractFile(name string) ([]byte, error) {
	cr, err := r.CpioStream()
	if err != nil {
		return nil, err
	}
	for {
		entry, err := cr.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, dmgerr.New(dmgerr.PathNotFound, "pbzx.Reader.ExtractFile")
		}
		if entry.Name == name {
			var buf bytes.Buffer
			if _, err := io.Copy(&buf, cr); err != nil {
				return nil, dmgerr.Wrap(dmgerr.Io, "pbzx.Reader.ExtractFile", err)
			}
			return buf.Bytes(), nil
		}
		if _, err := io.Copy(io.Discard, cr); err != nil {
			return nil, dmgerr.Wrap(dmgerr.Io, "pbzx.Reader.ExtractFile", err)
		}
	}
}

// ExtractAll decodes every regular-file entry in the archive, calling fn
// with its path and a reader bounded to its body.
func (r *Reader) ExtractAll(fn func(name string, mode uint32, body io.Reader) error) error {
	cr, err := r.CpioStream()
	if err != nil {
		return err
	}
	for {
		entry, err := cr.Next()
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if entry.Kind() == "file" {
			if err := fn(entry.Name, entry.Mode, cr); err != nil {
				return err
			}
		}
		if _, err := io.Copy(io.Discard, cr); err != nil {
			return dmgerr.Wrap(dmgerr.Io, "pbzx.Reader.ExtractAll", err)
		}
	}
}
