// Package source defines the random-access byte source that every parser in
// this module reads from, and the two concrete backings the pipeline
// orchestrator materializes partitions into (§3, §9 of SPEC_FULL.md).
//
// A Source is never mutated by a parser and never assumed to be backed by
// a real filesystem file; the only contract is ReadAt/Seek/Read over a
// bounded range, mirroring io.ReaderAt wrapped in an *io.SectionReader the
// way the teacher's apfs/pkg/util.FileDevice wraps an *os.File.
package source

import (
	"io"
)

// Source is the universal input to every layer's parser: read-plus-seek
// access to a finite byte range. Implementations must be safe to read from
// multiple independently-seeked views (see Clone).
type Source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	// Size returns the total addressable length of the source.
	Size() int64
	// Clone returns an independent view over the same bytes with its own
	// seek position, so two readers (e.g. two fork readers) never share
	// positional state (§5 "Ordering guarantees").
	Clone() Source
	// Close releases any resources (temp files, open handles) owned by
	// this source. Clones share the underlying resource; only the
	// original returned by New*/the pipeline owns lifecycle.
	io.Closer
}

// sectioned adapts an io.ReaderAt into a Source via io.SectionReader.
type sectioned struct {
	ra      io.ReaderAt
	base    int64
	size    int64
	sr      *io.SectionReader
	closeFn func() error
}

// New wraps an io.ReaderAt as a Source over [0, size). closeFn, if non-nil,
// is invoked exactly once by the original's Close (not by clones).
func New(ra io.ReaderAt, size int64, closeFn func() error) Source {
	return &sectioned{
		ra:      ra,
		size:    size,
		sr:      io.NewSectionReader(ra, 0, size),
		closeFn: closeFn,
	}
}

func (s *sectioned) Read(p []byte) (int, error)                { return s.sr.Read(p) }
func (s *sectioned) ReadAt(p []byte, off int64) (int, error)    { return s.sr.ReadAt(p, off) }
func (s *sectioned) Seek(off int64, whence int) (int64, error)  { return s.sr.Seek(off, whence) }
func (s *sectioned) Size() int64                                { return s.size }

func (s *sectioned) Clone() Source {
	return &sectioned{
		ra:   s.ra,
		size: s.size,
		sr:   io.NewSectionReader(s.ra, 0, s.size),
		// clones do not own closeFn
	}
}

func (s *sectioned) Close() error {
	if s.closeFn != nil {
		fn := s.closeFn
		s.closeFn = nil
		return fn()
	}
	return nil
}

// Sub returns a Source windowed to [off, off+length) of s, with its own
// independent seek position. Used to hand a partition, fork, or heap range
// down to the next layer without copying bytes.
func Sub(s Source, off, length int64) Source {
	return &windowed{parent: s, base: off, size: length}
}

type windowed struct {
	parent Source
	base   int64
	size   int64
	pos    int64
}

func (w *windowed) Read(p []byte) (int, error) {
	n, err := w.ReadAt(p, w.pos)
	w.pos += int64(n)
	return n, err
}

func (w *windowed) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > w.size {
		return 0, io.EOF
	}
	max := w.size - off
	if int64(len(p)) > max {
		p = p[:max]
	}
	if len(p) == 0 {
		if off == w.size {
			return 0, io.EOF
		}
		return 0, nil
	}
	n, err := w.parent.ReadAt(p, w.base+off)
	return n, err
}

func (w *windowed) Seek(off int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = off
	case io.SeekCurrent:
		newPos = w.pos + off
	case io.SeekEnd:
		newPos = w.size + off
	default:
		return 0, io.ErrUnexpectedEOF
	}
	if newPos < 0 {
		return 0, io.EOF
	}
	w.pos = newPos
	return newPos, nil
}

func (w *windowed) Size() int64 { return w.size }

func (w *windowed) Clone() Source {
	return &windowed{parent: w.parent.Clone(), base: w.base, size: w.size}
}

func (w *windowed) Close() error { return nil }
