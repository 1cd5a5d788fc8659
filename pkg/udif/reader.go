package udif

import (
	"os"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// Options controls optional UDIF behavior (§6 "Configuration options").
type Options struct {
	// VerifyChecksums enforces the mish CRC-32 on every extraction.
	// Checksum failures become fatal ChecksumMismatch errors when true;
	// silently ignored when false (§7 "Propagation").
	VerifyChecksums bool
}

// DefaultOptions matches the orchestrator's process-wide defaults.
func DefaultOptions() Options {
	return Options{VerifyChecksums: true}
}

// Reader is an opened UDIF disk image: a parsed trailer plus the ordered
// list of partitions found in its resource-fork/blkx property list (§4.1).
type Reader struct {
	src      source.Source
	trailer  *Trailer
	parts    []*Partition
	opts     Options
}

// Open parses the koly trailer, property list, and every partition's mish
// block map from src. src is retained (not cloned) by the returned Reader.
func Open(src source.Source, opts Options) (*Reader, error) {
	trailer, err := readTrailer(src)
	if err != nil {
		return nil, err
	}

	if opts.VerifyChecksums {
		if err := verifyDataForkChecksum(src, trailer); err != nil {
			return nil, err
		}
	}

	pl, err := readPropertyList(src, trailer)
	if err != nil {
		return nil, err
	}

	r := &Reader{src: src, trailer: trailer, opts: opts}

	for _, blkx := range pl.ResourceFork.Blkx {
		if len(blkx.Data) < 4 || string(blkx.Data[:4]) != mishMagic {
			continue
		}
		header, runs, err := parseMish(blkx.Data)
		if err != nil {
			return nil, err
		}
		r.parts = append(r.parts, &Partition{
			Name:         blkx.Name,
			ID:           blkx.ID,
			Attributes:   blkx.Attributes,
			header:       *header,
			runs:         runs,
			dataForkBase: int64(trailer.DataForkOffset),
			src:          src,
		})
	}

	return r, nil
}

// OpenFile opens a UDIF image directly from a filesystem path, a
// convenience wrapper the CLI's `dmg` command group uses.
func OpenFile(path string, opts Options) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "udif.OpenFile", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, dmgerr.Wrap(dmgerr.Io, "udif.OpenFile", err)
	}
	s := source.New(f, info.Size(), f.Close)
	r, err := Open(s, opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	return r, nil
}

// Trailer returns the image's parsed koly trailer.
func (r *Reader) Trailer() *Trailer { return r.trailer }

// Partitions returns every partition found in the resource-fork/blkx
// property list, in plist order (§6 "Partition enumeration").
func (r *Reader) Partitions() []*Partition { return r.parts }

// Partition looks up a partition by its blkx ID.
func (r *Reader) Partition(id string) (*Partition, error) {
	for _, p := range r.parts {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, dmgerr.New(dmgerr.NoSuchPartition, "udif.Reader.Partition")
}

// Close releases the underlying source.
func (r *Reader) Close() error { return r.src.Close() }
