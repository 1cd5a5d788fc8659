package udif

import (
	"io"

	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// ExtractPartition decompresses p into a new random-access Source per
// mode (§4.6 "Partition extraction mode"), verifying its mish checksum
// first when VerifyChecksums is enabled (§4.1, §8).
func (r *Reader) ExtractPartition(p *Partition, mode source.Mode) (source.Source, error) {
	if r.opts.VerifyChecksums {
		if err := p.VerifyChecksum(); err != nil {
			return nil, err
		}
	}
	return source.Materialize(mode, func(w io.Writer) error {
		_, err := p.WriteTo(w)
		return err
	})
}

// ExtractPartitionTo streams a partition's decompressed bytes directly to
// a caller-supplied sink, skipping Source materialization entirely — the
// orchestrator's `extract_partition(id, sink)` form (§6).
func (r *Reader) ExtractPartitionTo(p *Partition, w io.Writer) error {
	if r.opts.VerifyChecksums {
		if err := p.VerifyChecksum(); err != nil {
			return err
		}
	}
	_, err := p.WriteTo(w)
	return err
}
