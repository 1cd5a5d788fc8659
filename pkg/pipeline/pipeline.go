package pipeline

import (
	"encoding/binary"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/apfs"
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/hfsplus"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"github.com/deploymenttheory/go-dmgpkg/pkg/udif"
)

// Options is the orchestrator's process-wide configuration, mirrored by the
// Mode, VerifyChecksums and ParallelXZ fields of
// internal/config.AppConfig.Extract so the CLI layer can wire flags/viper
// keys straight through (§6 "Configuration options"). AppConfig.Extract's
// TempDir has no counterpart here.
type Options struct {
	// Mode selects how extract_partition materializes a partition absent
	// a per-call override.
	Mode source.Mode
	// VerifyChecksums enforces UDIF mish CRC-32 and APFS Fletcher-64.
	VerifyChecksums bool
	// ParallelXZ opts PBZX payload decoding into the chunk-parallel path.
	ParallelXZ bool
}

// DefaultOptions matches internal/config.AppConfig's defaults.
func DefaultOptions() Options {
	return Options{Mode: source.TempFile, VerifyChecksums: true, ParallelXZ: true}
}

// Pipeline is an opened UDIF image plus the options every composed
// operation inherits absent a per-call override.
type Pipeline struct {
	udif *udif.Reader
	opts Options
}

// Open opens the UDIF image at path (§6 "Pipeline open").
func Open(path string, opts Options) (*Pipeline, error) {
	r, err := udif.OpenFile(path, udif.Options{VerifyChecksums: opts.VerifyChecksums})
	if err != nil {
		return nil, err
	}
	return &Pipeline{udif: r, opts: opts}, nil
}

// OpenSource opens an already-backed UDIF source (used by tests and by
// callers who materialized the image bytes themselves).
func OpenSource(src source.Source, opts Options) (*Pipeline, error) {
	r, err := udif.Open(src, udif.Options{VerifyChecksums: opts.VerifyChecksums})
	if err != nil {
		return nil, err
	}
	return &Pipeline{udif: r, opts: opts}, nil
}

// Close releases the underlying image source.
func (p *Pipeline) Close() error { return p.udif.Close() }

// Partitions enumerates the image's partition records (§6 "Partition
// enumeration").
func (p *Pipeline) Partitions() []*udif.Partition { return p.udif.Partitions() }

// Trailer returns the image's parsed koly trailer.
func (p *Pipeline) Trailer() *udif.Trailer { return p.udif.Trailer() }

// RawPropertyList exposes the image's embedded plist as a generic map, for
// inspecting keys beyond the typed blkx array Partitions() surfaces.
func (p *Pipeline) RawPropertyList() (map[string]interface{}, error) {
	return p.udif.RawPropertyList()
}

func (p *Pipeline) modeOverride(mode []source.Mode) source.Mode {
	if len(mode) > 0 {
		return mode[0]
	}
	return p.opts.Mode
}

// ExtractPartition decompresses partition id per mode (or the pipeline's
// default) and returns it as a random-access Source (§6 "Partition
// extraction").
func (p *Pipeline) ExtractPartition(id string, mode ...source.Mode) (source.Source, error) {
	part, err := p.udif.Partition(id)
	if err != nil {
		return nil, err
	}
	return p.materializePartition(part, p.modeOverride(mode))
}

func (p *Pipeline) materializePartition(part *udif.Partition, mode source.Mode) (source.Source, error) {
	return p.udif.ExtractPartition(part, mode)
}

func attrsMatch(p *udif.Partition, substrs ...string) bool {
	for _, s := range substrs {
		if strings.Contains(p.Attributes, s) || strings.Contains(p.Name, s) {
			return true
		}
	}
	return false
}

func isHfsPartition(p *udif.Partition) bool {
	return attrsMatch(p, "Apple_HFS", "Apple_HFSX")
}

func isApfsPartition(p *udif.Partition) bool {
	return attrsMatch(p, "Apple_APFS")
}

// sniffFilesystemKind falls back to magic sniffing on extracted partition
// bytes when the partition table's Attributes/Name carry no recognizable
// hint (§4.6 "Filesystem auto-detect").
func sniffFilesystemKind(src source.Source) (FsKind, error) {
	buf := make([]byte, 1026)
	n, _ := src.ReadAt(buf, 0)
	if n >= 36 && string(buf[32:36]) == "NXSB" {
		return FsApfs, nil
	}
	if n >= 1026 {
		sig := binary.BigEndian.Uint16(buf[1024:1026])
		if sig == 0x482B || sig == 0x4858 {
			return FsHfs, nil
		}
	}
	return 0, dmgerr.New(dmgerr.NoFilesystemPartition, "pipeline.sniffFilesystemKind")
}

func (p *Pipeline) openBackend(kind FsKind, src source.Source) (*Filesystem, error) {
	if kind == FsHfs {
		vol, err := hfsplus.Open(src)
		if err != nil {
			return nil, err
		}
		return &Filesystem{hfs: vol}, nil
	}
	vol, err := apfs.Open(src, apfs.OpenOptions{VerifyChecksums: p.opts.VerifyChecksums})
	if err != nil {
		return nil, err
	}
	return &Filesystem{apfs: vol}, nil
}

// OpenFilesystem picks the image's filesystem partition by attribute
// sniffing, falling back to magic sniffing on each partition's extracted
// bytes, and opens it as a unified Filesystem handle (§6 "Filesystem
// open").
func (p *Pipeline) OpenFilesystem(mode ...source.Mode) (*Filesystem, error) {
	parts := p.Partitions()
	m := p.modeOverride(mode)

	for _, part := range parts {
		var kind FsKind
		switch {
		case isHfsPartition(part):
			kind = FsHfs
		case isApfsPartition(part):
			kind = FsApfs
		default:
			continue
		}
		src, err := p.materializePartition(part, m)
		if err != nil {
			return nil, err
		}
		return p.openBackend(kind, src)
	}

	for _, part := range parts {
		src, err := p.materializePartition(part, m)
		if err != nil {
			return nil, err
		}
		kind, err := sniffFilesystemKind(src)
		if err != nil {
			_ = src.Close()
			continue
		}
		return p.openBackend(kind, src)
	}

	return nil, dmgerr.New(dmgerr.NoFilesystemPartition, "pipeline.OpenFilesystem")
}

// OpenHfs requires the image's filesystem partition to be HFS+/HFSX.
func (p *Pipeline) OpenHfs(mode ...source.Mode) (*Filesystem, error) {
	fs, err := p.openTyped(FsHfs, mode)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.NoHfsPartition, "pipeline.OpenHfs", err)
	}
	return fs, nil
}

// OpenApfs requires the image's filesystem partition to be APFS.
func (p *Pipeline) OpenApfs(mode ...source.Mode) (*Filesystem, error) {
	fs, err := p.openTyped(FsApfs, mode)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.NoApfsPartition, "pipeline.OpenApfs", err)
	}
	return fs, nil
}

func (p *Pipeline) openTyped(want FsKind, mode []source.Mode) (*Filesystem, error) {
	fs, err := p.OpenFilesystem(mode...)
	if err != nil {
		return nil, err
	}
	if fs.Kind() != want {
		_ = fs.Close()
		return nil, dmgerr.New(dmgerr.NoFilesystemPartition, "pipeline.openTyped")
	}
	return fs, nil
}
