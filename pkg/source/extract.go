package source

import (
	"bytes"
	"io"
	"os"

	"github.com/deploymenttheory/go-dmgpkg/internal/common/fsutil"
)

// Mode selects how a decompressed partition is materialized, matching the
// orchestrator's extract_mode option (§4.6, §5).
type Mode int

const (
	// TempFile streams decompressed bytes into an anonymous temp file and
	// opens it as a random-access Source; deleted when Close is called.
	// This is the default, bounding peak memory to one codec work buffer.
	TempFile Mode = iota
	// InMemory decompresses into an owned byte buffer and wraps it as a
	// Source; peak residency equals the partition size.
	InMemory
)

// Sink is anything extraction can stream decompressed bytes into: a
// temp file, a caller-supplied io.Writer, or an in-memory buffer.
type Sink interface {
	io.Writer
}

// Materialize drains fill (a function that writes exactly the decompressed
// partition bytes to the given writer) into a Source per mode.
func Materialize(mode Mode, fill func(io.Writer) error) (Source, error) {
	switch mode {
	case InMemory:
		var buf bytes.Buffer
		if err := fill(&buf); err != nil {
			return nil, err
		}
		data := buf.Bytes()
		return New(bytes.NewReader(data), int64(len(data)), nil), nil
	default:
		dir, err := fsutil.CreateTempDir("go-dmgpkg-")
		if err != nil {
			return nil, err
		}
		f, err := os.CreateTemp(dir, "partition-*.bin")
		if err != nil {
			_ = fsutil.DeleteDirRecursive(dir)
			return nil, err
		}
		if err := fill(f); err != nil {
			f.Close()
			_ = fsutil.DeleteDirRecursive(dir)
			return nil, err
		}
		size, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			f.Close()
			_ = fsutil.DeleteDirRecursive(dir)
			return nil, err
		}
		closeFn := func() error {
			cerr := f.Close()
			derr := fsutil.DeleteDirRecursive(dir)
			if cerr != nil {
				return cerr
			}
			return derr
		}
		return New(f, size, closeFn), nil
	}
}
