// Package pipeline composes the UDIF, HFS+/APFS, XAR/PKG, and PBZX layers
// into the single orchestrator the CLI and embedders drive (§4.6 "Pipeline
// orchestrator"). Filesystem is the tagged Hfs/Apfs handle described in
// Design Notes §9 "polymorphic filesystem without dynamic dispatch": one
// concrete struct with two optional backends and a nil-check dispatch on
// every method, never an interface with two implementations.
package pipeline

import (
	"io"
	"time"

	"github.com/deploymenttheory/go-dmgpkg/pkg/apfs"
	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/hfsplus"
)

// Kind classifies a unified filesystem entry (§3 "Unified filesystem
// entry").
type Kind int

const (
	KindFile Kind = iota
	KindDir
	KindSymlink
	KindOther
)

// Entry is the unified listing/walk record, assembled fresh from the
// backend's own Entry type on every call; no backend type escapes this
// package.
type Entry struct {
	Name    string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// FileStat is the unified stat record (§3). Fields a backend doesn't track
// (Uid/Gid/Atime/Ctime/Btime/Nlink on both backends; HFS+ carries no POSIX
// mode bits at all) are left at their zero value rather than synthesized.
type FileStat struct {
	Size      int64
	Mode      uint32
	Uid       uint32
	Gid       uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Btime     time.Time
	ID        uint64
	Nlink     uint32
	ForkSizes []int64
}

// FileReader is a streaming, seekable handle onto one file's content,
// satisfied identically by *hfsplus.FileReader and *apfs.FileReader.
type FileReader interface {
	io.Reader
	io.ReaderAt
	Size() int64
}

// Filesystem is the polymorphic volume handle §4.6 describes: exactly one
// of hfs or apfs is non-nil, chosen once at open time by FsKind auto-detect
// or an explicit OpenHfs/OpenApfs call.
type Filesystem struct {
	hfs  *hfsplus.Volume
	apfs *apfs.Volume
}

// FsKind reports which backend a Filesystem wraps.
type FsKind int

const (
	FsHfs FsKind = iota
	FsApfs
)

// Kind reports which backend this handle wraps.
func (fs *Filesystem) Kind() FsKind {
	if fs.hfs != nil {
		return FsHfs
	}
	return FsApfs
}

// VolumeInfo returns the volume's name, or "" if the backend has none.
func (fs *Filesystem) VolumeInfo() string {
	if fs.hfs != nil {
		return "" // hfsplus.Volume exposes block/catalog geometry via Header, not a volume name
	}
	return fs.apfs.Name()
}

// VolumeUUIDs returns the backend's container and volume UUIDs, formatted
// as canonical UUID strings. HFS+ carries no UUID concept, so both are ""
// for an Hfs-backed handle.
func (fs *Filesystem) VolumeUUIDs() (container, volume string) {
	if fs.hfs != nil {
		return "", ""
	}
	return fs.apfs.ContainerUUID().String(), fs.apfs.VolumeUUID().String()
}

// Close releases the underlying partition source.
func (fs *Filesystem) Close() error {
	if fs.hfs != nil {
		return fs.hfs.Close()
	}
	return fs.apfs.Close()
}

func kindFromHfs(e *hfsplus.Entry) Kind {
	if e.IsDir {
		return KindDir
	}
	return KindFile
}

func statFromHfs(e *hfsplus.Entry) FileStat {
	return FileStat{
		Size:      int64(e.DataLength),
		Mtime:     e.ContentMTime,
		Btime:     e.CreateTime,
		ID:        uint64(e.CNID),
		ForkSizes: []int64{int64(e.DataLength), int64(e.RsrcLength)},
	}
}

func entryFromHfs(e *hfsplus.Entry) Entry {
	return Entry{
		Name:    e.Name,
		Kind:    kindFromHfs(e),
		Size:    int64(e.DataLength),
		ModTime: e.ContentMTime,
	}
}

func kindFromApfs(e *apfs.Entry) Kind {
	switch {
	case e.IsDir:
		return KindDir
	case e.IsLink:
		return KindSymlink
	case e.IsRegular:
		return KindFile
	default:
		return KindOther
	}
}

func statFromApfs(e *apfs.Entry) FileStat {
	return FileStat{
		Size:  int64(e.Size),
		Mode:  uint32(e.Mode),
		Mtime: e.ModTime,
		ID:    e.ObjID,
	}
}

func entryFromApfs(e *apfs.Entry) Entry {
	return Entry{
		Name:    e.Name,
		Kind:    kindFromApfs(e),
		Size:    int64(e.Size),
		ModTime: e.ModTime,
	}
}

// Stat resolves path to a unified FileStat.
func (fs *Filesystem) Stat(path string) (FileStat, error) {
	if fs.hfs != nil {
		e, err := fs.hfs.Stat(path)
		if err != nil {
			return FileStat{}, err
		}
		return statFromHfs(e), nil
	}
	e, err := fs.apfs.Stat(path)
	if err != nil {
		return FileStat{}, err
	}
	return statFromApfs(e), nil
}

// List returns path's immediate children as unified entries.
func (fs *Filesystem) List(path string) ([]Entry, error) {
	if fs.hfs != nil {
		children, err := fs.hfs.List(path)
		if err != nil {
			return nil, err
		}
		out := make([]Entry, len(children))
		for i, e := range children {
			out[i] = entryFromHfs(e)
		}
		return out, nil
	}
	children, err := fs.apfs.List(path)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(children))
	for i, e := range children {
		out[i] = entryFromApfs(e)
	}
	return out, nil
}

// Walk visits every entry reachable from path, depth-first, yielding its
// slash-joined path and unified entry.
func (fs *Filesystem) Walk(path string, fn func(path string, e Entry) error) error {
	if fs.hfs != nil {
		return fs.hfs.Walk(path, func(p string, e *hfsplus.Entry) error {
			return fn(p, entryFromHfs(e))
		})
	}
	return fs.apfs.Walk(path, func(p string, e *apfs.Entry) error {
		return fn(p, entryFromApfs(e))
	})
}

// OpenFile returns a streaming, seekable reader onto path's data fork.
func (fs *Filesystem) OpenFile(path string) (FileReader, error) {
	if fs.hfs != nil {
		return fs.hfs.OpenFile(path)
	}
	return fs.apfs.OpenFile(path)
}

// ReadFile reads path fully into memory.
func (fs *Filesystem) ReadFile(path string) ([]byte, error) {
	r, err := fs.OpenFile(path)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, r.Size())
	if _, err := io.ReadFull(io.NewSectionReader(r, 0, r.Size()), buf); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "pipeline.Filesystem.ReadFile", err)
	}
	return buf, nil
}

// ReadFileTo streams path's data fork to w.
func (fs *Filesystem) ReadFileTo(path string, w io.Writer) error {
	if fs.hfs != nil {
		return fs.hfs.ReadFileTo(path, w)
	}
	return fs.apfs.ReadFileTo(path, w)
}
