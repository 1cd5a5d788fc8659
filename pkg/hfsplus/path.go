package hfsplus

import (
	"io"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// splitPath breaks a slash-separated path into its non-empty components.
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolve walks path from the root folder, returning the catalog entry it
// names (§5 "Path resolution").
func (v *Volume) resolve(path string) (*Entry, error) {
	parentID := RootFolderID
	components := splitPath(path)
	if len(components) == 0 {
		return &Entry{CNID: RootFolderID, ParentID: RootParentID, Name: "", IsDir: true}, nil
	}

	var entry *Entry
	for i, name := range components {
		e, err := v.lookupChild(parentID, name)
		if err != nil {
			return nil, err
		}
		entry = e
		if i < len(components)-1 {
			if !e.IsDir {
				return nil, dmgerr.New(dmgerr.NotADirectory, "hfsplus.Volume.resolve")
			}
			parentID = e.CNID
		}
	}
	return entry, nil
}

// Stat resolves path and returns its catalog entry without reading file
// data.
func (v *Volume) Stat(path string) (*Entry, error) {
	return v.resolve(path)
}

// List returns the direct children of the directory at path.
func (v *Volume) List(path string) ([]*Entry, error) {
	entry, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir {
		return nil, dmgerr.New(dmgerr.NotADirectory, "hfsplus.Volume.List")
	}
	return v.listChildren(entry.CNID)
}

// Walk visits every entry reachable from path, depth-first, calling fn
// with each entry's full path. Walking stops and returns fn's error if it
// returns one.
func (v *Volume) Walk(path string, fn func(path string, e *Entry) error) error {
	entry, err := v.resolve(path)
	if err != nil {
		return err
	}
	return v.walk(path, entry, fn)
}

func (v *Volume) walk(path string, entry *Entry, fn func(string, *Entry) error) error {
	if err := fn(path, entry); err != nil {
		return err
	}
	if !entry.IsDir {
		return nil
	}
	children, err := v.listChildren(entry.CNID)
	if err != nil {
		return err
	}
	for _, child := range children {
		childPath := child.Name
		if path != "" {
			childPath = path + "/" + child.Name
		}
		if err := v.walk(childPath, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// FileReader is a sequential, seekable reader over a file's data fork.
type FileReader struct {
	fork *forkReader
	off  int64
}

func (fr *FileReader) Read(p []byte) (int, error) {
	if fr.off >= fr.fork.Size() {
		return 0, io.EOF
	}
	if remaining := fr.fork.Size() - fr.off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := fr.fork.ReadAt(p, fr.off)
	fr.off += int64(n)
	return n, err
}

func (fr *FileReader) ReadAt(p []byte, off int64) (int, error) { return fr.fork.ReadAt(p, off) }

// Size returns the file's data fork length.
func (fr *FileReader) Size() int64 { return fr.fork.Size() }

// OpenFile resolves path to a regular file and returns a reader over its
// data fork.
func (v *Volume) OpenFile(path string) (*FileReader, error) {
	entry, err := v.resolve(path)
	if err != nil {
		return nil, err
	}
	if entry.IsDir {
		return nil, dmgerr.New(dmgerr.NotAFile, "hfsplus.Volume.OpenFile")
	}
	fr, err := newForkReader(v, entry.dataFork, entry.CNID, forkTypeData)
	if err != nil {
		return nil, err
	}
	return &FileReader{fork: fr}, nil
}

// ReadFileTo resolves path and streams its full data fork to w.
func (v *Volume) ReadFileTo(path string, w io.Writer) error {
	f, err := v.OpenFile(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, io.NewSectionReader(f, 0, f.Size()))
	if err != nil {
		return dmgerr.Wrap(dmgerr.Io, "hfsplus.Volume.ReadFileTo", err)
	}
	return nil
}
