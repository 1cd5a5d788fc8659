package pipeline

import (
	"bytes"
	"io"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/pbzx"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"github.com/deploymenttheory/go-dmgpkg/pkg/xar"
)

// OpenPkg reads path's bytes fully into memory and opens them as a XAR/PKG
// archive (§4.6 "Package surface", open_pkg).
func (p *Pipeline) OpenPkg(fs *Filesystem, path string) (*xar.PkgReader, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return xar.OpenPkg(source.New(bytes.NewReader(data), int64(len(data)), nil))
}

// OpenPkgStreaming spools path to a temporary file and opens the XAR
// archive from there, never holding the whole package in memory
// (open_pkg_streaming).
func (p *Pipeline) OpenPkgStreaming(fs *Filesystem, path string) (*xar.PkgReader, error) {
	src, err := source.Materialize(source.TempFile, func(w io.Writer) error {
		return fs.ReadFileTo(path, w)
	})
	if err != nil {
		return nil, err
	}
	return xar.OpenPkg(src)
}

// FindPackages walks fs collecting every entry whose name ends in ".pkg".
func (p *Pipeline) FindPackages(fs *Filesystem) ([]string, error) {
	var pkgs []string
	err := fs.Walk("/", func(path string, e Entry) error {
		if strings.HasSuffix(e.Name, ".pkg") {
			pkgs = append(pkgs, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pkgs, nil
}

// ExtractPkgPayload composes every layer: it opens pkgPath's PKG archive,
// decodes component's Payload entry (itself a PBZX stream), and returns the
// opened PBZX handle ready for List/ExtractFile/ExtractAll.
func (p *Pipeline) ExtractPkgPayload(fs *Filesystem, pkgPath, component string) (*pbzx.Reader, error) {
	pr, err := p.OpenPkgStreaming(fs, pkgPath)
	if err != nil {
		return nil, err
	}
	payloadSrc, err := source.Materialize(source.TempFile, func(w io.Writer) error {
		_, err := pr.PayloadTo(component, w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pbzx.Open(payloadSrc)
}

// DecodePkgPayload is ExtractPkgPayload plus a full decode of the
// resulting PBZX/CPIO stream, honoring the pipeline's parallel_xz option.
func (p *Pipeline) DecodePkgPayload(fs *Filesystem, pkgPath, component string) ([]byte, error) {
	archive, err := p.ExtractPkgPayload(fs, pkgPath, component)
	if err != nil {
		return nil, err
	}
	return archive.Decode(p.opts.ParallelXZ)
}
