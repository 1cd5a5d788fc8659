package xar

import (
	"io"
	"strings"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

// PkgReader wraps an Archive with macOS .pkg-specific knowledge: product
// packages (a Distribution script plus one subdirectory per component) vs
// component packages (a single PackageInfo/Payload pair at the root),
// §4.4 "PKG product/component classification".
type PkgReader struct {
	xar *Archive
}

// NewPkgReader wraps an already-opened Archive.
func NewPkgReader(a *Archive) *PkgReader { return &PkgReader{xar: a} }

// OpenPkg opens src as a XAR archive and wraps it for .pkg access
// (§4.6 "Package surface", open_pkg).
func OpenPkg(src source.Source) (*PkgReader, error) {
	a, err := Open(src)
	if err != nil {
		return nil, err
	}
	return NewPkgReader(a), nil
}

// Archive returns the underlying XAR archive.
func (p *PkgReader) Archive() *Archive { return p.xar }

// IsProductPackage reports whether the package carries a top-level
// Distribution script.
func (p *PkgReader) IsProductPackage() bool {
	return p.xar.Find("Distribution") != nil
}

// Components lists the package's component names. A product package's
// components are its root-level ".pkg" subdirectories; a component
// package has exactly one, unnamed component ("").
func (p *PkgReader) Components() []string {
	var components []string
	for _, e := range p.xar.Roots() {
		if e.Kind == KindDir && strings.HasSuffix(e.Name, ".pkg") {
			components = append(components, e.Name)
		}
	}
	if len(components) == 0 {
		if p.xar.Find("Payload") != nil || p.xar.Find("PackageInfo") != nil {
			components = append(components, "")
		}
	}
	return components
}

func componentPath(component, name string) string {
	if component == "" {
		return name
	}
	return component + "/" + name
}

// Distribution returns the product package's Distribution XML, or nil if
// this isn't a product package.
func (p *PkgReader) Distribution() ([]byte, error) {
	e := p.xar.Find("Distribution")
	if e == nil {
		return nil, nil
	}
	return p.xar.ReadFile(e)
}

// PackageInfo returns component's PackageInfo XML, or nil if it carries
// none.
func (p *PkgReader) PackageInfo(component string) ([]byte, error) {
	e := p.xar.Find(componentPath(component, "PackageInfo"))
	if e == nil {
		return nil, nil
	}
	return p.xar.ReadFile(e)
}

// Payload decodes component's Payload (a PBZX archive) fully into memory.
func (p *PkgReader) Payload(component string) ([]byte, error) {
	e := p.xar.Find(componentPath(component, "Payload"))
	if e == nil {
		return nil, dmgerr.New(dmgerr.PathNotFound, "xar.PkgReader.Payload")
	}
	return p.xar.ReadFile(e)
}

// PayloadTo streams component's Payload to w.
func (p *PkgReader) PayloadTo(component string, w io.Writer) (int64, error) {
	e := p.xar.Find(componentPath(component, "Payload"))
	if e == nil {
		return 0, dmgerr.New(dmgerr.PathNotFound, "xar.PkgReader.PayloadTo")
	}
	return p.xar.ReadFileTo(e, w)
}
