package udif

import (
	"bytes"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"howett.net/plist"
)

// propertyList mirrors the `resource-fork > blkx > array of dict`
// substructure UDIF requires (§4.1). howett.net/plist decodes <data>
// elements straight into []byte, handling both XML and binary plists
// transparently — the teacher's ad hoc encoding/xml unmarshal of the
// outer <dict> could only ever see the XML form and never base64-decoded
// Data itself.
type propertyList struct {
	ResourceFork struct {
		Blkx []blkxDict `plist:"blkx"`
	} `plist:"resource-fork"`
}

type blkxDict struct {
	Attributes string `plist:"Attributes"`
	CFName     string `plist:"CFName"`
	Data       []byte `plist:"Data"`
	ID         string `plist:"ID"`
	Name       string `plist:"Name"`
}

func readPropertyList(src source.Source, t *Trailer) (*propertyList, error) {
	buf := make([]byte, t.PlistLength)
	if _, err := src.ReadAt(buf, int64(t.PlistOffset)); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "udif.readPropertyList", err)
	}

	var pl propertyList
	if err := plist.NewDecoder(bytes.NewReader(buf)).Decode(&pl); err != nil {
		return nil, dmgerr.Wrap(dmgerr.MalformedXml, "udif.readPropertyList", err)
	}
	return &pl, nil
}

// decodeGeneric lets callers peek at the raw plist as a generic map, used
// by `dmg plist` tooling that wants more than the blkx array. Kept buffered
// and small per §9 ("the default for 'small' outputs... is buffered").
func decodeGeneric(data []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, dmgerr.Wrap(dmgerr.MalformedXml, "udif.decodeGeneric", err)
	}
	return m, nil
}

// RawPropertyList re-reads the image's embedded plist as a generic map,
// exposing top-level keys (e.g. "diskimage-version", "resource-fork")
// beyond the typed blkx array that Partitions() surfaces.
func (r *Reader) RawPropertyList() (map[string]interface{}, error) {
	buf := make([]byte, r.trailer.PlistLength)
	if _, err := r.src.ReadAt(buf, int64(r.trailer.PlistOffset)); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "udif.Reader.RawPropertyList", err)
	}
	return decodeGeneric(buf)
}
