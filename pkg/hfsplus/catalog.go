package hfsplus

import (
	"encoding/binary"
	"time"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
)

// RecordType classifies a catalog leaf record (TN1150 "Catalog File").
type RecordType int16

const (
	RecordFolder       RecordType = 0x0001
	RecordFile         RecordType = 0x0002
	RecordFolderThread RecordType = 0x0003
	RecordFileThread   RecordType = 0x0004
)

// Entry is a resolved catalog record: enough to stat, list, or open the
// item it names.
type Entry struct {
	CNID         CatalogNodeID
	ParentID     CatalogNodeID
	Name         string
	IsDir        bool
	DataLength   uint64
	RsrcLength   uint64
	CreateTime   time.Time
	ContentMTime time.Time

	dataFork ForkData
	rsrcFork ForkData
}

// DataFork returns the entry's data fork location, valid for files only.
func (e *Entry) DataFork() ForkData { return e.dataFork }

type rawCatalogFolder struct {
	RecordType       int16
	Flags            uint16
	Valence          uint32
	FolderID         uint32
	CreateDate       uint32
	ContentModDate   uint32
	AttributeModDate uint32
	AccessDate       uint32
	BackupDate       uint32
	Permissions      [16]byte
	UserInfo         [16]byte
	FinderInfo       [16]byte
	TextEncoding     uint32
	Reserved         uint32
}

type rawCatalogFile struct {
	RecordType       int16
	Flags            uint16
	Reserved1        uint32
	FileID           uint32
	CreateDate       uint32
	ContentModDate   uint32
	AttributeModDate uint32
	AccessDate       uint32
	BackupDate       uint32
	Permissions      [16]byte
	UserInfo         [16]byte
	FinderInfo       [16]byte
	TextEncoding     uint32
	Reserved2        uint32
	DataFork         ForkData
	ResourceFork     ForkData
}

func decodeCatalogLeaf(rec []byte, name string, parentID CatalogNodeID) (*Entry, bool) {
	payload := rec[catalogKeyByteLen(rec):]
	if len(payload) < 2 {
		return nil, false
	}
	recordType := RecordType(binary.BigEndian.Uint16(payload[:2]))

	switch recordType {
	case RecordFolder:
		var f rawCatalogFolder
		if err := bigEndianRead(payload, &f); err != nil {
			return nil, false
		}
		return &Entry{
			CNID:         CatalogNodeID(f.FolderID),
			ParentID:     parentID,
			Name:         name,
			IsDir:        true,
			CreateTime:   hfsTime(f.CreateDate),
			ContentMTime: hfsTime(f.ContentModDate),
		}, true
	case RecordFile:
		var f rawCatalogFile
		if err := bigEndianRead(payload, &f); err != nil {
			return nil, false
		}
		return &Entry{
			CNID:         CatalogNodeID(f.FileID),
			ParentID:     parentID,
			Name:         name,
			IsDir:        false,
			DataLength:   f.DataFork.LogicalSize,
			RsrcLength:   f.ResourceFork.LogicalSize,
			CreateTime:   hfsTime(f.CreateDate),
			ContentMTime: hfsTime(f.ContentModDate),
			dataFork:     f.DataFork,
			rsrcFork:     f.ResourceFork,
		}, true
	default:
		return nil, false
	}
}

// lookupChild resolves one path component within parentID via a direct
// B-tree descent on CatalogKey{parentID, name}.
func (v *Volume) lookupChild(parentID CatalogNodeID, name string) (*Entry, error) {
	target := CatalogKey{ParentID: parentID, NodeName: name}
	node, err := v.catalog.descend(catalogKeyCompareFunc(target, v.catalog.caseFold))
	if err != nil {
		return nil, err
	}
	for i := 0; i < int(node.numRecords); i++ {
		rec := node.record(i)
		key := parseCatalogKey(rec)
		if compareCatalogKeys(key, target, v.catalog.caseFold) == 0 {
			entry, ok := decodeCatalogLeaf(rec, key.NodeName, key.ParentID)
			if !ok {
				break
			}
			return entry, nil
		}
	}
	return nil, dmgerr.New(dmgerr.PathNotFound, "hfsplus.Volume.lookupChild")
}

// listChildren returns every folder/file record directly under parentID,
// in catalog-key (name) order, by descending to the first leaf that could
// hold them and following leaf forward-links until the parent changes.
func (v *Volume) listChildren(parentID CatalogNodeID) ([]*Entry, error) {
	target := CatalogKey{ParentID: parentID, NodeName: ""}
	node, err := v.catalog.descend(catalogKeyCompareFunc(target, v.catalog.caseFold))
	if err != nil {
		return nil, err
	}

	var entries []*Entry
	for node != nil {
		done := false
		for i := 0; i < int(node.numRecords); i++ {
			rec := node.record(i)
			key := parseCatalogKey(rec)
			if key.ParentID < parentID {
				continue
			}
			if key.ParentID > parentID {
				done = true
				break
			}
			if entry, ok := decodeCatalogLeaf(rec, key.NodeName, key.ParentID); ok {
				entries = append(entries, entry)
			}
		}
		if done {
			break
		}
		fLink := binary.BigEndian.Uint32(node.data[0:4])
		if fLink == 0 {
			break
		}
		node, err = v.catalog.readNode(fLink)
		if err != nil {
			return nil, err
		}
	}
	return entries, nil
}
