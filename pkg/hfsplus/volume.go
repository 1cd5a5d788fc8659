// Package hfsplus implements read-only access to an HFS+/HFSX volume
// (Apple Technical Note TN1150): the volume header, catalog and extents
// overflow B-trees, and fork readers needed to resolve a path to file
// data without mounting the filesystem.
package hfsplus

import (
	"bytes"
	"encoding/binary"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
)

const (
	sigHFSPlus uint16 = 0x482B // "H+"
	sigHFSX    uint16 = 0x4858 // "HX"

	volumeHeaderOffset = 1024
	volumeHeaderSize   = 512

	// hfsEpochOffset is the number of seconds between the HFS+ epoch
	// (Jan 1 1904 00:00 UTC) and the Unix epoch.
	hfsEpochOffset = 2082844800
)

// CatalogNodeID identifies a catalog record; well-known IDs below 16 name
// the filesystem's built-in files (TN1150 "Catalog File").
type CatalogNodeID uint32

const (
	RootParentID     CatalogNodeID = 1
	RootFolderID     CatalogNodeID = 2
	ExtentsFileID    CatalogNodeID = 3
	CatalogFileID    CatalogNodeID = 4
	AllocationFileID CatalogNodeID = 6
	StartupFileID    CatalogNodeID = 7
	AttributesFileID CatalogNodeID = 8
	FirstUserCNID    CatalogNodeID = 16
)

// ExtentDescriptor is one contiguous run of allocation blocks.
type ExtentDescriptor struct {
	StartBlock uint32
	BlockCount uint32
}

// ForkData describes a fork's logical size and its first eight extents;
// forks spanning more than eight extents continue in the extents overflow
// B-tree (see extents.go).
type ForkData struct {
	LogicalSize uint64
	ClumpSize   uint32
	TotalBlocks uint32
	Extents     [8]ExtentDescriptor
}

type rawVolumeHeader struct {
	Signature          uint16
	Version            uint16
	Attributes         uint32
	LastMountedVersion uint32
	JournalInfoBlock   uint32
	CreateDate         uint32
	ModifyDate         uint32
	BackupDate         uint32
	CheckedDate        uint32
	FileCount          uint32
	FolderCount        uint32
	BlockSize          uint32
	TotalBlocks        uint32
	FreeBlocks         uint32
	NextAllocation     uint32
	ResourceClumpSize  uint32
	DataClumpSize      uint32
	NextCatalogID      uint32
	WriteCount         uint32
	EncodingsBitmap    uint64
	FinderInfo         [32]byte
	AllocationFile     ForkData
	ExtentsFile        ForkData
	CatalogFile        ForkData
	AttributesFile     ForkData
	StartupFile        ForkData
}

// VolumeHeader is the 512-byte structure at offset 1024 of an HFS+/HFSX
// volume, describing allocation geometry and the location of every
// special file (TN1150 "Volume Header").
type VolumeHeader struct {
	Signature   uint16
	Version     uint16
	Attributes  uint32
	CreateDate  time.Time
	ModifyDate  time.Time
	BackupDate  time.Time
	CheckedDate time.Time
	FileCount   uint32
	FolderCount uint32
	BlockSize   uint32
	TotalBlocks uint32
	FreeBlocks  uint32
	NextCNID    CatalogNodeID

	AllocationFile ForkData
	ExtentsFile    ForkData
	CatalogFile    ForkData
	AttributesFile ForkData
	StartupFile    ForkData
}

// IsHFSX reports whether the volume uses HFSX's binary-compare catalog key
// ordering rather than HFS+'s case-folded Unicode ordering (TN1150
// "HFSX Volumes").
func (h *VolumeHeader) IsHFSX() bool { return h.Signature == sigHFSX }

func hfsTime(v uint32) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v)-hfsEpochOffset, 0).UTC()
}

func readVolumeHeader(src source.Source) (*VolumeHeader, error) {
	buf := make([]byte, volumeHeaderSize)
	if _, err := src.ReadAt(buf, volumeHeaderOffset); err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "hfsplus.readVolumeHeader", err)
	}

	var raw rawVolumeHeader
	if err := binary.Read(bytes.NewReader(buf), binary.BigEndian, &raw); err != nil {
		return nil, dmgerr.Wrap(dmgerr.BadHeader, "hfsplus.readVolumeHeader", err)
	}

	if raw.Signature != sigHFSPlus && raw.Signature != sigHFSX {
		return nil, dmgerr.New(dmgerr.BadMagic, "hfsplus.readVolumeHeader")
	}

	return &VolumeHeader{
		Signature:      raw.Signature,
		Version:        raw.Version,
		Attributes:     raw.Attributes,
		CreateDate:     hfsTime(raw.CreateDate),
		ModifyDate:     hfsTime(raw.ModifyDate),
		BackupDate:     hfsTime(raw.BackupDate),
		CheckedDate:    hfsTime(raw.CheckedDate),
		FileCount:      raw.FileCount,
		FolderCount:    raw.FolderCount,
		BlockSize:      raw.BlockSize,
		TotalBlocks:    raw.TotalBlocks,
		FreeBlocks:     raw.FreeBlocks,
		NextCNID:       CatalogNodeID(raw.NextCatalogID),
		AllocationFile: raw.AllocationFile,
		ExtentsFile:    raw.ExtentsFile,
		CatalogFile:    raw.CatalogFile,
		AttributesFile: raw.AttributesFile,
		StartupFile:    raw.StartupFile,
	}, nil
}

// nodeCacheSize bounds the number of decoded B-tree nodes retained across
// catalog/extents lookups for a single Volume.
const nodeCacheSize = 256

// Volume is an opened, read-only HFS+/HFSX filesystem.
type Volume struct {
	src    source.Source
	header *VolumeHeader

	catalog *btree
	extents *btree

	nodes *lru.Cache[nodeKey, *btNode]
}

// Open parses the volume header and opens the catalog and extents
// overflow B-trees from src (a partition already extracted from its UDIF
// container, per §4/§5's data-flow).
func Open(src source.Source) (*Volume, error) {
	header, err := readVolumeHeader(src)
	if err != nil {
		return nil, err
	}

	nodes, err := lru.New[nodeKey, *btNode](nodeCacheSize)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "hfsplus.Open", err)
	}

	v := &Volume{src: src, header: header, nodes: nodes}

	v.catalog, err = openBTree(v, treeCatalog, CatalogFileID, header.CatalogFile)
	if err != nil {
		return nil, err
	}
	if header.ExtentsFile.LogicalSize > 0 {
		v.extents, err = openBTree(v, treeExtents, ExtentsFileID, header.ExtentsFile)
		if err != nil {
			return nil, err
		}
	}

	return v, nil
}

// Header returns the volume's parsed header.
func (v *Volume) Header() *VolumeHeader { return v.header }

// Close releases the underlying source.
func (v *Volume) Close() error { return v.src.Close() }
