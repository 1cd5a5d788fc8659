package apfs

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deploymenttheory/go-dmgpkg/pkg/dmgerr"
	"github.com/deploymenttheory/go-dmgpkg/pkg/source"
	"github.com/google/uuid"
)

const (
	apsbMagic uint32 = 0x42535041 // 'APSB'

	// apsbFixedSize is the minimum superblock length accepted: enough for
	// every fixed field read before volume_name. volume_name lies further
	// in and is read only when the block is long enough to hold it.
	apsbFixedSize = 420
)

// volumeSuperblock is a volume's own superblock (apfs_superblock_t),
// reached through the container's object map.
type volumeSuperblock struct {
	obj objPhys

	FSIndex       uint32
	RootTreeOid   OidT
	OmapOid       OidT
	NextObjId     uint64
	NumFiles      uint64
	NumDirs       uint64
	VolUUID       [16]byte
	VolumeName    string
}

func parseVolumeSuperblock(raw []byte) (*volumeSuperblock, error) {
	if len(raw) < apsbFixedSize {
		return nil, dmgerr.New(dmgerr.Truncated, "apfs.parseVolumeSuperblock")
	}
	sb := &volumeSuperblock{obj: parseObjPhys(raw[0:objPhysSize])}

	d := raw[objPhysSize:]
	magic := byteOrder.Uint32(d[0:4])
	if magic != apsbMagic {
		return nil, dmgerr.New(dmgerr.BadMagic, "apfs.parseVolumeSuperblock")
	}
	sb.FSIndex = byteOrder.Uint32(d[4:8])
	// features(8) + ro_compat_features(8) + incompat_features(8) +
	// unmount_time(8) + reserved_blocks(8) + quota_blocks(8) +
	// alloc_count(8) + fs_meta_crypto(20) + root_tree_type(4) +
	// extentref_tree_type(4) + snap_meta_tree_type(4) + omap_oid(8) +
	// root_tree_oid(8) + extentref_tree_oid(8) + snap_meta_tree_oid(8) +
	// revert_to_xid(8) + revert_to_sblock_oid(8) + next_obj_id(8) +
	// num_files(8) + num_directories(8) + num_symlinks(8) + num_other(8),
	// all following magic(4) + fs_index(4).
	off := 4 + 4 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 20 + 4 + 4 + 4
	sb.OmapOid = OidT(byteOrder.Uint64(d[off : off+8]))
	off += 8
	sb.RootTreeOid = OidT(byteOrder.Uint64(d[off : off+8]))
	off += 8
	off += 8 // extentref_tree_oid
	off += 8 // snap_meta_tree_oid
	off += 8 // revert_to_xid
	off += 8 // revert_to_sblock_oid
	sb.NextObjId = byteOrder.Uint64(d[off : off+8])
	off += 8
	sb.NumFiles = byteOrder.Uint64(d[off : off+8])
	off += 8
	sb.NumDirs = byteOrder.Uint64(d[off : off+8])
	off += 8
	off += 8 // num_symlinks
	off += 8 // num_other_fsobjects
	off += 8 // num_snapshots
	off += 8 // total_blocks_alloced
	off += 8 // total_blocks_freed
	copy(sb.VolUUID[:], d[off:off+16])
	off += 16 // vol_uuid
	off += 8  // last_mod_time
	off += 8  // fs_flags
	off += 32 // formatted_by (apfs_modified_by_t: id[32] + timestamp(8) + last_xid(8))
	off += 8
	off += 8
	// 8 more apfs_modified_by_t entries follow formatted_by.
	off += 48 * 8
	// volume_name[256] starting here.
	if off+256 > len(d) {
		return sb, nil
	}
	nameBytes := d[off : off+256]
	end := 0
	for end < len(nameBytes) && nameBytes[end] != 0 {
		end++
	}
	sb.VolumeName = string(nameBytes[:end])
	return sb, nil
}

// Volume is an opened, read-only APFS volume: its superblock, its object
// map, and the file-system B-tree that object map roots.
type Volume struct {
	src          source.Source
	blockSize    uint32
	containerSb  *nxSuperblock
	sb           *volumeSuperblock
	omap         *objectMap
	fsTree       *btree
	nodes        *lru.Cache[btNodeCacheKey, *btNode]
}

// OpenOptions mirrors the orchestrator's checksum-verification knob for
// the APFS layer (§6 "Configuration options").
type OpenOptions struct {
	VerifyChecksums bool
}

// DefaultOpenOptions matches the orchestrator's process-wide defaults.
func DefaultOpenOptions() OpenOptions { return OpenOptions{VerifyChecksums: true} }

// Open reads the container superblock, scans for the live checkpoint,
// resolves the container object map, selects the first usable volume, and
// opens that volume's own object map and file-system tree (§4.3).
func Open(src source.Source, opts OpenOptions) (*Volume, error) {
	nx, err := readValidSuperblock(src, opts.VerifyChecksums)
	if err != nil {
		return nil, err
	}

	nodes, err := lru.New[btNodeCacheKey, *btNode](nodeCacheSize)
	if err != nil {
		return nil, dmgerr.Wrap(dmgerr.Io, "apfs.Open", err)
	}

	const containerCacheID = 0
	containerOmap, err := openObjectMap(src, nx.BlockSize, nx.OmapOid, containerCacheID, nodes)
	if err != nil {
		return nil, err
	}

	for slot, fsOid := range nx.FSOid {
		if fsOid == oidInvalid {
			continue
		}
		addr, err := containerOmap.resolve(fsOid, nx.obj.Xid)
		if err != nil {
			continue
		}
		raw, err := readBlock(src, nx.BlockSize, addr)
		if err != nil {
			continue
		}
		if opts.VerifyChecksums && !verifyFletcher64(raw) {
			continue
		}
		sb, err := parseVolumeSuperblock(raw)
		if err != nil {
			continue
		}

		volCacheID := slot + 1
		volOmap, err := openObjectMap(src, nx.BlockSize, sb.OmapOid, volCacheID, nodes)
		if err != nil {
			return nil, err
		}

		vol := &Volume{src: src, blockSize: nx.BlockSize, containerSb: nx, sb: sb, omap: volOmap, nodes: nodes}
		vns := &virtualNodeSource{src: src, omap: volOmap, xid: nx.obj.Xid, blockSize: nx.BlockSize}
		vol.fsTree = &btree{
			src:     vns,
			root:    nodeRef{physical: false, oid: sb.RootTreeOid},
			cacheID: volCacheID,
			nodes:   nodes,
		}
		return vol, nil
	}

	return nil, dmgerr.New(dmgerr.NoApfsPartition, "apfs.Open")
}

// Name returns the volume's name.
func (v *Volume) Name() string { return v.sb.VolumeName }

// ContainerUUID returns the enclosing container's UUID.
func (v *Volume) ContainerUUID() uuid.UUID {
	id, _ := uuid.FromBytes(v.containerSb.UUID[:])
	return id
}

// VolumeUUID returns this volume's own UUID.
func (v *Volume) VolumeUUID() uuid.UUID {
	id, _ := uuid.FromBytes(v.sb.VolUUID[:])
	return id
}

// Close releases the underlying source.
func (v *Volume) Close() error { return v.src.Close() }

// rootDirOid is the object id of every volume's root directory
// (Apple File System Reference, "File-System Constants").
const rootDirOid uint64 = 2
