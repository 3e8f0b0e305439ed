package ext4

// On-disk structure layouts, ported from the teacher's struc-tagged
// definitions (ext4/superblock.go, ext4/groupdescriptor.go, ext4/inode.go
// of the teacher repo) and cross-checked against original_source/ext4.py's
// ctypes structures. Field offsets follow the published ext4 on-disk
// layout; see https://ext4.wiki.kernel.org/index.php/Ext4_Disk_Layout

const (
	superblockMagic   = 0xEF53
	extentHeaderMagic = 0xF30A

	superblockOffset = 0x400
)

// Mode type bits (top nibble of Inode.Mode).
const (
	modeTypeMask = 0xF000
	modeFIFO     = 0x1000
	modeChar     = 0x2000
	modeDir      = 0x4000
	modeBlock    = 0x6000
	modeRegular  = 0x8000
	modeSymlink  = 0xA000
	modeSocket   = 0xC000
)

// Inode flag bits of interest.
const (
	flagIndex      = 0x1000
	flagExtents    = 0x80000
	flagInlineData = 0x10000000
)

// Directory entry file types (ext4_dir_entry_2.file_type), distinct from
// inode mode bits.
const (
	FileTypeUnknown  = 0x0
	FileTypeFile     = 0x1
	FileTypeDir      = 0x2
	FileTypeChar     = 0x3
	FileTypeBlock    = 0x4
	FileTypeFIFO     = 0x5
	FileTypeSocket   = 0x6
	FileTypeSymlink  = 0x7
	FileTypeChecksum = 0xDE
)

// Superblock is the fixed-size record at offset 0x400 describing global
// volume parameters.
type Superblock struct {
	InodesCount        uint32     `struc:"uint32,little"`
	BlocksCountLo      uint32     `struc:"uint32,little"`
	RBlocksCountLo     uint32     `struc:"uint32,little"`
	FreeBlocksCountLo  uint32     `struc:"uint32,little"`
	FreeInodesCount    uint32     `struc:"uint32,little"`
	FirstDataBlock     uint32     `struc:"uint32,little"`
	LogBlockSize       uint32     `struc:"uint32,little"`
	LogClusterSize     uint32     `struc:"uint32,little"`
	BlocksPerGroup     uint32     `struc:"uint32,little"`
	ClustersPerGroup   uint32     `struc:"uint32,little"`
	InodesPerGroup     uint32     `struc:"uint32,little"`
	Mtime              uint32     `struc:"uint32,little"`
	Wtime              uint32     `struc:"uint32,little"`
	MntCount           uint16     `struc:"uint16,little"`
	MaxMntCount        uint16     `struc:"uint16,little"`
	Magic              uint16     `struc:"uint16,little"`
	State              uint16     `struc:"uint16,little"`
	Errors             uint16     `struc:"uint16,little"`
	MinorRevLevel      uint16     `struc:"uint16,little"`
	LastCheck          uint32     `struc:"uint32,little"`
	CheckInterval      uint32     `struc:"uint32,little"`
	CreatorOS          uint32     `struc:"uint32,little"`
	RevLevel           uint32     `struc:"uint32,little"`
	DefResuid          uint16     `struc:"uint16,little"`
	DefResgid          uint16     `struc:"uint16,little"`
	FirstIno           uint32     `struc:"uint32,little"`
	InodeSize          uint16     `struc:"uint16,little"`
	BlockGroupNr       uint16     `struc:"uint16,little"`
	FeatureCompat      uint32     `struc:"uint32,little"`
	FeatureIncompat    uint32     `struc:"uint32,little"`
	FeatureRoCompat    uint32     `struc:"uint32,little"`
	UUID               [16]byte   `struc:"[16]byte"`
	VolumeName         [16]byte   `struc:"[16]byte"`
	LastMounted        [64]byte   `struc:"[64]byte"`
	AlgorithmUsageBmap uint32     `struc:"uint32,little"`
	PreallocBlocks     byte       `struc:"byte"`
	PreallocDirBlocks  byte       `struc:"byte"`
	ReservedGdtBlocks  uint16     `struc:"uint16,little"`
	JournalUUID        [16]byte   `struc:"[16]byte"`
	JournalInum        uint32     `struc:"uint32,little"`
	JournalDev         uint32     `struc:"uint32,little"`
	LastOrphan         uint32     `struc:"uint32,little"`
	HashSeed           [4]uint32  `struc:"[4]uint32,little"`
	DefHashVersion     byte       `struc:"byte"`
	JnlBackupType      byte       `struc:"byte"`
	DescSize           uint16     `struc:"uint16,little"`
	DefaultMountOpts   uint32     `struc:"uint32,little"`
	FirstMetaBg        uint32     `struc:"uint32,little"`
	MkfsTime           uint32     `struc:"uint32,little"`
	JnlBlocks          [17]uint32 `struc:"[17]uint32,little"`
	BlocksCountHi      uint32     `struc:"uint32,little"`
	RBlocksCountHi     uint32     `struc:"uint32,little"`
	FreeBlocksCountHi  uint32     `struc:"uint32,little"`
	MinExtraIsize      uint16     `struc:"uint16,little"`
	WantExtraIsize     uint16     `struc:"uint16,little"`
	Flags              uint32     `struc:"uint32,little"`
	RaidStride         uint16     `struc:"uint16,little"`
	MmpInterval        uint16     `struc:"uint16,little"`
	MmpBlock           uint64     `struc:"uint64,little"`
	RaidStripeWidth    uint32     `struc:"uint32,little"`
	LogGroupsPerFlex   byte       `struc:"byte"`
	ChecksumType       byte       `struc:"byte"`
	ReservedPad        uint16     `struc:"uint16,little"`
	KBytesWritten      uint64     `struc:"uint64,little"`
	SnapshotInum       uint32     `struc:"uint32,little"`
	SnapshotID         uint32     `struc:"uint32,little"`
	SnapshotRBlocks    uint64     `struc:"uint64,little"`
	SnapshotList       uint32     `struc:"uint32,little"`
	ErrorCount         uint32     `struc:"uint32,little"`
	FirstErrorTime     uint32     `struc:"uint32,little"`
	FirstErrorIno      uint32     `struc:"uint32,little"`
	FirstErrorBlock    uint64     `struc:"uint64,little"`
	FirstErrorFunc     [32]byte   `struc:"[32]pad"`
	FirstErrorLine     uint32     `struc:"uint32,little"`
	LastErrorTime      uint32     `struc:"uint32,little"`
	LastErrorIno       uint32     `struc:"uint32,little"`
	LastErrorLine      uint32     `struc:"uint32,little"`
	LastErrorBlock     uint64     `struc:"uint64,little"`
	LastErrorFunc      [32]byte   `struc:"[32]pad"`
	MountOpts          [64]byte   `struc:"[64]pad"`
	UsrQuotaInum       uint32     `struc:"uint32,little"`
	GrpQuotaInum       uint32     `struc:"uint32,little"`
	OverheadClusters   uint32     `struc:"uint32,little"`
	BackupBgs          [2]uint32  `struc:"[2]uint32,little"`
	EncryptAlgos       [4]byte    `struc:"[4]pad"`
	EncryptPwSalt      [16]byte   `struc:"[16]pad"`
	LpfIno             uint32     `struc:"uint32,little"`
	PrjQuotaInum       uint32     `struc:"uint32,little"`
	ChecksumSeed       uint32     `struc:"uint32,little"`
	Reserved           [98]uint32 `struc:"[98]uint32,little"`
	Checksum           uint32     `struc:"uint32,little"`
}

// Is64Bit reports whether the 64-bit feature-incompat flag is set, which
// selects the 64-byte group descriptor variant and the *_hi fields below.
func (sb *Superblock) Is64Bit() bool {
	return sb.FeatureIncompat&0x80 != 0
}

// BlockSize returns the volume's block size in bytes: 1 << (10 + LogBlockSize).
func (sb *Superblock) BlockSize() int64 {
	return 1 << (10 + uint(sb.LogBlockSize))
}

// GroupCount returns the number of block groups, derived from the inode
// count for the purposes of this reader's group-table sizing (per spec
// §3: "inodes-per-group divides the total inode count evenly").
func (sb *Superblock) GroupCount() uint32 {
	if sb.InodesPerGroup == 0 {
		return 0
	}
	return sb.InodesCount / sb.InodesPerGroup
}

// DescriptorSize returns the on-disk group descriptor record size:
// DescSize if the 64-bit feature is enabled and DescSize carries a nonzero
// value, otherwise the legacy 32-byte layout.
func (sb *Superblock) DescriptorSize() int64 {
	if sb.Is64Bit() && sb.DescSize != 0 {
		return int64(sb.DescSize)
	}
	return 32
}

// GroupDescriptor describes one block group: the disk block index of its
// inode bitmap and inode table (low/high halves), plus housekeeping
// counters this reader does not interpret.
type GroupDescriptor struct {
	BlockBitmapLo     uint32 `struc:"uint32,little"`
	InodeBitmapLo     uint32 `struc:"uint32,little"`
	InodeTableLo      uint32 `struc:"uint32,little"`
	FreeBlocksCountLo uint16 `struc:"uint16,little"`
	FreeInodesCountLo uint16 `struc:"uint16,little"`
	UsedDirsCountLo   uint16 `struc:"uint16,little"`
	Flags             uint16 `struc:"uint16,little"`
	ExcludeBitmapLo   uint32 `struc:"uint32,little"`
	BlockBitmapCsumLo uint16 `struc:"uint16,little"`
	InodeBitmapCsumLo uint16 `struc:"uint16,little"`
	ItableUnusedLo    uint16 `struc:"uint16,little"`
	Checksum          uint16 `struc:"uint16,little"`
	// 64-bit fields, present only when the descriptor size is 64 bytes.
	BlockBitmapHi     uint32 `struc:"uint32,little"`
	InodeBitmapHi     uint32 `struc:"uint32,little"`
	InodeTableHi      uint32 `struc:"uint32,little"`
	FreeBlocksCountHi uint16 `struc:"uint16,little"`
	FreeInodesCountHi uint16 `struc:"uint16,little"`
	UsedDirsCountHi   uint16 `struc:"uint16,little"`
	ItableUnusedHi    uint16 `struc:"uint16,little"`
	ExcludeBitmapHi   uint32 `struc:"uint32,little"`
	BlockBitmapCsumHi uint16 `struc:"uint16,little"`
	InodeBitmapCsumHi uint16 `struc:"uint16,little"`
	Reserved          uint32 `struc:"uint32,little"`
}

// InodeTableLoc returns the disk block index of this group's inode table.
func (gd *GroupDescriptor) InodeTableLoc(is64Bit bool) int64 {
	if is64Bit {
		return (int64(gd.InodeTableHi) << 32) | int64(gd.InodeTableLo)
	}
	return int64(gd.InodeTableLo)
}

// InodeBitmapLoc returns the disk block index of this group's inode bitmap.
func (gd *GroupDescriptor) InodeBitmapLoc(is64Bit bool) int64 {
	if is64Bit {
		return (int64(gd.InodeBitmapHi) << 32) | int64(gd.InodeBitmapLo)
	}
	return int64(gd.InodeBitmapLo)
}

// BlockBitmapLoc returns the disk block index of this group's block bitmap.
func (gd *GroupDescriptor) BlockBitmapLoc(is64Bit bool) int64 {
	if is64Bit {
		return (int64(gd.BlockBitmapHi) << 32) | int64(gd.BlockBitmapLo)
	}
	return int64(gd.BlockBitmapLo)
}

// rawInode is the fixed-size on-disk inode record. Its real size is
// sb.InodeSize (>= 256); bytes beyond this layout (extra_isize padding on
// large inodes) are not modeled since nothing here reads them.
type rawInode struct {
	Mode       uint16   `struc:"uint16,little"`
	UID        uint16   `struc:"uint16,little"`
	SizeLo     uint32   `struc:"uint32,little"`
	Atime      uint32   `struc:"uint32,little"`
	Ctime      uint32   `struc:"uint32,little"`
	Mtime      uint32   `struc:"uint32,little"`
	Dtime      uint32   `struc:"uint32,little"`
	GID        uint16   `struc:"uint16,little"`
	LinksCount uint16   `struc:"uint16,little"`
	BlocksLo   uint32   `struc:"uint32,little"`
	Flags      uint32   `struc:"uint32,little"`
	Osd1       uint32   `struc:"uint32,little"`
	Block      [60]byte `struc:"[60]byte"`
	Generation uint32   `struc:"uint32,little"`
	FileACLLo  uint32   `struc:"uint32,little"`
	SizeHi     uint32   `struc:"uint32,little"`
	ObsoFaddr  uint32   `struc:"uint32,little"`
	// osd2 (linux)
	BlocksHi    uint16 `struc:"uint16,little"`
	FileACLHi   uint16 `struc:"uint16,little"`
	UIDHi       uint16 `struc:"uint16,little"`
	GIDHi       uint16 `struc:"uint16,little"`
	ChecksumLo  uint16 `struc:"uint16,little"`
	Unused      uint16 `struc:"uint16,little"`
	ExtraIsize  uint16 `struc:"uint16,little"`
	ChecksumHi  uint16 `struc:"uint16,little"`
	CtimeExtra  uint32 `struc:"uint32,little"`
	MtimeExtra  uint32 `struc:"uint32,little"`
	AtimeExtra  uint32 `struc:"uint32,little"`
	Crtime      uint32 `struc:"uint32,little"`
	CrtimeExtra uint32 `struc:"uint32,little"`
	VersionHi   uint32 `struc:"uint32,little"`
	Projid      uint32 `struc:"uint32,little"`
}

// Size returns the combined 64-bit file size (SizeLo | SizeHi<<32).
func (i *rawInode) Size() int64 {
	return (int64(i.SizeHi) << 32) | int64(i.SizeLo)
}

// UsesExtents reports whether the extent-tree flag is set.
func (i *rawInode) UsesExtents() bool { return i.Flags&flagExtents != 0 }

// UsesInlineData reports whether the inline-data flag is set.
func (i *rawInode) UsesInlineData() bool { return i.Flags&flagInlineData != 0 }

// UsesHashTree reports whether the HTree index flag is set. HTree is a
// lookup-acceleration structure compatible with plain linear reading, so
// this reader never needs to branch on it, but exposes it for callers
// that want to know.
func (i *rawInode) UsesHashTree() bool { return i.Flags&flagIndex != 0 }

// extentHeader is the common header at the start of every extent tree
// node, rooted inside an inode's Block payload.
type extentHeader struct {
	Magic      uint16 `struc:"uint16,little"`
	Entries    uint16 `struc:"uint16,little"`
	Max        uint16 `struc:"uint16,little"`
	Depth      uint16 `struc:"uint16,little"`
	Generation uint32 `struc:"uint32,little"`
}

// extentLeaf is a leaf extent record: a contiguous run of physical blocks
// backing a contiguous run of logical blocks.
type extentLeaf struct {
	Block   uint32 `struc:"uint32,little"`
	Len     uint16 `struc:"uint16,little"`
	StartHi uint16 `struc:"uint16,little"`
	StartLo uint32 `struc:"uint32,little"`
}

// start returns the combined 64-bit physical start block.
func (e *extentLeaf) start() int64 { return (int64(e.StartHi) << 32) | int64(e.StartLo) }

// length returns the extent's true block count. Len == 0x8000 is a valid,
// fully-initialized maximum-length extent (32768 blocks); only Len > 0x8000
// denotes an uninitialized extent, whose true length is Len - 0x8000.
func (e *extentLeaf) length() uint16 {
	if e.Len > 0x8000 {
		return e.Len - 0x8000
	}
	return e.Len
}

// uninitialized reports whether Len marks this extent as uninitialized
// (sparse-allocated, not-yet-written). Len == 0x8000 exactly is the
// maximum-length initialized extent, not uninitialized.
func (e *extentLeaf) uninitialized() bool { return e.Len > 0x8000 }

// extentIndex is an internal (non-leaf) extent tree node entry, pointing
// at a child node's physical block.
type extentIndex struct {
	Block    uint32 `struc:"uint32,little"`
	LeafLo   uint32 `struc:"uint32,little"`
	LeafHi   uint16 `struc:"uint16,little"`
	Unused   uint16 `struc:"uint16,little"`
}

func (e *extentIndex) leaf() int64 { return (int64(e.LeafHi) << 32) | int64(e.LeafLo) }

// dirEntryHeader is the fixed portion of ext4_dir_entry_2; the name bytes
// immediately follow and are read separately since struc's variable-length
// []byte support does not compose cleanly with the trailing alignment
// padding this reader must skip by rec_len, not by name_len.
type dirEntryHeader struct {
	Inode    uint32 `struc:"uint32,little"`
	RecLen   uint16 `struc:"uint16,little"`
	NameLen  uint8  `struc:"uint8"`
	FileType uint8  `struc:"uint8"`
}

const dirEntryHeaderSize = 8
