package ext4

import (
	"bytes"

	"github.com/bits-and-blooms/bitset"
	"github.com/google/uuid"
	"github.com/lunixbochs/struc"
	"golang.org/x/xerrors"

	"github.com/masahiro331/go-ext4reader/storage"
)

// RootInodeIndex is the well-known inode index of the root directory.
const RootInodeIndex uint32 = 2

// OpenOptions configures Volume construction. The zero value is the
// strictest mode: magic mismatches and flag-precondition violations both
// fail loudly.
type OpenOptions struct {
	// BaseOffset is stored on the Volume but not applied by it: Volume
	// passes offsets to the Storage Source unchanged. The storage adapters
	// (storage.FromReaderAt, storage.FromReadSeeker) take their own base
	// offset, which they add to every request.
	BaseOffset int64

	// IgnoreMagic accepts structures whose magic number disagrees with
	// the expected constant instead of failing with a MagicError.
	IgnoreMagic bool

	// IgnoreFlags skips inode-type preconditions on directory
	// operations (e.g. allows OpenDir on an inode not marked as a
	// directory) instead of failing with a NotADirectoryError.
	IgnoreFlags bool
}

// Volume owns a Storage Source and exposes the parsed superblock, the
// group descriptor table, and inode/structure lookups on top of it.
// Inodes and BlockReaders derived from a Volume hold a non-owning
// reference to it; the Volume must outlive them.
type Volume struct {
	source storage.Source
	opts   OpenOptions

	sb  Superblock
	gds []GroupDescriptor

	inodeBitmaps map[int64]*bitset.BitSet
}

// Open parses the superblock and group descriptor table from source and
// returns a ready-to-use Volume.
func Open(source storage.Source, opts OpenOptions) (*Volume, error) {
	v := &Volume{
		source:       source,
		opts:         opts,
		inodeBitmaps: map[int64]*bitset.BitSet{},
	}

	var sb Superblock
	if err := v.readStructAt(&sb, superblockOffset); err != nil {
		return nil, xerrors.Errorf("failed to read superblock: %w", err)
	}
	if !opts.IgnoreMagic && sb.Magic != superblockMagic {
		return nil, &MagicError{
			Structure: "superblock",
			Offset:    superblockOffset,
			Observed:  uint32(sb.Magic),
			Expected:  superblockMagic,
		}
	}
	v.sb = sb
	logger.Debugw("parsed superblock", "block_size", sb.BlockSize(), "inodes_count", sb.InodesCount, "inodes_per_group", sb.InodesPerGroup)

	groupCount := sb.GroupCount()
	descSize := sb.DescriptorSize()
	tableOffset := ((superblockOffset / sb.BlockSize()) + 1) * sb.BlockSize()

	gds := make([]GroupDescriptor, 0, groupCount)
	for i := uint32(0); i < groupCount; i++ {
		offset := tableOffset + int64(i)*descSize
		gd, err := v.readGroupDescriptor(offset, descSize)
		if err != nil {
			return nil, xerrors.Errorf("failed to read group descriptor %d: %w", i, err)
		}
		gds = append(gds, gd)
	}
	v.gds = gds
	logger.Debugw("parsed group descriptors", "count", groupCount)

	return v, nil
}

// readStructAt reads exactly the struc-computed size of dst and decodes it
// in place, little-endian, from the Storage Source at offset (relative to
// the volume, before any base offset is applied by the underlying source).
func (v *Volume) readStructAt(dst interface{}, offset int64) error {
	size, err := struc.Sizeof(dst)
	if err != nil {
		return xerrors.Errorf("failed to compute struct size: %w", err)
	}
	raw, err := v.source.ReadAt(offset, size)
	if err != nil {
		return xerrors.Errorf("failed to read %d bytes at offset %d: %w", size, offset, err)
	}
	if len(raw) != size {
		return &EndOfStreamError{Shortfall: size - len(raw)}
	}
	if err := structUnpack(bytes.NewReader(raw), dst); err != nil {
		return xerrors.Errorf("failed to unpack struct at offset %d: %w", offset, err)
	}
	return nil
}

// readGroupDescriptor reads exactly descSize on-disk bytes (32 for the
// legacy layout, 64 when the 64-bit feature is enabled) and decodes them
// as a GroupDescriptor. GroupDescriptor's struc layout is always 64 bytes
// wide, so a 32-byte legacy record is zero-padded before unpacking; the
// resulting zero *_hi fields are never consulted since InodeTableLoc and
// friends only combine them when is64Bit is true.
func (v *Volume) readGroupDescriptor(offset int64, descSize int64) (GroupDescriptor, error) {
	var gd GroupDescriptor
	full, err := struc.Sizeof(&gd)
	if err != nil {
		return gd, xerrors.Errorf("failed to compute group descriptor size: %w", err)
	}
	raw, err := v.source.ReadAt(offset, int(descSize))
	if err != nil {
		return gd, xerrors.Errorf("failed to read %d bytes at offset %d: %w", descSize, offset, err)
	}
	if int64(len(raw)) != descSize {
		return gd, &EndOfStreamError{Shortfall: int(descSize) - len(raw)}
	}
	if int64(len(raw)) < int64(full) {
		padded := make([]byte, full)
		copy(padded, raw)
		raw = padded
	}
	if err := structUnpack(bytes.NewReader(raw), &gd); err != nil {
		return gd, xerrors.Errorf("failed to unpack group descriptor at offset %d: %w", offset, err)
	}
	return gd, nil
}

// ReadStruct reads exactly the layout's byte size at offset and decodes it
// in place as that packed little-endian layout. Exposed for callers that
// need to interpret raw volume bytes beyond the structures this package
// already models.
func (v *Volume) ReadStruct(dst interface{}, offset int64) error {
	return v.readStructAt(dst, offset)
}

// read is the low-level byte read used outside of struct decoding (bitmap
// bytes, directory blocks, file data).
func (v *Volume) read(offset int64, length int) ([]byte, error) {
	raw, err := v.source.ReadAt(offset, length)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %d bytes at offset %d: %w", length, offset, err)
	}
	return raw, nil
}

// BlockSize returns the volume's block size in bytes.
func (v *Volume) BlockSize() int64 { return v.sb.BlockSize() }

// GroupCount returns the number of block groups in the volume.
func (v *Volume) GroupCount() uint32 { return v.sb.GroupCount() }

// InodesPerGroup returns the superblock's inodes-per-group count.
func (v *Volume) InodesPerGroup() uint32 { return v.sb.InodesPerGroup }

// Is64Bit reports whether the volume uses 64-bit group descriptors.
func (v *Volume) Is64Bit() bool { return v.sb.Is64Bit() }

// UUID returns the volume's UUID formatted as
// XXXXXXXX-XXXX-XXXX-XXXX-XXXXXXXXXXXX (uppercase hex).
func (v *Volume) UUID() string {
	id, err := uuid.FromBytes(v.sb.UUID[:])
	if err != nil {
		// The on-disk field is always exactly 16 bytes, so FromBytes
		// cannot fail; this branch exists only to satisfy the error
		// return and is never exercised by a well-formed image.
		return ""
	}
	return toUpperHexUUID(id.String())
}

func toUpperHexUUID(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// inodeLocation computes the block group index and in-group entry index
// for a 1-based inode index.
func (v *Volume) inodeLocation(inodeIdx uint32) (group uint32, entry uint32) {
	group = (inodeIdx - 1) / v.sb.InodesPerGroup
	entry = (inodeIdx - 1) % v.sb.InodesPerGroup
	return
}

// GetInode parses and returns the inode at the given 1-based index.
func (v *Volume) GetInode(inodeIdx uint32) (*Inode, error) {
	if inodeIdx < 1 {
		return nil, &OutOfRangeError{InodeIdx: inodeIdx}
	}
	group, entry := v.inodeLocation(inodeIdx)
	if group >= uint32(len(v.gds)) {
		return nil, &OutOfRangeError{InodeIdx: inodeIdx}
	}

	gd := v.gds[group]
	tableBase := gd.InodeTableLoc(v.sb.Is64Bit()) * v.sb.BlockSize()
	offset := tableBase + int64(entry)*int64(v.sb.InodeSize)

	var raw rawInode
	if err := v.readStructAt(&raw, offset); err != nil {
		return nil, xerrors.Errorf("failed to read inode %d: %w", inodeIdx, err)
	}

	return newInode(v, inodeIdx, raw), nil
}

// Root returns the volume's root directory inode (index 2).
func (v *Volume) Root() (*Inode, error) {
	return v.GetInode(RootInodeIndex)
}

// inodeBitmap returns the decoded inode-usage bitmap for group, reading
// the group's bitmap bytes (one bit per inode in the group) and caching
// them on first use so repeated IsInUse calls against the same group
// don't re-read a single byte each time.
func (v *Volume) inodeBitmap(group uint32) (*bitset.BitSet, error) {
	if bs, ok := v.inodeBitmaps[int64(group)]; ok {
		return bs, nil
	}
	gd := v.gds[group]
	offset := gd.InodeBitmapLoc(v.sb.Is64Bit()) * v.sb.BlockSize()
	byteLen := int((v.sb.InodesPerGroup + 7) / 8)
	raw, err := v.read(offset, byteLen)
	if err != nil {
		return nil, xerrors.Errorf("failed to read inode bitmap for group %d: %w", group, err)
	}

	// ext4 bitmaps number bits MSB-first within each byte (bit b of byte
	// B is (B >> (7 - b%8)) & 1), the opposite of bitset's native
	// LSB-first word packing. Set each bitset position explicitly during
	// construction so Test(b) matches on-disk semantics directly.
	bs := bitset.New(uint(byteLen * 8))
	for i, b := range raw {
		for bit := 0; bit < 8; bit++ {
			if (b>>(7-bit))&1 != 0 {
				bs.Set(uint(i*8 + bit))
			}
		}
	}
	v.inodeBitmaps[int64(group)] = bs
	return bs, nil
}
