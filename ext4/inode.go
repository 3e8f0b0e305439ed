package ext4

import (
	"bytes"

	"golang.org/x/xerrors"
)

// dataStorageKind is the tagged variant produced once at inode construction,
// consumed by OpenRead, rather than branching on flag bits at read time
// (design note: "polymorphic inode storage").
type dataStorageKind int

const (
	storageUnsupported dataStorageKind = iota
	storageExtents
	storageInline
)

// Inode wraps a parsed on-disk inode record together with its 1-based
// index and a non-owning reference to the Volume it came from.
type Inode struct {
	volume *Volume
	idx    uint32
	raw    rawInode

	storageKind dataStorageKind
}

func newInode(v *Volume, idx uint32, raw rawInode) *Inode {
	kind := storageUnsupported
	switch {
	case raw.UsesExtents():
		kind = storageExtents
	case raw.UsesInlineData():
		kind = storageInline
	}
	return &Inode{volume: v, idx: idx, raw: raw, storageKind: kind}
}

// Index returns the inode's 1-based index within the volume.
func (i *Inode) Index() uint32 { return i.idx }

// Size returns the inode's logical byte size (SizeLo | SizeHi<<32).
func (i *Inode) Size() int64 { return i.raw.Size() }

// IsDir reports whether the inode is marked as a directory.
func (i *Inode) IsDir() bool { return i.raw.Mode&modeTypeMask == modeDir }

// IsFile reports whether the inode is marked as a regular file.
func (i *Inode) IsFile() bool { return i.raw.Mode&modeTypeMask == modeRegular }

// IsSymlink reports whether the inode is marked as a symbolic link.
func (i *Inode) IsSymlink() bool { return i.raw.Mode&modeTypeMask == modeSymlink }

// Mode returns the raw on-disk mode field (type nibble + permission bits).
func (i *Inode) Mode() uint16 { return i.raw.Mode }

// ModeString renders the inode's type and permission bits in the familiar
// unix "drwxr-xr-x"-style ten-character form. Ported from
// original_source/ext4.py's Inode.mode_str.
func (i *Inode) ModeString() string {
	mode := i.raw.Mode
	device := byte('?')
	switch mode & modeTypeMask {
	case modeFIFO:
		device = 'p'
	case modeChar:
		device = 'c'
	case modeDir:
		device = 'd'
	case modeBlock:
		device = 'b'
	case modeRegular:
		device = '-'
	case modeSymlink:
		device = 'l'
	case modeSocket:
		device = 's'
	}

	special := func(letter byte, execute, set bool) byte {
		switch {
		case !execute && !set:
			return '-'
		case !execute && set:
			return letter - ('a' - 'A')
		case execute && !set:
			return 'x'
		default:
			return letter
		}
	}

	buf := make([]byte, 10)
	buf[0] = device
	buf[1] = boolChar(mode&0x100 != 0, 'r')
	buf[2] = boolChar(mode&0x80 != 0, 'w')
	buf[3] = special('s', mode&0x40 != 0, mode&0x800 != 0)
	buf[4] = boolChar(mode&0x20 != 0, 'r')
	buf[5] = boolChar(mode&0x10 != 0, 'w')
	buf[6] = special('s', mode&0x8 != 0, mode&0x400 != 0)
	buf[7] = boolChar(mode&0x4 != 0, 'r')
	buf[8] = boolChar(mode&0x2 != 0, 'w')
	buf[9] = special('t', mode&0x1 != 0, mode&0x200 != 0)
	return string(buf)
}

func boolChar(b bool, c byte) byte {
	if b {
		return c
	}
	return '-'
}

// IsInUse reports whether the inode's bit in its group's inode bitmap is
// set.
func (i *Inode) IsInUse() (bool, error) {
	group, entry := i.volume.inodeLocation(i.idx)
	bs, err := i.volume.inodeBitmap(group)
	if err != nil {
		return false, xerrors.Errorf("failed to read inode bitmap: %w", err)
	}
	return bs.Test(uint(entry)), nil
}

// DirEntry is one decoded directory entry: its name, the inode index it
// refers to, and its on-disk file type (distinct from inode mode bits).
type DirEntry struct {
	Name     string
	InodeIdx uint32
	FileType uint8
}

// DecodeNameFunc decodes a directory entry's raw name bytes. The default
// (used when nil is passed to OpenDir) decodes as UTF-8.
type DecodeNameFunc func([]byte) (string, error)

func defaultDecodeName(raw []byte) (string, error) {
	return string(raw), nil
}

// OpenDir reads this inode's data in full and returns its directory
// entries in on-disk order. Entries with file type FileTypeChecksum (the
// trailing per-block checksum pseudo-entry) and entries with inode number
//0 (unused slots) are skipped, not returned. Precondition: IsDir must
// hold unless the volume was opened with IgnoreFlags.
func (i *Inode) OpenDir(decodeName DecodeNameFunc) ([]DirEntry, error) {
	if !i.volume.opts.IgnoreFlags && !i.IsDir() {
		return nil, &NotADirectoryError{InodeIdx: i.idx}
	}
	if decodeName == nil {
		decodeName = defaultDecodeName
	}

	r, err := i.OpenRead()
	if err != nil {
		return nil, xerrors.Errorf("failed to open inode %d for reading: %w", i.idx, err)
	}
	raw, err := readAll(r, i.Size())
	if err != nil {
		return nil, xerrors.Errorf("failed to read directory data for inode %d: %w", i.idx, err)
	}

	var entries []DirEntry
	offset := 0
	for offset < len(raw) {
		if offset+dirEntryHeaderSize > len(raw) {
			break
		}
		var hdr dirEntryHeader
		if err := unpackStruct(raw[offset:offset+dirEntryHeaderSize], &hdr); err != nil {
			return nil, xerrors.Errorf("failed to parse directory entry at offset %d: %w", offset, err)
		}
		if hdr.RecLen == 0 {
			logger.Warnw("zero rec_len in directory entry, stopping scan", "inode", i.idx, "offset", offset)
			break
		}

		if hdr.FileType != FileTypeChecksum && hdr.Inode != 0 {
			nameEnd := offset + dirEntryHeaderSize + int(hdr.NameLen)
			if nameEnd > len(raw) {
				return nil, xerrors.Errorf("directory entry name overruns block at offset %d", offset)
			}
			name, err := decodeName(raw[offset+dirEntryHeaderSize : nameEnd])
			if err != nil {
				return nil, xerrors.Errorf("failed to decode directory entry name at offset %d: %w", offset, err)
			}
			entries = append(entries, DirEntry{Name: name, InodeIdx: hdr.Inode, FileType: hdr.FileType})
		}

		offset += int(hdr.RecLen)
	}
	return entries, nil
}

// OpenRead dispatches on the inode's tagged storage kind (computed once at
// construction) and returns a BlockReader over its data. Inline data
// (content stored directly inside the inode record) is modeled as a
// single-extent-free in-memory stream of the first Size() bytes of the
// inode's 60-byte Block payload.
func (i *Inode) OpenRead() (*BlockReader, error) {
	switch i.storageKind {
	case storageExtents:
		mapping, err := i.volume.walkExtentTree(i.raw.Block[:], i.idx)
		if err != nil {
			return nil, xerrors.Errorf("failed to walk extent tree for inode %d: %w", i.idx, err)
		}
		return newBlockReader(i.volume, i.Size(), mapping)
	case storageInline:
		size := i.Size()
		if size > int64(len(i.raw.Block)) {
			size = int64(len(i.raw.Block))
		}
		return newInlineBlockReader(i.raw.Block[:size]), nil
	default:
		return nil, &UnsupportedStorageError{InodeIdx: i.idx}
	}
}

// ReadLink returns a symlink's target path. Short targets (< 60 bytes) are
// stored inline in the inode's Block payload exactly like inline data;
// longer targets are stored in allocated blocks reachable through the
// normal extent path, so the general read path is reused.
func (i *Inode) ReadLink() (string, error) {
	if !i.IsSymlink() {
		return "", xerrors.Errorf("inode %d is not a symbolic link", i.idx)
	}
	size := i.Size()
	if i.storageKind == storageUnsupported && size < int64(len(i.raw.Block)) {
		// Fast symlinks store the target directly in Block with no
		// extents/inline-data flag set at all.
		return string(i.raw.Block[:size]), nil
	}
	r, err := i.OpenRead()
	if err != nil {
		return "", xerrors.Errorf("failed to open symlink inode %d: %w", i.idx, err)
	}
	raw, err := readAll(r, size)
	if err != nil {
		return "", xerrors.Errorf("failed to read symlink target for inode %d: %w", i.idx, err)
	}
	return string(raw), nil
}

// GetInode walks parts, a sequence of path components, starting from this
// inode (which must be a directory), returning the terminal inode. "."
// and ".." are resolved only if present as real directory entries.
func (i *Inode) GetInode(parts ...string) (*Inode, error) {
	return Resolve(i, parts, nil)
}

func readAll(r *BlockReader, size int64) ([]byte, error) {
	buf := make([]byte, size)
	pos := 0
	for int64(pos) < size {
		n, err := r.Read(buf[pos:])
		pos += n
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return buf[:pos], nil
}

func unpackStruct(raw []byte, dst interface{}) error {
	return structUnpack(bytes.NewReader(raw), dst)
}
