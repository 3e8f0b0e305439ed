package ext4

import "fmt"

// MagicError is raised when a structure's magic value disagrees with the
// expected constant and leniency (IgnoreMagic) is off.
type MagicError struct {
	Structure string
	Offset    int64
	Observed  uint32
	Expected  uint32
}

func (e *MagicError) Error() string {
	return fmt.Sprintf("invalid magic value in %s at offset 0x%X: 0x%X (expected 0x%X)",
		e.Structure, e.Offset, e.Observed, e.Expected)
}

// BlockMapError is raised when a requested logical block is unmapped, or
// construction-time block totals disagree with the inode's declared size.
type BlockMapError struct {
	Message string
}

func (e *BlockMapError) Error() string { return e.Message }

// EndOfStreamError is raised when the Storage Source produced fewer bytes
// than required, carrying the shortfall in bytes.
type EndOfStreamError struct {
	Shortfall int
}

func (e *EndOfStreamError) Error() string {
	return fmt.Sprintf("the volume's underlying stream ended %d bytes before the requested range", e.Shortfall)
}

// NotADirectoryError is raised when a directory-only operation is attempted
// on a non-directory inode and IgnoreFlags is off.
type NotADirectoryError struct {
	InodeIdx uint32
}

func (e *NotADirectoryError) Error() string {
	return fmt.Sprintf("inode %d is not a directory", e.InodeIdx)
}

// NotFoundError is raised when path resolution fails to find a component.
type NotFoundError struct {
	Component string
	ParentDir string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%q not found in %q", e.Component, e.ParentDir)
}

// InvalidArgumentError is raised for malformed caller input (e.g. a
// negative seek target).
type InvalidArgumentError struct {
	Message string
}

func (e *InvalidArgumentError) Error() string { return e.Message }

// UnsupportedStorageError is raised when an inode uses neither extents nor
// inline data (e.g. legacy indirect blocks, which this reader does not
// support).
type UnsupportedStorageError struct {
	InodeIdx uint32
}

func (e *UnsupportedStorageError) Error() string {
	return fmt.Sprintf("inode %d uses an unsupported data storage mechanism", e.InodeIdx)
}

// OutOfRangeError is raised by Volume.GetInode for an inode index outside
// the volume's valid range.
type OutOfRangeError struct {
	InodeIdx uint32
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("inode index %d is out of range", e.InodeIdx)
}
