package ext4

import (
	"io"

	"golang.org/x/xerrors"
)

// Whence values for BlockReader.Seek, matching io.Seeker's constants.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// BlockReader is a seekable stream over an inode's logical byte range,
// backed either by a sorted, coalesced extent mapping or, for inline
// data, an in-memory byte slice. It implements io.Reader, io.Seeker, and
// io.ReaderAt.
type BlockReader struct {
	volume   *Volume
	byteSize int64
	mapping  []extentMapEntry
	cursor   int64

	inline []byte // non-nil for inline-data inodes; mapping is unused
}

var (
	_ io.Reader   = (*BlockReader)(nil)
	_ io.Seeker   = (*BlockReader)(nil)
	_ io.ReaderAt = (*BlockReader)(nil)
)

// newBlockReader validates the mapping's total block count against
// byteSize and constructs a BlockReader. The mapping must already be
// sorted and coalesced (walkExtentTree guarantees this).
func newBlockReader(v *Volume, byteSize int64, mapping []extentMapEntry) (*BlockReader, error) {
	blockSize := v.BlockSize()
	var total uint32
	for _, e := range mapping {
		total += e.Count
	}
	expected := (byteSize + blockSize - 1) / blockSize
	if int64(total) != expected {
		return nil, &BlockMapError{Message: "byte_size doesn't match up with count of mapped blocks"}
	}
	return &BlockReader{volume: v, byteSize: byteSize, mapping: mapping}, nil
}

// newInlineBlockReader wraps inline inode data (stored directly in the
// inode record) as a BlockReader with no extent mapping at all.
func newInlineBlockReader(data []byte) *BlockReader {
	return &BlockReader{byteSize: int64(len(data)), inline: data}
}

// Tell returns the cursor's current absolute byte offset.
func (r *BlockReader) Tell() int64 { return r.cursor }

// Seek moves the cursor and returns the new absolute offset. Seeking past
// byte_size is allowed; a subsequent read then returns empty.
func (r *BlockReader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case SeekStart:
		target = offset
	case SeekCurrent:
		target = r.cursor + offset
	case SeekEnd:
		target = r.byteSize + offset
	default:
		return 0, &InvalidArgumentError{Message: "invalid whence value"}
	}
	if target < 0 {
		return 0, &InvalidArgumentError{Message: "negative seek target"}
	}
	r.cursor = target
	return target, nil
}

// ReadN reads n bytes starting at the cursor and advances it by the
// number of bytes actually read, matching spec's read(n): n == -1 reads
// to the end of the stream; n must otherwise be non-negative or it fails
// with an InvalidArgumentError.
func (r *BlockReader) ReadN(n int64) ([]byte, error) {
	if n < -1 {
		return nil, &InvalidArgumentError{Message: "n must be non-negative or -1"}
	}
	if n == -1 {
		n = r.byteSize - r.cursor
		if n < 0 {
			n = 0
		}
	}
	if n == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	read, err := r.readAt(buf, r.cursor, true)
	return buf[:read], err
}

// Read reads up to len(p) bytes starting at the cursor, advancing it by
// the number of bytes actually read, and never reads past byte_size. If
// fewer bytes were obtained from the Storage Source than required to fill
// the requested, in-range span, it fails with an EndOfStreamError
// carrying the shortfall.
func (r *BlockReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.readAt(p, r.cursor, true)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}

// ReadAt reads len(p) bytes at the given absolute offset without moving
// the cursor, matching io.ReaderAt's contract: returns an error (commonly
// io.EOF) whenever n < len(p).
func (r *BlockReader) ReadAt(p []byte, off int64) (int, error) {
	n, err := r.readAt(p, off, false)
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// readAt performs the actual bounded, coalesced read starting at off. If
// advanceCursor is true (the Read path), the cursor advances by the
// number of bytes produced.
func (r *BlockReader) readAt(p []byte, off int64, advanceCursor bool) (int, error) {
	n := len(p)
	remaining := r.byteSize - off
	if remaining <= 0 {
		return 0, nil
	}
	if int64(n) > remaining {
		n = int(remaining)
	}
	if n == 0 {
		return 0, nil
	}

	var result []byte
	var err error
	if r.inline != nil {
		result = r.inline[off : off+int64(n)]
	} else {
		result, err = r.readMapped(off, n)
		if err != nil {
			return 0, err
		}
	}

	copy(p, result)
	if advanceCursor {
		r.cursor = off + int64(len(result))
	}
	if len(result) != n {
		return len(result), &EndOfStreamError{Shortfall: n - len(result)}
	}
	return len(result), nil
}

// readAllN reads reqLen bytes from the volume at physical offset
// diskOffset, failing with an EndOfStreamError carrying the shortfall if
// the Storage Source produced fewer.
func (r *BlockReader) readAllN(diskOffset int64, reqLen int) ([]byte, error) {
	raw, err := r.volume.read(diskOffset, reqLen)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %d bytes at disk offset %d: %w", reqLen, diskOffset, err)
	}
	if len(raw) != reqLen {
		return nil, &EndOfStreamError{Shortfall: reqLen - len(raw)}
	}
	return raw, nil
}

// readMapped implements the minimizing read algorithm of spec §4.4: a
// single physical read when the whole requested range sits in one
// logical block or one coalesced extent, and a read per covering extent
// otherwise.
func (r *BlockReader) readMapped(off int64, n int) ([]byte, error) {
	blockSize := r.volume.BlockSize()
	firstLogical := off / blockSize
	intraOffset := off % blockSize
	lastLogical := (off + int64(n) - 1) / blockSize

	if firstLogical == lastLogical {
		disk, err := r.blockMapping(uint32(firstLogical))
		if err != nil {
			return nil, err
		}
		diskOffset := disk*blockSize + intraOffset
		return r.readAllN(diskOffset, n)
	}

	blockCount := uint32(lastLogical - firstLogical + 1)
	mapping, err := r.rangeMapping(uint32(firstLogical), blockCount)
	if err != nil {
		return nil, err
	}

	if len(mapping) == 1 {
		diskOffset := mapping[0].DiskBlock*blockSize + intraOffset
		return r.readAllN(diskOffset, n)
	}

	var blocks [][]byte
	remaining := n

	first := mapping[0]
	firstLen := int(first.Count)*int(blockSize) - int(intraOffset)
	part, err := r.readAllN(first.DiskBlock*blockSize+intraOffset, firstLen)
	if err != nil {
		return nil, err
	}
	blocks = append(blocks, part)
	remaining -= len(part)

	for i := 1; i < len(mapping)-1; i++ {
		mid := mapping[i]
		part, err := r.readAllN(mid.DiskBlock*blockSize, int(mid.Count)*int(blockSize))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, part)
		remaining -= len(part)
	}

	last := mapping[len(mapping)-1]
	part, err = r.readAllN(last.DiskBlock*blockSize, remaining)
	if err != nil {
		return nil, err
	}
	blocks = append(blocks, part)

	total := 0
	for _, b := range blocks {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out, nil
}

// blockMapping returns the physical block backing the single logical
// block logical.
func (r *BlockReader) blockMapping(logical uint32) (int64, error) {
	for _, e := range r.mapping {
		if logical >= e.FileBlock && logical < e.FileBlock+e.Count {
			return e.DiskBlock + int64(logical-e.FileBlock), nil
		}
	}
	return 0, &BlockMapError{Message: "file block is not mapped to disk"}
}

// rangeMapping returns the mapping entries intersecting
// [logicalStart, logicalStart+count), trimmed at both ends so the first
// entry starts at logicalStart and the last ends at logicalStart+count.
func (r *BlockReader) rangeMapping(logicalStart uint32, count uint32) ([]extentMapEntry, error) {
	logicalEnd := logicalStart + count

	var out []extentMapEntry
	for _, e := range r.mapping {
		entryEnd := e.FileBlock + e.Count
		if entryEnd <= logicalStart || e.FileBlock >= logicalEnd {
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil, &BlockMapError{Message: "file block range is not mapped to disk"}
	}

	if diff := logicalStart - out[0].FileBlock; diff > 0 {
		out[0].FileBlock += diff
		out[0].DiskBlock += int64(diff)
		out[0].Count -= diff
	}
	last := &out[len(out)-1]
	if diff := (last.FileBlock + last.Count) - logicalEnd; diff > 0 {
		last.Count -= diff
	}
	return out, nil
}
