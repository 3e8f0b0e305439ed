package ext4

import (
	"bytes"
	"io"
	"testing"
)

// blockFillSource fills the byte at absolute offset abs of "disk block" n
// with (7*n + abs) mod 251 (251 chosen to avoid accidental period
// alignment with block size) so reads can be checked byte-for-byte
// against their source block.
type blockFillSource struct {
	blockSize int64
}

func (s *blockFillSource) ReadAt(offset int64, length int) ([]byte, error) {
	out := make([]byte, length)
	for i := range out {
		abs := offset + int64(i)
		block := abs / s.blockSize
		out[i] = byte((block*7 + abs) % 251)
	}
	return out, nil
}

func testVolume(blockSize int64, src *blockFillSource) *Volume {
	return &Volume{
		source: src,
		sb:     Superblock{LogBlockSize: uint32(log2(blockSize) - 10)},
	}
}

func log2(n int64) uint {
	var e uint
	for n > 1 {
		n >>= 1
		e++
	}
	return e
}

func TestBlockReaderCrossExtentRead(t *testing.T) {
	const blockSize = 1024
	src := &blockFillSource{blockSize: blockSize}
	v := testVolume(blockSize, src)

	mapping := []extentMapEntry{
		{FileBlock: 0, DiskBlock: 100, Count: 1},
		{FileBlock: 1, DiskBlock: 200, Count: 1},
		{FileBlock: 2, DiskBlock: 300, Count: 2},
	}
	size := int64(3*blockSize + 17)
	r, err := newBlockReader(v, size, mapping)
	if err != nil {
		t.Fatalf("newBlockReader: %v", err)
	}

	if _, err := r.Seek(blockSize-5, SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	got, err := r.ReadN(10)
	if err != nil {
		t.Fatalf("ReadN: %v", err)
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(got))
	}

	want := make([]byte, 0, 10)
	last5, _ := src.ReadAt(100*blockSize+blockSize-5, 5)
	first5, _ := src.ReadAt(200*blockSize, 5)
	want = append(want, last5...)
	want = append(want, first5...)

	if !bytes.Equal(got, want) {
		t.Fatalf("cross-extent read mismatch: got %v want %v", got, want)
	}
}

func TestBlockReaderByteForByteAgainstSingleByteReads(t *testing.T) {
	const blockSize = 1024
	src := &blockFillSource{blockSize: blockSize}
	v := testVolume(blockSize, src)

	mapping := []extentMapEntry{
		{FileBlock: 0, DiskBlock: 10, Count: 1},
		{FileBlock: 1, DiskBlock: 50, Count: 1},
		{FileBlock: 2, DiskBlock: 51, Count: 1},
	}
	size := int64(3 * blockSize)
	r, err := newBlockReader(v, size, mapping)
	if err != nil {
		t.Fatalf("newBlockReader: %v", err)
	}

	bulk, err := r.ReadN(-1)
	if err != nil {
		t.Fatalf("ReadN(-1): %v", err)
	}

	r2, _ := newBlockReader(v, size, mapping)
	var oneByOne []byte
	for i := int64(0); i < size; i++ {
		b, err := r2.ReadN(1)
		if err != nil {
			t.Fatalf("ReadN(1) at %d: %v", i, err)
		}
		oneByOne = append(oneByOne, b...)
	}

	if !bytes.Equal(bulk, oneByOne) {
		t.Fatalf("bulk read does not match byte-by-byte read")
	}
}

func TestBlockReaderReadNegativeOneReturnsRemainder(t *testing.T) {
	const blockSize = 1024
	src := &blockFillSource{blockSize: blockSize}
	v := testVolume(blockSize, src)
	mapping := []extentMapEntry{{FileBlock: 0, DiskBlock: 1, Count: 1}}
	r, err := newBlockReader(v, blockSize, mapping)
	if err != nil {
		t.Fatalf("newBlockReader: %v", err)
	}

	if _, err := r.Seek(100, SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	got, err := r.ReadN(-1)
	if err != nil {
		t.Fatalf("ReadN(-1): %v", err)
	}
	if int64(len(got)) != blockSize-100 {
		t.Fatalf("expected %d bytes, got %d", blockSize-100, len(got))
	}
}

func TestBlockReaderSeekTellIsNoOp(t *testing.T) {
	const blockSize = 1024
	src := &blockFillSource{blockSize: blockSize}
	v := testVolume(blockSize, src)
	mapping := []extentMapEntry{{FileBlock: 0, DiskBlock: 1, Count: 1}}
	r, _ := newBlockReader(v, blockSize, mapping)

	if _, err := r.Seek(123, SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	before := r.Tell()
	if _, err := r.Seek(r.Tell(), SeekStart); err != nil {
		t.Fatalf("seek(tell): %v", err)
	}
	if r.Tell() != before {
		t.Fatalf("seek(tell(), SET) moved cursor: before=%d after=%d", before, r.Tell())
	}
}

func TestBlockReaderSeekNegativeFails(t *testing.T) {
	const blockSize = 1024
	src := &blockFillSource{blockSize: blockSize}
	v := testVolume(blockSize, src)
	mapping := []extentMapEntry{{FileBlock: 0, DiskBlock: 1, Count: 1}}
	r, _ := newBlockReader(v, blockSize, mapping)

	if _, err := r.Seek(-1, SeekStart); err == nil {
		t.Fatalf("expected error seeking negative")
	} else if _, ok := err.(*InvalidArgumentError); !ok {
		t.Fatalf("expected InvalidArgumentError, got %T: %v", err, err)
	}
}

func TestBlockReaderSeekPastEndThenReadReturnsEmpty(t *testing.T) {
	const blockSize = 1024
	src := &blockFillSource{blockSize: blockSize}
	v := testVolume(blockSize, src)
	mapping := []extentMapEntry{{FileBlock: 0, DiskBlock: 1, Count: 1}}
	r, _ := newBlockReader(v, blockSize, mapping)

	if _, err := r.Seek(blockSize+50, SeekStart); err != nil {
		t.Fatalf("seek: %v", err)
	}
	n, err := r.Read(make([]byte, 10))
	if n != 0 || err != io.EOF {
		t.Fatalf("expected (0, io.EOF) reading past end, got (%d, %v)", n, err)
	}
}

func TestBlockReaderConstructionMismatchFails(t *testing.T) {
	const blockSize = 1024
	src := &blockFillSource{blockSize: blockSize}
	v := testVolume(blockSize, src)
	mapping := []extentMapEntry{{FileBlock: 0, DiskBlock: 1, Count: 1}}
	if _, err := newBlockReader(v, blockSize*3, mapping); err == nil {
		t.Fatalf("expected BlockMapError on size/mapping mismatch")
	} else if _, ok := err.(*BlockMapError); !ok {
		t.Fatalf("expected BlockMapError, got %T", err)
	}
}

func TestCoalesceMergesAdjacentExtents(t *testing.T) {
	in := []extentMapEntry{
		{FileBlock: 0, DiskBlock: 10, Count: 2},
		{FileBlock: 2, DiskBlock: 12, Count: 3},
		{FileBlock: 5, DiskBlock: 999, Count: 1},
	}
	out := coalesce(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 entries after coalescing, got %d: %+v", len(out), out)
	}
	if out[0].Count != 5 || out[0].DiskBlock != 10 || out[0].FileBlock != 0 {
		t.Fatalf("unexpected merged entry: %+v", out[0])
	}
	if out[1].DiskBlock != 999 {
		t.Fatalf("unexpected second entry: %+v", out[1])
	}

	for i := 0; i+1 < len(out); i++ {
		if out[i].DiskBlock+int64(out[i].Count) == out[i+1].DiskBlock && out[i].FileBlock+out[i].Count == out[i+1].FileBlock {
			t.Fatalf("entries %d and %d should have been merged further", i, i+1)
		}
	}
}
