package ext4

import "testing"

func TestWalkExtentTreeLeaf(t *testing.T) {
	v := testVolume(1024, &blockFillSource{blockSize: 1024})

	hdr := extentHeader{Magic: extentHeaderMagic, Entries: 2, Max: 4, Depth: 0}
	leaf1 := extentLeaf{Block: 0, Len: 2, StartLo: 10}
	leaf2 := extentLeaf{Block: 2, Len: 3, StartLo: 12} // adjacent to leaf1 physically and logically
	node := concatBytes(packStruct(&hdr), packStruct(&leaf1), packStruct(&leaf2), make([]byte, 60-12-24))

	mapping, err := v.walkExtentTree(node, 99)
	if err != nil {
		t.Fatalf("walkExtentTree: %v", err)
	}
	if len(mapping) != 1 {
		t.Fatalf("expected leaf1+leaf2 to coalesce into one entry, got %d: %+v", len(mapping), mapping)
	}
	if mapping[0].Count != 5 || mapping[0].DiskBlock != 10 {
		t.Fatalf("unexpected coalesced mapping: %+v", mapping[0])
	}
}

func TestWalkExtentTreeMagicError(t *testing.T) {
	v := testVolume(1024, &blockFillSource{blockSize: 1024})
	hdr := extentHeader{Magic: 0x0000, Entries: 0, Max: 4, Depth: 0}
	node := concatBytes(packStruct(&hdr), make([]byte, 48))

	_, err := v.walkExtentTree(node, 1)
	if err == nil {
		t.Fatalf("expected magic error")
	}
	if _, ok := err.(*MagicError); !ok {
		t.Fatalf("expected *MagicError, got %T: %v", err, err)
	}
}

func TestWalkExtentTreeMagicIgnored(t *testing.T) {
	v := testVolume(1024, &blockFillSource{blockSize: 1024})
	v.opts.IgnoreMagic = true
	hdr := extentHeader{Magic: 0x0000, Entries: 1, Max: 4, Depth: 0}
	leaf := extentLeaf{Block: 0, Len: 1, StartLo: 7}
	node := concatBytes(packStruct(&hdr), packStruct(&leaf), make([]byte, 36))

	mapping, err := v.walkExtentTree(node, 1)
	if err != nil {
		t.Fatalf("walkExtentTree with ignored magic: %v", err)
	}
	if len(mapping) != 1 || mapping[0].DiskBlock != 7 {
		t.Fatalf("unexpected mapping: %+v", mapping)
	}
}

func TestWalkExtentTreeUninitializedExtentLengthMasked(t *testing.T) {
	v := testVolume(1024, &blockFillSource{blockSize: 1024})
	hdr := extentHeader{Magic: extentHeaderMagic, Entries: 1, Max: 4, Depth: 0}
	leaf := extentLeaf{Block: 0, Len: 0x8000 | 5, StartLo: 20}
	node := concatBytes(packStruct(&hdr), packStruct(&leaf), make([]byte, 36))

	mapping, err := v.walkExtentTree(node, 1)
	if err != nil {
		t.Fatalf("walkExtentTree: %v", err)
	}
	if len(mapping) != 1 {
		t.Fatalf("expected 1 mapping entry, got %d", len(mapping))
	}
	if mapping[0].Count != 5 {
		t.Fatalf("expected masked length 5, got %d", mapping[0].Count)
	}
	if !mapping[0].Uninitialized {
		t.Fatalf("expected entry to be flagged uninitialized")
	}
}

func TestWalkExtentTreeMaxLengthInitializedExtentNotMasked(t *testing.T) {
	v := testVolume(1024, &blockFillSource{blockSize: 1024})
	hdr := extentHeader{Magic: extentHeaderMagic, Entries: 1, Max: 4, Depth: 0}
	leaf := extentLeaf{Block: 0, Len: 0x8000, StartLo: 20}
	node := concatBytes(packStruct(&hdr), packStruct(&leaf), make([]byte, 36))

	mapping, err := v.walkExtentTree(node, 1)
	if err != nil {
		t.Fatalf("walkExtentTree: %v", err)
	}
	if len(mapping) != 1 {
		t.Fatalf("expected 1 mapping entry, got %d", len(mapping))
	}
	if mapping[0].Count != 0x8000 {
		t.Fatalf("expected full max length 32768, got %d", mapping[0].Count)
	}
	if mapping[0].Uninitialized {
		t.Fatalf("Len == 0x8000 exactly is a valid initialized extent, not uninitialized")
	}
}

func TestWalkExtentTreeInternalNode(t *testing.T) {
	const blockSize = 1024
	v := testVolume(blockSize, &blockFillSource{blockSize: blockSize})

	// Child leaf node, stored as if at disk block 5.
	childHdr := extentHeader{Magic: extentHeaderMagic, Entries: 1, Max: 4, Depth: 0}
	childLeaf := extentLeaf{Block: 0, Len: 1, StartLo: 42}
	childBytes := concatBytes(packStruct(&childHdr), packStruct(&childLeaf))
	childBytes = append(childBytes, make([]byte, blockSize-len(childBytes))...)

	fake := &mapSource{blocks: map[int64][]byte{5 * blockSize: childBytes}}
	v.source = fake

	rootHdr := extentHeader{Magic: extentHeaderMagic, Entries: 1, Max: 4, Depth: 1}
	idx := extentIndex{Block: 0, LeafLo: 5}
	root := concatBytes(packStruct(&rootHdr), packStruct(&idx), make([]byte, 60-12-12))

	mapping, err := v.walkExtentTree(root, 1)
	if err != nil {
		t.Fatalf("walkExtentTree: %v", err)
	}
	if len(mapping) != 1 || mapping[0].DiskBlock != 42 {
		t.Fatalf("unexpected mapping from internal node traversal: %+v", mapping)
	}
}

// mapSource serves fixed byte blocks for exact offsets used by
// TestWalkExtentTreeInternalNode; any other offset panics to catch bugs
// that read from the wrong place.
type mapSource struct {
	blocks map[int64][]byte
}

func (m *mapSource) ReadAt(offset int64, length int) ([]byte, error) {
	b, ok := m.blocks[offset]
	if !ok {
		panic("unexpected read offset in test")
	}
	return b[:length], nil
}
