package ext4

import (
	"sort"

	"golang.org/x/xerrors"
)

// extentMapEntry is the runtime, coalesced form of a file's logical-to-
// physical block mapping: a contiguous run of FileBlock..FileBlock+Count-1
// logical blocks backed by DiskBlock..DiskBlock+Count-1 physical blocks.
type extentMapEntry struct {
	FileBlock     uint32
	DiskBlock     int64
	Count         uint32
	Uninitialized bool
}

// walkExtentTree traverses the extent tree rooted in the 60-byte i_block
// payload (nodeBytes), returning a sorted, coalesced mapping. Traversal
// uses an explicit FIFO work queue of node contents (each child node is
// read from disk when its index entry is visited); any traversal
// order is correct since the result is sorted and coalesced post-hoc.
func (v *Volume) walkExtentTree(nodeBytes []byte, inodeIdx uint32) ([]extentMapEntry, error) {
	type queueItem struct {
		bytes  []byte
		offset int64 // for diagnostics and magic error reporting only
	}

	queue := []queueItem{{bytes: nodeBytes, offset: -1}}
	var mapping []extentMapEntry

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		var hdr extentHeader
		if err := unpackStruct(item.bytes[:12], &hdr); err != nil {
			return nil, xerrors.Errorf("failed to parse extent header: %w", err)
		}
		if !v.opts.IgnoreMagic && hdr.Magic != extentHeaderMagic {
			return nil, &MagicError{
				Structure: "extent header",
				Offset:    item.offset,
				Observed:  uint32(hdr.Magic),
				Expected:  extentHeaderMagic,
			}
		}

		body := item.bytes[12:]
		if hdr.Depth == 0 {
			for e := uint16(0); e < hdr.Entries; e++ {
				var leaf extentLeaf
				rec := body[int(e)*12 : int(e)*12+12]
				if err := unpackStruct(rec, &leaf); err != nil {
					return nil, xerrors.Errorf("failed to parse leaf extent %d: %w", e, err)
				}
				mapping = append(mapping, extentMapEntry{
					FileBlock:     leaf.Block,
					DiskBlock:     leaf.start(),
					Count:         uint32(leaf.length()),
					Uninitialized: leaf.uninitialized(),
				})
			}
		} else {
			for e := uint16(0); e < hdr.Entries; e++ {
				var idx extentIndex
				rec := body[int(e)*12 : int(e)*12+12]
				if err := unpackStruct(rec, &idx); err != nil {
					return nil, xerrors.Errorf("failed to parse index extent %d: %w", e, err)
				}
				childOffset := idx.leaf() * v.sb.BlockSize()
				childBytes, err := v.read(childOffset, int(v.sb.BlockSize()))
				if err != nil {
					return nil, xerrors.Errorf("failed to read extent child node at offset %d: %w", childOffset, err)
				}
				queue = append(queue, queueItem{bytes: childBytes, offset: childOffset})
			}
		}
	}

	logger.Debugw("walked extent tree", "inode", inodeIdx, "extents", len(mapping))

	sort.Slice(mapping, func(a, b int) bool { return mapping[a].FileBlock < mapping[b].FileBlock })
	return coalesce(mapping), nil
}

// coalesce merges adjacent mapping entries whose physical blocks are also
// adjacent, i.e. entries[i].DiskBlock+Count == entries[i+1].DiskBlock and
// their logical ranges abut.
func coalesce(entries []extentMapEntry) []extentMapEntry {
	if len(entries) == 0 {
		return entries
	}
	out := make([]extentMapEntry, 0, len(entries))
	out = append(out, entries[0])
	for _, e := range entries[1:] {
		last := &out[len(out)-1]
		if last.DiskBlock+int64(last.Count) == e.DiskBlock && last.FileBlock+last.Count == e.FileBlock {
			last.Count += e.Count
			last.Uninitialized = last.Uninitialized || e.Uninitialized
			continue
		}
		out = append(out, e)
	}
	return out
}
