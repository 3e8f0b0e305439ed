package ext4

import "golang.org/x/xerrors"

// Resolve walks parts, a sequence of directory entry names, starting from
// root (which must be a directory unless the volume was opened with
// IgnoreFlags), returning the terminal inode. "." and ".." are resolved
// only if present as real on-disk directory entries, matching
// original_source/ext4.py's Inode.get_inode.
func Resolve(root *Inode, parts []string, decodeName DecodeNameFunc) (*Inode, error) {
	if !root.volume.opts.IgnoreFlags && !root.IsDir() {
		return nil, &NotADirectoryError{InodeIdx: root.idx}
	}

	current := root
	walked := ""
	for i, part := range parts {
		if !root.volume.opts.IgnoreFlags && !current.IsDir() {
			return nil, &NotADirectoryError{InodeIdx: current.idx}
		}

		entries, err := current.OpenDir(decodeName)
		if err != nil {
			return nil, xerrors.Errorf("failed to read directory %q (inode %d): %w", walked, current.idx, err)
		}

		var matchIdx uint32
		found := false
		for _, e := range entries {
			if e.Name == part {
				matchIdx = e.InodeIdx
				found = true
				break
			}
		}
		if !found {
			return nil, &NotFoundError{Component: part, ParentDir: walked}
		}

		next, err := current.volume.GetInode(matchIdx)
		if err != nil {
			return nil, xerrors.Errorf("failed to resolve %q to inode %d: %w", part, matchIdx, err)
		}
		current = next

		if i == 0 {
			walked = part
		} else {
			walked = walked + "/" + part
		}
	}
	return current, nil
}
