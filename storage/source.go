// Package storage provides the positioned byte-source seam the ext4 reader
// is built on: a single "read these bytes at this absolute offset" contract
// that the Volume layers its own offset and length bookkeeping on top of.
package storage

import (
	"io"

	"golang.org/x/xerrors"
)

// Source is a positioned byte source. Every call is absolute: offset is not
// relative to any previous call. A short read (len(result) < length) signals
// that the underlying medium ended at that point; it is not itself an error.
type Source interface {
	ReadAt(offset int64, length int) ([]byte, error)
}

// readerAtSource adapts an io.ReaderAt, adding a fixed base offset to every
// request so an ext4 image embedded in a larger container (e.g. a partition
// inside a disk image) can be addressed with volume-relative offsets.
type readerAtSource struct {
	ra   io.ReaderAt
	base int64
}

// FromReaderAt wraps ra as a Source, adding base to every requested offset.
// This is the common case: *os.File and io.SectionReader both implement
// io.ReaderAt and support concurrent use by independent callers.
func FromReaderAt(ra io.ReaderAt, base int64) Source {
	return &readerAtSource{ra: ra, base: base}
}

func (s *readerAtSource) ReadAt(offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := s.ra.ReadAt(buf, s.base+offset)
	if n > 0 && (err == nil || err == io.EOF || err == io.ErrUnexpectedEOF) {
		return buf[:n], nil
	}
	if err != nil && err != io.EOF {
		return nil, xerrors.Errorf("failed to read at offset %d: %w", s.base+offset, err)
	}
	return buf[:n], nil
}

// readSeekerSource adapts an io.ReadSeeker that does not implement
// io.ReaderAt. Per spec, every read is preceded by an absolute positioning
// step only when the source's current position disagrees with the desired
// offset, so repeated sequential reads do not reseek needlessly. Callers
// sharing one readSeekerSource across goroutines must serialize access
// themselves; this type holds mutable, stateful cursor position.
type readSeekerSource struct {
	rs   io.ReadSeeker
	base int64
	pos  int64
	init bool
}

// FromReadSeeker wraps rs as a Source for sources that support seeking and
// reading but not positioned reads (io.ReaderAt).
func FromReadSeeker(rs io.ReadSeeker, base int64) Source {
	return &readSeekerSource{rs: rs, base: base}
}

func (s *readSeekerSource) ReadAt(offset int64, length int) ([]byte, error) {
	want := s.base + offset
	if !s.init || s.pos != want {
		pos, err := s.rs.Seek(want, io.SeekStart)
		if err != nil {
			return nil, xerrors.Errorf("failed to seek to offset %d: %w", want, err)
		}
		s.pos = pos
		s.init = true
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(s.rs, buf)
	s.pos += int64(n)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, xerrors.Errorf("failed to read at offset %d: %w", want, err)
	}
	return buf[:n], nil
}
