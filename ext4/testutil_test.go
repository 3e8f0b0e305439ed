package ext4

import (
	"bytes"

	"github.com/lunixbochs/struc"
)

// memSource is a trivial in-memory storage.Source backed by a byte slice,
// used to build synthetic ext4 images for tests without touching a real
// file or block device.
type memSource struct {
	data []byte
}

func (m *memSource) ReadAt(offset int64, length int) ([]byte, error) {
	if offset >= int64(len(m.data)) {
		return []byte{}, nil
	}
	end := offset + int64(length)
	if end > int64(len(m.data)) {
		end = int64(len(m.data))
	}
	return m.data[offset:end], nil
}

// imageBuilder assembles a synthetic ext4 image byte-by-byte at fixed
// block boundaries, for tests that exercise the full Volume/Inode stack.
type imageBuilder struct {
	blockSize int
	buf       []byte
}

func newImageBuilder(blockSize int, blockCount int) *imageBuilder {
	return &imageBuilder{blockSize: blockSize, buf: make([]byte, blockSize*blockCount)}
}

func (b *imageBuilder) writeAt(offset int64, data []byte) {
	copy(b.buf[offset:], data)
}

func (b *imageBuilder) writeStructAt(offset int64, v interface{}) {
	var out bytes.Buffer
	if err := struc.Pack(&out, v); err != nil {
		panic(err)
	}
	b.writeAt(offset, out.Bytes())
}

func (b *imageBuilder) blockOffset(block int) int64 { return int64(block) * int64(b.blockSize) }

func (b *imageBuilder) source() *memSource { return &memSource{data: b.buf} }

// packStruct is the test-side counterpart of unpackStruct, used to build
// raw extent headers/records/directory entries without hand-computing
// byte offsets.
func packStruct(v interface{}) []byte {
	var out bytes.Buffer
	if err := struc.Pack(&out, v); err != nil {
		panic(err)
	}
	return out.Bytes()
}

func concatBytes(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
