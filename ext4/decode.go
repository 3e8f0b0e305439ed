package ext4

import (
	"io"

	"github.com/lunixbochs/struc"
)

// structUnpack decodes a packed little-endian struc-tagged layout from r
// into dst. Thin wrapper kept in one place so every call site shares the
// same error behavior.
func structUnpack(r io.Reader, dst interface{}) error {
	return struc.Unpack(r, dst)
}
