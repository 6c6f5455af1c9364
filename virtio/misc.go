package virtio

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

// MiscCommand identifies one request on the miscellaneous host-command queue
type MiscCommand uint16

const (
	// MiscCmdUnusedPages asks the driver to report all guest pages that are
	// currently free
	MiscCmdUnusedPages MiscCommand = 0
)

// MiscFlagComplete marks the final payload of a multi-part miscellaneous
// reply
const MiscFlagComplete uint16 = 0x1

// MiscHeaderSize is the encoded size of a miscellaneous queue header
const MiscHeaderSize = 4

var miscCommandMapping = map[MiscCommand]string{
	MiscCmdUnusedPages: "MiscCmdUnusedPages",
}

func (c MiscCommand) String() string {
	name, ok := miscCommandMapping[c]
	if !ok {
		return fmt.Sprintf("MiscCommand(%d)", uint16(c))
	}

	return name
}

// MiscHeader prefixes every buffer on the miscellaneous queue, in both
// directions. Its fields are little-endian on every device.
type MiscHeader struct {
	Cmd   MiscCommand
	Flags uint16
}

// Encode writes the header into the first MiscHeaderSize bytes of buf
func (h MiscHeader) Encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf, uint16(h.Cmd))
	binary.LittleEndian.PutUint16(buf[2:], h.Flags)
}

// DecodeMiscHeader reads a header from the first MiscHeaderSize bytes of buf
func DecodeMiscHeader(buf []byte) (MiscHeader, error) {
	if len(buf) < MiscHeaderSize {
		return MiscHeader{}, errors.Newf("miscellaneous queue header requires %d bytes, got %d", MiscHeaderSize, len(buf))
	}

	return MiscHeader{
		Cmd:   MiscCommand(binary.LittleEndian.Uint16(buf)),
		Flags: binary.LittleEndian.Uint16(buf[2:]),
	}, nil
}
