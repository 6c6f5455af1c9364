package virtio

import "encoding/binary"

// Balloon configuration space layout. Both fields are 32-bit and, unlike
// general legacy configuration fields, always little-endian.
const (
	targetPagesOffset = 0
	actualPagesOffset = 4

	// ConfigSize is the size of the balloon configuration space in bytes
	ConfigSize = 8
)

// ReadTargetPages reads the balloon size the host is asking for, in device
// pages
func ReadTargetPages(transport Transport) (uint32, error) {
	var buf [4]byte
	err := transport.ReadConfig(targetPagesOffset, buf[:])
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteActualPages publishes the balloon size the driver has reached, in
// device pages
func WriteActualPages(transport Transport, pages uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], pages)

	return transport.WriteConfig(actualPagesOffset, buf[:])
}
