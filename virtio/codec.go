package virtio

import "encoding/binary"

// FieldOrder returns the byte order for multi-byte virtqueue payload fields.
// Devices negotiating FeatureVersion1 use little-endian fields; legacy
// devices use the guest's native byte order. Chunk records and the
// configuration space are little-endian on every device and do not go
// through this.
func FieldOrder(version1 bool) binary.ByteOrder {
	if version1 {
		return binary.LittleEndian
	}

	return binary.NativeEndian
}
