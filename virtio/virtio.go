// Package virtio carries the wire-level contract between a balloon device
// driver and its host: feature bits, configuration space layout, virtqueue
// transport interfaces, and the byte-order rules negotiated between the two
// sides.
package virtio

const (
	// DevicePageShift is the log2 of the device page size. Balloon traffic
	// is denominated in device pages regardless of the guest's page size.
	DevicePageShift = 12
	// DevicePageSize is the size of one device page in bytes
	DevicePageSize = 1 << DevicePageShift

	// ArrayPFNsMax is the maximum number of page frame numbers carried by a
	// single flat-array transfer
	ArrayPFNsMax = 256

	// MaxPageChunks is the maximum number of run-length records carried by a
	// single chunk transfer
	MaxPageChunks = 4096
)
