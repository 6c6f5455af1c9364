package virtio

// Virtqueue names, in the order a balloon device exposes them. The stats and
// misc queues are only present when the matching feature was negotiated, and
// later queues shift down to fill the gap.
const (
	QueueInflate = "inflate"
	QueueDeflate = "deflate"
	QueueStats   = "stats"
	QueueMisc    = "misc"
)

// QueueCallback is invoked by the transport when the device returns buffers
// on a queue. Callbacks run on the transport's notification context and must
// not block; drivers typically just signal a worker.
type QueueCallback func()

// Transport is the device-facing side of a virtio balloon: feature
// negotiation, configuration space access, and virtqueue discovery. The
// driver core is written against this interface so it can run over a real
// bus binding or an in-process test device.
type Transport interface {
	// HasFeature reports whether the device offered and the driver accepted
	// the given feature bit
	HasFeature(feature Feature) bool

	// ReadConfig copies len(buf) bytes out of the device configuration space
	// starting at offset
	ReadConfig(offset int, buf []byte) error

	// WriteConfig copies len(buf) bytes into the device configuration space
	// starting at offset
	WriteConfig(offset int, buf []byte) error

	// FindQueues claims the named virtqueues, registering one callback per
	// queue. The returned queues correspond to names positionally.
	FindQueues(names []string, callbacks []QueueCallback) ([]Queue, error)
}

// Queue is a single virtqueue. Buffers are handed to the device with
// AddOutbound or AddInbound plus a Kick, and reaped with Get once the
// device has consumed them.
type Queue interface {
	// Name returns the name the queue was claimed under
	Name() string

	// AddOutbound queues a device-readable buffer. The token is an opaque
	// value handed back by Get when the device has consumed the buffer.
	AddOutbound(buf []byte, token any) error

	// AddInbound queues a device-writable buffer
	AddInbound(buf []byte, token any) error

	// Kick notifies the device that buffers were added
	Kick() error

	// Get reaps one used buffer. It returns the buffer's token and the
	// number of bytes the device wrote into it; ok is false when no used
	// buffer is pending.
	Get() (token any, written int, ok bool)

	// Broken reports whether the queue has failed. A broken queue returns
	// no further buffers, and the transport fires the queue's callback one
	// last time when it breaks so waiters can observe the failure.
	Broken() bool
}
