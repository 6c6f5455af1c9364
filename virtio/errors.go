package virtio

import "github.com/pkg/errors"

// QueueBrokenError is an error that indicates a virtqueue has failed and will
// return no further buffers
var QueueBrokenError error = errors.New("virtqueue is broken")

// QueueFullError is an error that indicates a virtqueue has no free
// descriptors for another buffer
var QueueFullError error = errors.New("virtqueue is full")
