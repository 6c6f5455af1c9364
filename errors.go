package balloon

import "github.com/pkg/errors"

// TryAgainError is the error returned from RelocatePage when the balloon is busy with an
// inflate or deflate; the relocation can simply be retried later
var TryAgainError error = errors.New("the balloon is busy, retry the relocation")

// NotCapturedError is the error returned from RelocatePage when the page being relocated is
// not held by the balloon
var NotCapturedError error = errors.New("the page is not held by the balloon")

// ClosedError is the error returned from operations on a device that has been closed
var ClosedError error = errors.New("the balloon device is closed")
