package balloon

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/guestmem/balloon/memwire"
	"github.com/guestmem/balloon/virtio"
)

// RelocatePage moves a captured page to a new location on behalf of the
// guest's page mover: the replacement is advertised as captured before the
// old page is advertised as released, so the host never sees the balloon
// shrink during the move. The caller supplies the replacement page and keeps
// ownership of the old one once this returns.
//
// The device mutex is only try-locked. If the balloon is mid-inflate or
// mid-deflate this returns TryAgainError and the caller retries later,
// rather than stalling the page mover behind a long advertisement pass.
func (d *Device) RelocatePage(oldPFN, newPFN uint64) error {
	if !d.mutex.TryLock() {
		return errors.WithStack(TryAgainError)
	}
	defer d.mutex.Unlock()

	if d.closed || d.suspended {
		return errors.WithStack(ClosedError)
	}
	if d.broken {
		return errors.WithStack(virtio.QueueBrokenError)
	}
	if !d.ledger.Contains(oldPFN) {
		return errors.Wrapf(NotCapturedError, "page %d", oldPFN)
	}
	if d.ledger.Contains(newPFN) {
		return errors.Newf("page %d is already held by the balloon", newPFN)
	}

	err := d.advertisePage(d.inflateQueue, newPFN)
	if err != nil {
		d.breakDevice(err)
		return err
	}

	d.ledger.Replace(oldPFN, newPFN)

	err = d.advertisePage(d.deflateQueue, oldPFN)
	if err != nil {
		d.breakDevice(err)
		return err
	}

	d.counters.Relocations++
	memwire.DebugValidate(&d.ledger)

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "relocated balloon page",
		slog.Uint64("from", oldPFN),
		slog.Uint64("to", newPFN))

	return nil
}
