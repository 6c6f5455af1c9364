package balloon

import (
	"context"
	"log/slog"
	"time"

	"github.com/guestmem/balloon/memwire"
	"github.com/guestmem/balloon/virtio"
)

// updateSize moves the balloon one pass toward the host's target: at most
// one flat array of captures or releases on legacy devices, or the whole
// remaining distance on chunking devices. If distance remains afterwards the
// worker reschedules itself.
func (d *Device) updateSize() {
	d.mutex.Lock()

	if d.closed || d.broken {
		d.mutex.Unlock()
		return
	}

	diff := d.towardsTarget()
	if diff > 0 {
		diff -= int64(d.fill(uint64(diff)))
	} else if diff < 0 {
		diff += int64(d.leak(uint64(-diff)))
	}
	d.updateActual()

	memwire.DebugValidate(&d.ledger)
	broken := d.broken
	d.mutex.Unlock()

	if diff != 0 && !broken {
		d.sizeSignal.Raise()
	}
}

// towardsTarget returns how far the balloon is from the host's target, in
// device pages: positive to inflate, negative to deflate. Targets are
// rounded down to whole guest pages, since the balloon cannot capture a
// fraction of one.
func (d *Device) towardsTarget() int64 {
	target, err := virtio.ReadTargetPages(d.transport)
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to read the balloon target",
			slog.Any("error", err))
		return 0
	}

	target -= target % uint32(d.pagesPerPage)
	return int64(target) - int64(d.devicePages)
}

// updateActual publishes the balloon's current size back to the host.
// Called with the device mutex held.
func (d *Device) updateActual() {
	err := virtio.WriteActualPages(d.transport, uint32(d.devicePages))
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to publish the balloon size",
			slog.Any("error", err))
	}
}

// fill captures up to want device pages worth of guest pages, then
// advertises the batch on the inflate queue. It returns the number of device
// pages captured, which falls short of want when the guest has no free pages
// to give. Called with the device mutex held.
func (d *Device) fill(want uint64) uint64 {
	if d.pageChunks == nil && want > virtio.ArrayPFNsMax {
		// one flat array per pass; the worker reschedules for the rest
		want = virtio.ArrayPFNsMax
	}

	batchStart := d.ledger.Len()
	var captured uint64
	for captured+d.pagesPerPage <= want {
		pfn, err := d.source.AllocatePage()
		if err != nil {
			if d.allocWarn.Allow() {
				d.logger.LogAttrs(context.Background(), slog.LevelWarn,
					"balloon inflation could not get a page from the guest, retrying shortly",
					slog.Any("error", err))
			}
			time.Sleep(allocRetryDelay)
			break
		}

		d.ledger.Push(pfn)
		captured += d.pagesPerPage
		if !d.transport.HasFeature(virtio.FeatureDeflateOnPressure) {
			d.source.AdjustManaged(-1)
		}
	}

	if captured == 0 {
		return 0
	}
	d.devicePages += captured
	d.counters.InflatedPages += captured

	err := d.advertise(d.inflateQueue, d.ledger.From(batchStart))
	if err != nil {
		d.breakDevice(err)
	} else {
		d.logger.LogAttrs(context.Background(), slog.LevelDebug, "inflated balloon",
			slog.Uint64("pages", captured),
			slog.Uint64("size", d.devicePages))
	}

	return captured
}

// leak releases up to want device pages back to the guest. Every batch is
// advertised on the deflate queue and acknowledged by the host before the
// pages are freed, so the host never sees the guest reuse a page it still
// considers captured. Returns the number of device pages released. Called
// with the device mutex held.
func (d *Device) leak(want uint64) uint64 {
	held := uint64(d.ledger.Len()) * d.pagesPerPage
	if want > held {
		want = held
	}
	if d.pageChunks == nil && want > virtio.ArrayPFNsMax {
		want = virtio.ArrayPFNsMax
	}

	pages := int(want / d.pagesPerPage)
	if pages == 0 {
		return 0
	}

	err := d.advertise(d.deflateQueue, d.ledger.Tail(pages))
	if err != nil {
		d.breakDevice(err)
		return 0
	}

	for i := 0; i < pages; i++ {
		pfn, _ := d.ledger.Pop()
		d.source.FreePage(pfn)
		if !d.transport.HasFeature(virtio.FeatureDeflateOnPressure) {
			d.source.AdjustManaged(1)
		}
	}

	released := uint64(pages) * d.pagesPerPage
	d.devicePages -= released
	d.counters.DeflatedPages += released

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "deflated balloon",
		slog.Uint64("pages", released),
		slog.Uint64("size", d.devicePages))

	return released
}
