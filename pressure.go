package balloon

import (
	"context"
	"log/slog"

	"github.com/guestmem/balloon/virtio"
)

// onPressure is invoked by the pressure source when the guest runs
// critically short of memory. Giving back captured pages is far cheaper for
// the guest than reclaim, so the balloon releases a fixed tranche without
// waiting for the host to lower its target. It returns the number of guest
// pages freed.
//
// Only devices that negotiated FeatureDeflateOnPressure may shrink below the
// host's target; on any other device this does nothing.
func (d *Device) onPressure() uint64 {
	if !d.transport.HasFeature(virtio.FeatureDeflateOnPressure) {
		return 0
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.closed || d.suspended || d.broken {
		return 0
	}

	released := d.leak(d.pressureReleasePages)
	d.updateActual()
	d.counters.PressureReleases++

	d.logger.LogAttrs(context.Background(), slog.LevelDebug,
		"released balloon pages under memory pressure",
		slog.Uint64("devicePages", released),
		slog.Uint64("size", d.devicePages))

	return released / d.pagesPerPage
}
