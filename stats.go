package balloon

import (
	"context"
	"log/slog"

	"github.com/guestmem/balloon/virtio"
)

const statsBufSize = virtio.StatCount * virtio.StatEntrySize

// primeStats hands the host the first statistics buffer. The host polls by
// consuming it; one buffer shuttles back and forth for the device's
// lifetime.
func (d *Device) primeStats() {
	if d.statsBuf == nil {
		d.statsBuf = make([]byte, statsBufSize)
	}
	d.encodeStats()

	err := d.statsQueue.AddOutbound(d.statsBuf, d)
	if err == nil {
		err = d.statsQueue.Kick()
	}
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to set up the statistics queue, disabling statistics",
			slog.Any("error", err))
		d.statsQueue = nil
	}
}

// refreshStats answers a statistics poll: the host has consumed the
// outstanding buffer, and the driver refills it with fresh numbers. Runs on
// the worker.
func (d *Device) refreshStats() {
	if d.statsQueue == nil {
		return
	}

	_, _, ok := d.statsQueue.Get()
	if !ok {
		return
	}

	d.encodeStats()
	err := d.statsQueue.AddOutbound(d.statsBuf, d)
	if err == nil {
		err = d.statsQueue.Kick()
	}
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to return the statistics buffer, disabling statistics",
			slog.Any("error", err))
		d.statsQueue = nil
		return
	}

	d.mutex.Lock()
	d.counters.StatsRefreshes++
	d.mutex.Unlock()
}

// encodeStats writes the current memory sample into the statistics buffer.
// Entry order is fixed by tag; sizes are converted from guest pages to
// bytes, fault figures stay raw counts.
func (d *Device) encodeStats() {
	var sample MemorySample
	if d.statsSource != nil {
		s, err := d.statsSource.Sample()
		if err != nil {
			d.logger.LogAttrs(context.Background(), slog.LevelWarn,
				"failed to sample guest memory statistics",
				slog.Any("error", err))
		} else {
			sample = s
		}
	}

	d.putStat(0, virtio.StatSwapIn, sample.SwappedInPages<<d.pageShift)
	d.putStat(1, virtio.StatSwapOut, sample.SwappedOutPages<<d.pageShift)
	d.putStat(2, virtio.StatMajorFaults, sample.MajorFaults)
	d.putStat(3, virtio.StatMinorFaults, sample.MinorFaults)
	d.putStat(4, virtio.StatFreeMemory, sample.FreePages<<d.pageShift)
	d.putStat(5, virtio.StatTotalMemory, sample.TotalPages<<d.pageShift)
	d.putStat(6, virtio.StatAvailableMemory, sample.AvailablePages<<d.pageShift)
}

func (d *Device) putStat(slot int, tag virtio.StatTag, value uint64) {
	entry := d.statsBuf[slot*virtio.StatEntrySize:]
	d.fieldOrder.PutUint16(entry, uint16(tag))
	d.fieldOrder.PutUint64(entry[2:], value)
}
