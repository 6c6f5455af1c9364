package balloon

import (
	"context"
	"log/slog"

	"github.com/guestmem/balloon/virtio"
)

// handleMiscRequest reaps one host command from the misc queue, dispatches
// it, and re-arms the inbound header buffer for the next command. Runs on
// the worker.
func (d *Device) handleMiscRequest() {
	if d.miscQueue == nil {
		return
	}

	_, written, ok := d.miscQueue.Get()
	if !ok {
		return
	}

	header, err := virtio.DecodeMiscHeader(d.miscHdrBuf[:written])
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelWarn,
			"discarding a malformed host command",
			slog.Any("error", err))
	} else {
		switch header.Cmd {
		case virtio.MiscCmdUnusedPages:
			d.reportFreePages()
		default:
			d.logger.LogAttrs(context.Background(), slog.LevelWarn,
				"ignoring an unknown host command",
				slog.String("command", header.Cmd.String()))
		}
	}

	d.armMiscHeader()
}

// armMiscHeader posts the inbound buffer the host writes its next command
// into. One header buffer is re-armed after every command, so exactly one
// command is ever outstanding.
func (d *Device) armMiscHeader() {
	if d.miscHdrBuf == nil {
		d.miscHdrBuf = make([]byte, virtio.MiscHeaderSize)
	}

	err := d.miscQueue.AddInbound(d.miscHdrBuf, &d.miscHdrBuf)
	if err == nil {
		err = d.miscQueue.Kick()
	}
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to arm the host command queue, disabling it",
			slog.Any("error", err))
		d.miscQueue = nil
	}
}

// reportFreePages streams the guest's free page runs to the host, ending
// with a payload flagged complete. The walk deliberately runs without the
// device mutex: the snapshot is advisory, pages may be allocated while it is
// in flight, and the host revalidates anything it acts on.
func (d *Device) reportFreePages() {
	d.miscChunks.Reset()

	if d.freeRanges != nil {
		err := d.freeRanges.VisitFreeRanges(func(pfn, pages uint64) error {
			if d.miscChunks.Append(pfn*d.pagesPerPage, pages*d.pagesPerPage) {
				return d.flushFreeReport(false)
			}
			return nil
		})
		if err != nil {
			d.logger.LogAttrs(context.Background(), slog.LevelError,
				"abandoning the free page report",
				slog.Any("error", err))
			return
		}
	}

	// the final payload carries the complete flag even when it holds no
	// records, so the host always sees an end marker
	err := d.flushFreeReport(true)
	if err != nil {
		d.logger.LogAttrs(context.Background(), slog.LevelError,
			"failed to finish the free page report",
			slog.Any("error", err))
		return
	}

	d.mutex.Lock()
	d.counters.FreeReports++
	d.mutex.Unlock()
}

func (d *Device) flushFreeReport(complete bool) error {
	var flags uint16
	if complete {
		flags = virtio.MiscFlagComplete
	}
	virtio.MiscHeader{Cmd: virtio.MiscCmdUnusedPages, Flags: flags}.Encode(d.miscChunks.Prefix())

	err := d.miscQueue.AddOutbound(d.miscChunks.Bytes(), d)
	if err == nil {
		err = d.miscQueue.Kick()
	}
	if err == nil {
		err = d.busyWaitAck(d.miscQueue)
	}

	d.miscChunks.Reset()
	return err
}
