package balloon

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/guestmem/balloon/memwire"
	"github.com/guestmem/balloon/virtio"
)

// advertise tells the host about a batch of guest pages, blocking until the
// host acknowledges every transfer. The batch is a ledger view, so no copy
// of the page list is ever made: flat transfers encode straight into the
// preallocated array, and chunk transfers scan the batch through the bitmap
// window one pass at a time. Called with the device mutex held.
func (d *Device) advertise(queue virtio.Queue, batch []uint64) error {
	if len(batch) == 0 {
		return nil
	}

	if d.pageChunks != nil {
		return d.advertiseChunks(queue, batch)
	}

	return d.advertiseArray(queue, batch)
}

// advertiseArray sends the batch as one flat array of 32-bit device page
// frame numbers. Callers bound their batches to ArrayPFNsMax entries.
func (d *Device) advertiseArray(queue virtio.Queue, batch []uint64) error {
	entries := 0
	for _, pfn := range batch {
		base := pfn * d.pagesPerPage
		for i := uint64(0); i < d.pagesPerPage; i++ {
			d.fieldOrder.PutUint32(d.pfnArray[entries*4:], uint32(base+i))
			entries++
		}
	}

	return d.send(queue, d.pfnArray[:entries*4])
}

// advertiseChunks sends the batch as run-length chunk records. The bitmap
// window slides across the batch's device page range in word-aligned passes,
// so a batch of any width is encoded with bounded memory; the chunk buffer
// is flushed whenever it fills.
func (d *Device) advertiseChunks(queue virtio.Queue, batch []uint64) error {
	var devRange memwire.PFNRange
	devRange.Reset()
	for _, pfn := range batch {
		base := pfn * d.pagesPerPage
		devRange.Add(base)
		devRange.Add(base + d.pagesPerPage - 1)
	}

	d.pageChunks.Reset()

	start, end := devRange.Span()
	for start < end {
		d.window.EnsureSpan(end - start)
		limit := d.window.Bits()
		if limit > end-start {
			limit = end - start
		}
		stop := start + limit

		d.window.Clear()
		for _, pfn := range batch {
			base := pfn * d.pagesPerPage
			for i := uint64(0); i < d.pagesPerPage; i++ {
				if base+i >= start && base+i < stop {
					d.window.Set(base + i - start)
				}
			}
		}

		err := d.window.VisitRuns(limit, func(offset, length uint64) error {
			if d.pageChunks.Append(start+offset, length) {
				return d.flushChunks(queue)
			}
			return nil
		})
		if err != nil {
			return err
		}

		start = stop
	}

	if d.pageChunks.Count() > 0 {
		err := d.flushChunks(queue)
		if err != nil {
			return err
		}
	}

	d.window.ShrinkToFirst()
	return nil
}

// advertisePage tells the host about a single guest page, used by
// relocation. Called with the device mutex held.
func (d *Device) advertisePage(queue virtio.Queue, pfn uint64) error {
	if d.pageChunks != nil {
		d.pageChunks.Reset()
		d.pageChunks.Append(pfn*d.pagesPerPage, d.pagesPerPage)
		return d.flushChunks(queue)
	}

	return d.advertiseArray(queue, []uint64{pfn})
}

func (d *Device) flushChunks(queue virtio.Queue) error {
	memwire.DebugValidate(d.pageChunks)

	err := d.send(queue, d.pageChunks.Bytes())
	d.pageChunks.Reset()

	return err
}

// send hands one payload to the device and blocks until it comes back
// acknowledged
func (d *Device) send(queue virtio.Queue, payload []byte) error {
	err := queue.AddOutbound(payload, d)
	if err != nil {
		return errors.Wrapf(err, "failed to queue a transfer on the %s queue", queue.Name())
	}
	err = queue.Kick()
	if err != nil {
		return errors.Wrapf(err, "failed to notify the %s queue", queue.Name())
	}

	err = d.waitAck(queue)
	if err != nil {
		return err
	}

	d.counters.Advertisements++
	return nil
}

// waitAck sleeps until the device returns the in-flight buffer. The inflate
// and deflate queues share one ack signal; sends are serialized by the
// device mutex, so only one waiter ever exists.
func (d *Device) waitAck(queue virtio.Queue) error {
	for {
		if _, _, ok := queue.Get(); ok {
			return nil
		}
		if queue.Broken() {
			return errors.Wrapf(virtio.QueueBrokenError, "the %s queue died before acknowledging", queue.Name())
		}

		<-d.ackSignal.Wait()
	}
}

// busyWaitAck polls for the device to return the in-flight buffer without
// sleeping. Free page reports use this: they can run while the guest is in
// no state to schedule, so the wait must not block.
func (d *Device) busyWaitAck(queue virtio.Queue) error {
	for {
		if _, _, ok := queue.Get(); ok {
			return nil
		}
		if queue.Broken() {
			return errors.Wrapf(virtio.QueueBrokenError, "the %s queue died before acknowledging", queue.Name())
		}

		runtime.Gosched()
	}
}
