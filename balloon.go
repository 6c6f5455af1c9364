// Package balloon implements the guest-side driver core of a virtio memory
// balloon: it captures guest pages on the host's request, advertises them
// over virtqueues, and returns them when the host lowers its target or the
// guest comes under memory pressure.
package balloon

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math/bits"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guestmem/balloon/internal/utils"
	"github.com/guestmem/balloon/memwire"
	"github.com/guestmem/balloon/virtio"
	"golang.org/x/time/rate"
)

// allocRetryDelay is how long inflation backs off when the guest has no page
// to give, before the worker tries again
const allocRetryDelay = 200 * time.Millisecond

// Device is one balloon driver instance bound to a transport. All methods
// are safe for concurrent use.
type Device struct {
	logger    *slog.Logger
	transport virtio.Transport
	source    PageSource

	// mutex guards the ledger, size accounting, counters, and the page
	// advertisement buffers. RelocatePage only ever try-locks it, so long
	// inflate or deflate passes never stall the guest's page mover.
	mutex sync.Mutex

	pageSize     uint64
	pageShift    uint
	pagesPerPage uint64
	fieldOrder   binary.ByteOrder

	inflateQueue virtio.Queue
	deflateQueue virtio.Queue
	statsQueue   virtio.Queue
	miscQueue    virtio.Queue

	ledger      pageLedger
	devicePages uint64
	counters    Counters

	// pfnArray carries flat page-frame transfers; pageChunks and window
	// replace it on devices that negotiated FeaturePageChunks
	pfnArray   []byte
	pageChunks *memwire.ChunkBuffer
	window     *memwire.TileWindow

	statsBuf    []byte
	statsSource StatsSource

	miscChunks *memwire.ChunkBuffer
	miscHdrBuf []byte
	freeRanges FreeRangeSource

	pressureReleasePages uint64
	unregisterPressure   func()

	allocWarn *rate.Limiter

	sizeSignal  utils.Signal
	statsSignal utils.Signal
	miscSignal  utils.Signal
	ackSignal   utils.Signal

	closed    bool
	suspended bool
	broken    bool

	stop       chan struct{}
	workerDone chan struct{}
}

// New creates a balloon Device over the provided transport and starts its
// worker goroutine. The device immediately begins moving toward the host's
// target; call Close to stop it and release every captured page.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, transport virtio.Transport, source PageSource, options CreateOptions) (*Device, error) {
	if transport == nil {
		return nil, errors.New("balloon.New requires a transport")
	}
	if source == nil {
		return nil, errors.New("balloon.New requires a page source")
	}

	pageSize := source.PageSize()
	err := memwire.CheckPow2(pageSize, "guest page size")
	if err != nil {
		return nil, err
	}
	if pageSize < virtio.DevicePageSize {
		return nil, errors.Newf("the guest page size %d is smaller than the device page size %d", pageSize, virtio.DevicePageSize)
	}

	device := &Device{
		logger:    logger,
		transport: transport,
		source:    source,

		pageSize:     pageSize,
		pageShift:    uint(bits.TrailingZeros64(pageSize)),
		pagesPerPage: pageSize / virtio.DevicePageSize,
		fieldOrder:   virtio.FieldOrder(transport.HasFeature(virtio.FeatureVersion1)),

		statsSource: options.StatsSource,
		freeRanges:  options.FreeRanges,

		allocWarn: rate.NewLimiter(rate.Every(10*time.Second), 1),

		sizeSignal:  utils.NewSignal(),
		statsSignal: utils.NewSignal(),
		miscSignal:  utils.NewSignal(),
		ackSignal:   utils.NewSignal(),

		stop:       make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	device.ledger.Init()

	if options.PressureReleasePages == 0 {
		device.pressureReleasePages = defaultPressureReleasePages
	} else {
		device.pressureReleasePages = options.PressureReleasePages
	}

	windowTiles := options.WindowTiles
	if windowTiles == 0 {
		windowTiles = defaultWindowTiles
	}
	if windowTiles < 1 {
		return nil, errors.Newf("balloon.CreateOptions.WindowTiles was %d, but at least one tile is required", options.WindowTiles)
	}

	if transport.HasFeature(virtio.FeaturePageChunks) {
		device.pageChunks = memwire.NewChunkBuffer(virtio.MaxPageChunks, 0, virtio.DevicePageShift, virtio.DevicePageShift)
		device.window = memwire.NewTileWindow(windowTiles)
	} else {
		device.pfnArray = make([]byte, virtio.ArrayPFNsMax*4)
	}
	if transport.HasFeature(virtio.FeatureMiscQueue) {
		device.miscChunks = memwire.NewChunkBuffer(virtio.MaxPageChunks, virtio.MiscHeaderSize, virtio.DevicePageShift, virtio.DevicePageShift)
	}

	err = device.findQueues()
	if err != nil {
		return nil, err
	}

	if device.statsQueue != nil {
		device.primeStats()
	}
	if device.miscQueue != nil {
		device.armMiscHeader()
	}

	if options.Pressure != nil {
		device.unregisterPressure, err = options.Pressure.Register(pressureCallbackPriority, device.onPressure)
		if err != nil {
			return nil, errors.Wrap(err, "failed to register the balloon's pressure handler")
		}
	}

	go device.run(device.stop, device.workerDone)
	device.sizeSignal.Raise()

	logger.LogAttrs(context.Background(), slog.LevelDebug, "created balloon device",
		slog.Uint64("pageSize", pageSize),
		slog.Bool("pageChunks", device.pageChunks != nil),
		slog.Bool("statsQueue", device.statsQueue != nil),
		slog.Bool("miscQueue", device.miscQueue != nil))

	return device, nil
}

// findQueues claims the virtqueues the negotiated feature set calls for.
// Queue order is fixed, with absent optional queues leaving no gap.
func (d *Device) findQueues() error {
	names := []string{virtio.QueueInflate, virtio.QueueDeflate}
	callbacks := []virtio.QueueCallback{d.ackSignal.Raise, d.ackSignal.Raise}

	statsIndex := -1
	if d.transport.HasFeature(virtio.FeatureStatsQueue) {
		statsIndex = len(names)
		names = append(names, virtio.QueueStats)
		callbacks = append(callbacks, d.statsSignal.Raise)
	}

	miscIndex := -1
	if d.transport.HasFeature(virtio.FeatureMiscQueue) {
		miscIndex = len(names)
		names = append(names, virtio.QueueMisc)
		callbacks = append(callbacks, d.miscSignal.Raise)
	}

	queues, err := d.transport.FindQueues(names, callbacks)
	if err != nil {
		return errors.Wrap(err, "failed to claim the balloon virtqueues")
	}
	if len(queues) != len(names) {
		return errors.Newf("the transport returned %d queues for %d names", len(queues), len(names))
	}

	d.inflateQueue = queues[0]
	d.deflateQueue = queues[1]
	if statsIndex >= 0 {
		d.statsQueue = queues[statsIndex]
	}
	if miscIndex >= 0 {
		d.miscQueue = queues[miscIndex]
	}

	return nil
}

// run is the device worker. All slow work happens here: queue callbacks and
// config-change notifications only raise signals.
func (d *Device) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		case <-d.sizeSignal.Wait():
			d.updateSize()
		case <-d.statsSignal.Wait():
			d.refreshStats()
		case <-d.miscSignal.Wait():
			d.handleMiscRequest()
		}
	}
}

// ConfigChanged tells the device its configuration space was updated.
// Transports call this when the host raises a configuration interrupt.
func (d *Device) ConfigChanged() {
	d.sizeSignal.Raise()
}

// breakDevice records a transport failure. The balloon stops all page
// movement but keeps its accounting intact. Called with the device mutex
// held.
func (d *Device) breakDevice(err error) {
	if d.broken {
		return
	}
	d.broken = true

	d.logger.LogAttrs(context.Background(), slog.LevelError,
		"balloon transport failed, suspending all page movement",
		slog.Any("error", err))
}

// drainLocked releases every captured page. Called with the device mutex
// held.
func (d *Device) drainLocked() {
	for d.ledger.Len() > 0 && !d.broken {
		d.leak(uint64(d.ledger.Len()) * d.pagesPerPage)
	}
}

// Close stops the worker, releases every captured page back to the guest,
// and publishes the final size. Further operations return ClosedError.
func (d *Device) Close() error {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return nil
	}
	d.closed = true
	suspended := d.suspended
	d.mutex.Unlock()

	if d.unregisterPressure != nil {
		d.unregisterPressure()
	}

	if !suspended {
		close(d.stop)
		<-d.workerDone
	}

	d.mutex.Lock()
	d.drainLocked()
	d.updateActual()
	remaining := d.ledger.Len()
	d.mutex.Unlock()

	if remaining > 0 {
		return errors.Newf("failed to release %d captured pages while closing the balloon", remaining)
	}

	d.logger.LogAttrs(context.Background(), slog.LevelDebug, "closed balloon device")
	return nil
}

// Suspend quiesces the device for a guest sleep transition: the worker stops
// and every captured page is advertised back and released, since the host's
// view of guest memory does not survive the transition.
func (d *Device) Suspend() error {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return errors.WithStack(ClosedError)
	}
	if d.suspended {
		d.mutex.Unlock()
		return nil
	}
	d.suspended = true
	d.mutex.Unlock()

	close(d.stop)
	<-d.workerDone

	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.drainLocked()
	d.updateActual()

	if d.ledger.Len() > 0 {
		return errors.Newf("failed to release %d captured pages while suspending the balloon", d.ledger.Len())
	}

	return nil
}

// Resume reclaims the virtqueues after a Suspend and restarts the worker.
// The balloon restarts empty and immediately begins moving toward the
// host's target again.
func (d *Device) Resume() error {
	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return errors.WithStack(ClosedError)
	}
	if !d.suspended {
		d.mutex.Unlock()
		return nil
	}

	err := d.findQueues()
	if err != nil {
		d.mutex.Unlock()
		return err
	}

	d.broken = false
	d.suspended = false
	d.stop = make(chan struct{})
	d.workerDone = make(chan struct{})
	stop, done := d.stop, d.workerDone
	d.mutex.Unlock()

	if d.statsQueue != nil {
		d.primeStats()
	}
	if d.miscQueue != nil {
		d.armMiscHeader()
	}

	go d.run(stop, done)
	d.sizeSignal.Raise()

	return nil
}

// SizePages returns the balloon's current size in device pages
func (d *Device) SizePages() uint64 {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.devicePages
}

// CapturedPages returns the number of guest pages the balloon holds
func (d *Device) CapturedPages() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.ledger.Len()
}

// TargetPages reads the size the host is currently asking for, in device
// pages
func (d *Device) TargetPages() (uint32, error) {
	return virtio.ReadTargetPages(d.transport)
}

// Counters returns a snapshot of the device's activity counters
func (d *Device) Counters() Counters {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.counters
}
