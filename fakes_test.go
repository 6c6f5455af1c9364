package balloon

import (
	"encoding/binary"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guestmem/balloon/memwire"
	"github.com/guestmem/balloon/virtio"
	"github.com/stretchr/testify/require"
)

// fakeQueue is an in-process virtqueue. Outbound buffers are consumed on
// Kick when autoAck is set and otherwise wait for consumeOne; inbound
// buffers always wait for deliver. Payload copies are recorded at
// consumption, the moment a real device would read them.
type fakeQueue struct {
	name     string
	callback virtio.QueueCallback
	autoAck  bool

	mutex    sync.Mutex
	broken   bool
	pending  []fakeBuffer
	used     []fakeUsed
	consumed [][]byte
}

type fakeBuffer struct {
	buf      []byte
	token    any
	outbound bool
}

type fakeUsed struct {
	token   any
	written int
}

var _ virtio.Queue = &fakeQueue{}

func (q *fakeQueue) Name() string { return q.name }

func (q *fakeQueue) AddOutbound(buf []byte, token any) error {
	return q.add(buf, token, true)
}

func (q *fakeQueue) AddInbound(buf []byte, token any) error {
	return q.add(buf, token, false)
}

func (q *fakeQueue) add(buf []byte, token any, outbound bool) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.broken {
		return virtio.QueueBrokenError
	}

	q.pending = append(q.pending, fakeBuffer{buf: buf, token: token, outbound: outbound})
	return nil
}

func (q *fakeQueue) Kick() error {
	q.mutex.Lock()
	if q.broken {
		q.mutex.Unlock()
		return virtio.QueueBrokenError
	}

	fire := false
	if q.autoAck {
		fire = q.consumeAllLocked()
	}
	q.mutex.Unlock()

	if fire {
		q.callback()
	}

	return nil
}

func (q *fakeQueue) consumeAllLocked() bool {
	consumed := false
	remaining := q.pending[:0]
	for _, buffer := range q.pending {
		if !buffer.outbound {
			remaining = append(remaining, buffer)
			continue
		}

		payload := make([]byte, len(buffer.buf))
		copy(payload, buffer.buf)
		q.consumed = append(q.consumed, payload)
		q.used = append(q.used, fakeUsed{token: buffer.token})
		consumed = true
	}
	q.pending = remaining

	return consumed
}

// consumeOne consumes the oldest pending outbound buffer the way the host
// would, returning a copy of its payload, or nil when none is pending
func (q *fakeQueue) consumeOne() []byte {
	q.mutex.Lock()
	var payload []byte
	for i, buffer := range q.pending {
		if !buffer.outbound {
			continue
		}

		payload = make([]byte, len(buffer.buf))
		copy(payload, buffer.buf)
		q.consumed = append(q.consumed, payload)
		q.used = append(q.used, fakeUsed{token: buffer.token})
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		break
	}
	q.mutex.Unlock()

	if payload != nil {
		q.callback()
	}

	return payload
}

// deliver writes data into the oldest pending inbound buffer the way the
// host would, completing it
func (q *fakeQueue) deliver(data []byte) bool {
	q.mutex.Lock()
	delivered := false
	for i, buffer := range q.pending {
		if buffer.outbound {
			continue
		}

		written := copy(buffer.buf, data)
		q.used = append(q.used, fakeUsed{token: buffer.token, written: written})
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		delivered = true
		break
	}
	q.mutex.Unlock()

	if delivered {
		q.callback()
	}

	return delivered
}

func (q *fakeQueue) Get() (any, int, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.used) == 0 {
		return nil, 0, false
	}

	used := q.used[0]
	q.used = q.used[1:]

	return used.token, used.written, true
}

func (q *fakeQueue) Broken() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.broken
}

// breakNow fails the queue and fires its callback one last time, the way a
// transport reports a dead queue
func (q *fakeQueue) breakNow() {
	q.mutex.Lock()
	q.broken = true
	q.mutex.Unlock()

	q.callback()
}

func (q *fakeQueue) payloads() [][]byte {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return append([][]byte{}, q.consumed...)
}

func (q *fakeQueue) pendingOutbound() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	count := 0
	for _, buffer := range q.pending {
		if buffer.outbound {
			count++
		}
	}

	return count
}

func (q *fakeQueue) pendingInbound() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	count := 0
	for _, buffer := range q.pending {
		if !buffer.outbound {
			count++
		}
	}

	return count
}

// fakeTransport is an in-process balloon device: a negotiated feature set,
// an eight byte configuration space, and fake virtqueues. The statistics
// queue never auto-acknowledges, since a real host only consumes the
// statistics buffer when it polls.
type fakeTransport struct {
	features uint64
	manual   bool

	mutex  sync.Mutex
	config [virtio.ConfigSize]byte
	queues map[string]*fakeQueue
	finds  int
}

var _ virtio.Transport = &fakeTransport{}

func newFakeTransport(features ...virtio.Feature) *fakeTransport {
	transport := &fakeTransport{queues: map[string]*fakeQueue{}}
	for _, feature := range features {
		transport.features |= uint64(1) << feature
	}

	return transport
}

func (t *fakeTransport) HasFeature(feature virtio.Feature) bool {
	return t.features&(uint64(1)<<feature) != 0
}

func (t *fakeTransport) ReadConfig(offset int, buf []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if offset < 0 || offset+len(buf) > len(t.config) {
		return errors.Newf("config read of %d bytes at offset %d is out of range", len(buf), offset)
	}
	copy(buf, t.config[offset:])

	return nil
}

func (t *fakeTransport) WriteConfig(offset int, buf []byte) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if offset < 0 || offset+len(buf) > len(t.config) {
		return errors.Newf("config write of %d bytes at offset %d is out of range", len(buf), offset)
	}
	copy(t.config[offset:], buf)

	return nil
}

func (t *fakeTransport) FindQueues(names []string, callbacks []virtio.QueueCallback) ([]virtio.Queue, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.finds++
	queues := make([]virtio.Queue, len(names))
	for i, name := range names {
		queue := &fakeQueue{
			name:     name,
			callback: callbacks[i],
			autoAck:  !t.manual && name != virtio.QueueStats,
		}
		t.queues[name] = queue
		queues[i] = queue
	}

	return queues, nil
}

// The configuration space is a little-endian target page count followed by a
// little-endian actual page count.

func (t *fakeTransport) setTarget(pages uint32) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	binary.LittleEndian.PutUint32(t.config[0:], pages)
}

func (t *fakeTransport) actual() uint32 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return binary.LittleEndian.Uint32(t.config[4:])
}

func (t *fakeTransport) queue(name string) *fakeQueue {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.queues[name]
}

func (t *fakeTransport) findCalls() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.finds
}

// fakePageSource hands out ascending page frame numbers, or a scripted
// sequence, and records every release
type fakePageSource struct {
	pageSize uint64

	mutex   sync.Mutex
	next    uint64
	script  []uint64
	failAt  map[int]bool
	calls   int
	granted int
	freed   []uint64
	managed int64
}

var _ PageSource = &fakePageSource{}

func newFakePageSource(pageSize uint64) *fakePageSource {
	return &fakePageSource{pageSize: pageSize}
}

func (s *fakePageSource) AllocatePage() (uint64, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	call := s.calls
	s.calls++
	if s.failAt[call] {
		return 0, errors.New("the guest has no free page to give")
	}

	var pfn uint64
	if s.script != nil {
		if s.granted >= len(s.script) {
			return 0, errors.New("the guest has no free page to give")
		}
		pfn = s.script[s.granted]
	} else {
		pfn = s.next
		s.next++
	}
	s.granted++

	return pfn, nil
}

func (s *fakePageSource) FreePage(pfn uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.freed = append(s.freed, pfn)
}

func (s *fakePageSource) PageSize() uint64 { return s.pageSize }

func (s *fakePageSource) AdjustManaged(delta int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.managed += delta
}

func (s *fakePageSource) setScript(pfns []uint64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.script = pfns
}

func (s *fakePageSource) failAllocation(call int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.failAt == nil {
		s.failAt = map[int]bool{}
	}
	s.failAt[call] = true
}

func (s *fakePageSource) allocations() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.granted
}

func (s *fakePageSource) freedPages() []uint64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return append([]uint64{}, s.freed...)
}

func (s *fakePageSource) managedDelta() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.managed
}

type fakeStatsSource struct {
	mutex  sync.Mutex
	sample MemorySample
	err    error
}

var _ StatsSource = &fakeStatsSource{}

func (s *fakeStatsSource) Sample() (MemorySample, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.sample, s.err
}

func (s *fakeStatsSource) setSample(sample MemorySample) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sample = sample
}

type freeRange struct {
	pfn   uint64
	pages uint64
}

type fakeFreeRanges struct {
	ranges []freeRange
	err    error
}

var _ FreeRangeSource = &fakeFreeRanges{}

func (f *fakeFreeRanges) VisitFreeRanges(visit func(pfn, pages uint64) error) error {
	for _, r := range f.ranges {
		err := visit(r.pfn, r.pages)
		if err != nil {
			return err
		}
	}

	return f.err
}

// fakePressureSource records the registered handler so tests can fire it
type fakePressureSource struct {
	mutex        sync.Mutex
	priority     int
	handler      func() uint64
	unregistered bool
}

var _ PressureSource = &fakePressureSource{}

func (p *fakePressureSource) Register(priority int, handler func() uint64) (func(), error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.priority = priority
	p.handler = handler

	return func() {
		p.mutex.Lock()
		defer p.mutex.Unlock()
		p.unregistered = true
	}, nil
}

func (p *fakePressureSource) fire() uint64 {
	p.mutex.Lock()
	handler := p.handler
	p.mutex.Unlock()

	return handler()
}

func (p *fakePressureSource) isUnregistered() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.unregistered
}

type DeviceSetup struct {
	Features    []virtio.Feature
	PageSize    uint64
	TargetPages uint32
	ManualAck   bool
	Options     CreateOptions
}

func readyDevice(t *testing.T, setup DeviceSetup) (*fakeTransport, *fakePageSource, *Device) {
	transport := newFakeTransport(setup.Features...)
	transport.manual = setup.ManualAck
	transport.setTarget(setup.TargetPages)

	pageSize := setup.PageSize
	if pageSize == 0 {
		pageSize = virtio.DevicePageSize
	}
	source := newFakePageSource(pageSize)

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	device, err := New(logger, transport, source, setup.Options)
	require.NoError(t, err)

	return transport, source, device
}

func waitForSize(t *testing.T, device *Device, pages uint64) {
	require.Eventually(t, func() bool { return device.SizePages() == pages },
		2*time.Second, 5*time.Millisecond)
}

func waitForOutbound(t *testing.T, queue *fakeQueue, count int) {
	require.Eventually(t, func() bool { return queue.pendingOutbound() == count },
		2*time.Second, 5*time.Millisecond)
}

// decodePFNArray unpacks a flat little-endian page frame payload
func decodePFNArray(t *testing.T, payload []byte) []uint32 {
	require.Zero(t, len(payload)%4)

	pfns := make([]uint32, len(payload)/4)
	for i := range pfns {
		pfns[i] = binary.LittleEndian.Uint32(payload[i*4:])
	}

	return pfns
}

func decodeChunkPayload(t *testing.T, payload []byte) []memwire.Chunk {
	chunks, err := memwire.ParseChunks(payload, virtio.DevicePageShift, virtio.DevicePageShift)
	require.NoError(t, err)

	return chunks
}
