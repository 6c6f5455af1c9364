package memwire

import (
	"encoding/binary"
	"fmt"

	cerrors "github.com/cockroachdb/errors"
)

const (
	// chunkRecordSize is the encoded size of one chunk record: two unsigned
	// 64-bit little-endian fields (base and length)
	chunkRecordSize = 16
	// chunkCountSize is the encoded size of the record-count header that
	// precedes the records
	chunkCountSize = 4
)

// Chunk describes one maximal run of contiguous device pages
type Chunk struct {
	// Base is the device page frame number of the first page in the run
	Base uint64
	// Pages is the length of the run in device pages
	Pages uint64
}

// ChunkBuffer accumulates encoded chunk records into a single preallocated
// payload. The payload layout is prefix bytes (filled by the caller), a
// 32-bit little-endian record count, then the records themselves. Both record
// fields are shifted before encoding so the wire carries byte quantities
// rather than page quantities.
//
// The buffer is allocated once and reused across flushes via Reset.
type ChunkBuffer struct {
	baseShift uint
	sizeShift uint
	prefixLen int
	capacity  int
	count     int
	payload   []byte
}

var _ Validatable = &ChunkBuffer{}

// NewChunkBuffer creates a ChunkBuffer holding at most capacity records,
// with prefixLen bytes reserved ahead of the count header for a
// message-specific header
func NewChunkBuffer(capacity, prefixLen int, baseShift, sizeShift uint) *ChunkBuffer {
	if capacity < 1 {
		panic(fmt.Sprintf("attempted to create a chunk buffer with an invalid capacity %d", capacity))
	}
	if prefixLen < 0 {
		panic(fmt.Sprintf("attempted to create a chunk buffer with a negative prefix length %d", prefixLen))
	}

	return &ChunkBuffer{
		baseShift: baseShift,
		sizeShift: sizeShift,
		prefixLen: prefixLen,
		capacity:  capacity,
		payload:   make([]byte, prefixLen+chunkCountSize+capacity*chunkRecordSize),
	}
}

// Capacity is the maximum number of records the buffer can hold between
// flushes
func (b *ChunkBuffer) Capacity() int { return b.capacity }

// Count is the number of records appended since the last Reset
func (b *ChunkBuffer) Count() int { return b.count }

// Full returns true when no further record can be appended before a flush
func (b *ChunkBuffer) Full() bool { return b.count == b.capacity }

// Reset discards all appended records, retaining the underlying payload
// memory and any prefix bytes the caller has written
func (b *ChunkBuffer) Reset() { b.count = 0 }

// Prefix exposes the reserved prefix bytes for the caller to fill
func (b *ChunkBuffer) Prefix() []byte { return b.payload[:b.prefixLen] }

// Append encodes one run of pages beginning at the device page frame number
// base. It returns true when the buffer has become full and must be flushed
// before the next Append.
func (b *ChunkBuffer) Append(base, pages uint64) bool {
	if b.count >= b.capacity {
		panic("attempted to append to a full chunk buffer")
	}
	if pages == 0 {
		panic("attempted to append a zero-length chunk")
	}

	record := b.payload[b.prefixLen+chunkCountSize+b.count*chunkRecordSize:]
	binary.LittleEndian.PutUint64(record, base<<b.baseShift)
	binary.LittleEndian.PutUint64(record[8:], pages<<b.sizeShift)
	b.count++

	return b.count == b.capacity
}

// Bytes finalizes the payload for transmission: it patches the record count
// header and returns the prefix, header, and appended records as one slice.
// The slice aliases the buffer and is invalidated by the next Append or
// Reset.
func (b *ChunkBuffer) Bytes() []byte {
	binary.LittleEndian.PutUint32(b.payload[b.prefixLen:], uint32(b.count))
	return b.payload[:b.prefixLen+chunkCountSize+b.count*chunkRecordSize]
}

func (b *ChunkBuffer) Validate() error {
	if b.count < 0 || b.count > b.capacity {
		return cerrors.Newf("chunk buffer has a record count %d outside its capacity %d", b.count, b.capacity)
	}
	if len(b.payload) != b.prefixLen+chunkCountSize+b.capacity*chunkRecordSize {
		return cerrors.Newf("chunk buffer payload length %d does not match its capacity %d", len(b.payload), b.capacity)
	}

	return nil
}

// ParseChunks decodes a chunk payload produced by ChunkBuffer.Bytes, with any
// prefix already sliced off. The shifts must match those used to encode.
func ParseChunks(payload []byte, baseShift, sizeShift uint) ([]Chunk, error) {
	if len(payload) < chunkCountSize {
		return nil, cerrors.Wrapf(MalformedChunksError, "payload of %d bytes is too short for a count header", len(payload))
	}

	count := int(binary.LittleEndian.Uint32(payload))
	if len(payload) != chunkCountSize+count*chunkRecordSize {
		return nil, cerrors.Wrapf(MalformedChunksError, "payload of %d bytes does not hold %d records", len(payload), count)
	}

	chunks := make([]Chunk, count)
	for i := 0; i < count; i++ {
		record := payload[chunkCountSize+i*chunkRecordSize:]
		chunks[i] = Chunk{
			Base:  binary.LittleEndian.Uint64(record) >> baseShift,
			Pages: binary.LittleEndian.Uint64(record[8:]) >> sizeShift,
		}
	}

	return chunks, nil
}
