package memwire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkBufferRoundTrip(t *testing.T) {
	buffer := NewChunkBuffer(8, 0, 12, 12)

	appended := []Chunk{
		{Base: 0, Pages: 1},
		{Base: 100, Pages: 57},
		{Base: 1 << 40, Pages: 1 << 20},
	}
	for _, chunk := range appended {
		require.False(t, buffer.Append(chunk.Base, chunk.Pages))
	}
	require.Equal(t, 3, buffer.Count())

	payload := buffer.Bytes()
	require.Len(t, payload, 4+3*16)
	require.Equal(t, uint32(3), binary.LittleEndian.Uint32(payload))

	parsed, err := ParseChunks(payload, 12, 12)
	require.NoError(t, err)
	require.Equal(t, appended, parsed)
}

func TestChunkBufferShiftsFields(t *testing.T) {
	buffer := NewChunkBuffer(1, 0, 12, 12)
	buffer.Append(3, 2)

	payload := buffer.Bytes()
	require.Equal(t, uint64(3<<12), binary.LittleEndian.Uint64(payload[4:]))
	require.Equal(t, uint64(2<<12), binary.LittleEndian.Uint64(payload[12:]))
}

func TestChunkBufferFlushCadence(t *testing.T) {
	buffer := NewChunkBuffer(4, 0, 12, 12)

	var flushes []int
	for i := 0; i < 10; i++ {
		if buffer.Append(uint64(i*2), 1) {
			flushes = append(flushes, buffer.Count())
			buffer.Reset()
		}
	}
	if buffer.Count() > 0 {
		flushes = append(flushes, buffer.Count())
		buffer.Reset()
	}

	require.Equal(t, []int{4, 4, 2}, flushes)
}

func TestChunkBufferPrefix(t *testing.T) {
	buffer := NewChunkBuffer(4, 4, 12, 12)

	prefix := buffer.Prefix()
	require.Len(t, prefix, 4)
	binary.LittleEndian.PutUint16(prefix, 5)
	binary.LittleEndian.PutUint16(prefix[2:], 1)

	buffer.Append(10, 3)
	payload := buffer.Bytes()
	require.Equal(t, uint16(5), binary.LittleEndian.Uint16(payload))
	require.Equal(t, uint16(1), binary.LittleEndian.Uint16(payload[2:]))

	parsed, err := ParseChunks(payload[4:], 12, 12)
	require.NoError(t, err)
	require.Equal(t, []Chunk{{Base: 10, Pages: 3}}, parsed)

	// The prefix survives a reset, so it only needs to be written once.
	buffer.Reset()
	require.Equal(t, uint16(5), binary.LittleEndian.Uint16(buffer.Prefix()))
	require.Equal(t, 0, buffer.Count())
}

func TestChunkBufferMisuse(t *testing.T) {
	buffer := NewChunkBuffer(1, 0, 12, 12)
	buffer.Append(1, 1)

	require.Panics(t, func() { buffer.Append(2, 1) })
	require.Panics(t, func() { NewChunkBuffer(0, 0, 12, 12) })
	require.Panics(t, func() {
		empty := NewChunkBuffer(1, 0, 12, 12)
		empty.Append(1, 0)
	})
}

func TestParseChunksMalformed(t *testing.T) {
	_, err := ParseChunks([]byte{1, 2}, 12, 12)
	require.ErrorIs(t, err, MalformedChunksError)

	payload := make([]byte, 4+16)
	binary.LittleEndian.PutUint32(payload, 2)
	_, err = ParseChunks(payload, 12, 12)
	require.ErrorIs(t, err, MalformedChunksError)
}
