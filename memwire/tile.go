package memwire

import (
	"fmt"

	cerrors "github.com/cockroachdb/errors"
)

const (
	// TileBytes is the allocation size of a single window tile
	TileBytes = 32 * 1024
	// TileBits is the number of page bits covered by a single window tile
	TileBits = TileBytes * 8

	tileWords = TileBytes / 8
)

// TileWindow is a bounded bitmap assembled from fixed-size tiles. It
// represents one sliding window over a span of device page frame numbers:
// bit i stands for the page at windowBase+i, with windowBase tracked by the
// caller. Batches wider than the window are covered in multiple passes.
//
// The window always retains at least one tile so the steady state never
// allocates. EnsureSpan grows it on demand up to the tile limit, and
// ShrinkToFirst releases the extra tiles once a wide batch is done.
type TileWindow struct {
	maxTiles int
	tiles    [][]uint64
}

var _ Validatable = &TileWindow{}

// NewTileWindow creates a window holding a single tile, which may grow to
// maxTiles tiles
func NewTileWindow(maxTiles int) *TileWindow {
	if maxTiles < 1 {
		panic(fmt.Sprintf("attempted to create a tile window with an invalid tile limit %d", maxTiles))
	}

	w := &TileWindow{maxTiles: maxTiles}
	w.tiles = append(w.tiles, make([]uint64, tileWords))

	return w
}

// Bits is the current capacity of the window in page bits
func (w *TileWindow) Bits() uint64 {
	return uint64(len(w.tiles)) * TileBits
}

// EnsureSpan grows the window until it covers at least bits page bits, or
// until the tile limit is reached, whichever comes first. Growth is best
// effort: callers must consult Bits afterwards and split their batch into
// passes when the span did not fit.
func (w *TileWindow) EnsureSpan(bits uint64) {
	needed := int(AlignUp(bits, uint64(TileBits)) / TileBits)
	if needed > w.maxTiles {
		needed = w.maxTiles
	}

	for len(w.tiles) < needed {
		w.tiles = append(w.tiles, make([]uint64, tileWords))
	}
}

// ShrinkToFirst discards all tiles beyond the first, returning the window to
// its steady-state footprint
func (w *TileWindow) ShrinkToFirst() {
	if len(w.tiles) > 1 {
		w.tiles = w.tiles[:1:1]
	}
}

// Clear zeroes every bit in the window
func (w *TileWindow) Clear() {
	for _, tile := range w.tiles {
		for i := range tile {
			tile[i] = 0
		}
	}
}

// Set marks the page bit at the provided window offset
func (w *TileWindow) Set(bit uint64) {
	if bit >= w.Bits() {
		panic(fmt.Sprintf("attempted to set bit %d in a window of %d bits", bit, w.Bits()))
	}

	w.tiles[bit/TileBits][(bit%TileBits)/64] |= 1 << (bit % 64)
}

// IsSet reports whether the page bit at the provided window offset is marked
func (w *TileWindow) IsSet(bit uint64) bool {
	if bit >= w.Bits() {
		panic(fmt.Sprintf("attempted to test bit %d in a window of %d bits", bit, w.Bits()))
	}

	return w.tiles[bit/TileBits][(bit%TileBits)/64]&(1<<(bit%64)) != 0
}

// word returns the 64-bit word holding the provided window offset, treating
// the tiles as one contiguous bit vector
func (w *TileWindow) word(bit uint64) uint64 {
	return w.tiles[bit/TileBits][(bit%TileBits)/64]
}

func (w *TileWindow) Validate() error {
	if len(w.tiles) < 1 {
		return cerrors.New("tile window has no tiles")
	}
	if len(w.tiles) > w.maxTiles {
		return cerrors.Newf("tile window has %d tiles, beyond its limit of %d", len(w.tiles), w.maxTiles)
	}
	for i, tile := range w.tiles {
		if len(tile) != tileWords {
			return cerrors.Newf("tile %d has %d words rather than %d", i, len(tile), tileWords)
		}
	}

	return nil
}
