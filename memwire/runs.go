package memwire

import (
	"fmt"
	"math/bits"
)

// VisitRuns walks the window as one contiguous bit vector and calls visit
// once for each maximal run of set bits below limit, in ascending order.
// Runs cross tile boundaries transparently. The scan stops at the first
// error returned by visit.
func (w *TileWindow) VisitRuns(limit uint64, visit func(offset, length uint64) error) error {
	if limit > w.Bits() {
		panic(fmt.Sprintf("attempted to visit runs up to bit %d in a window of %d bits", limit, w.Bits()))
	}

	for offset := w.nextSet(0, limit); offset < limit; {
		end := w.nextClear(offset+1, limit)

		err := visit(offset, end-offset)
		if err != nil {
			return err
		}

		offset = w.nextSet(end, limit)
	}

	return nil
}

// nextSet returns the offset of the first set bit at or after from, or limit
// when no such bit exists below limit
func (w *TileWindow) nextSet(from, limit uint64) uint64 {
	for from < limit {
		word := w.word(from) >> (from % 64)
		if word != 0 {
			candidate := from + uint64(bits.TrailingZeros64(word))
			if candidate < limit {
				return candidate
			}

			return limit
		}

		from = AlignDown(from, 64) + 64
	}

	return limit
}

// nextClear returns the offset of the first clear bit at or after from, or
// limit when no such bit exists below limit
func (w *TileWindow) nextClear(from, limit uint64) uint64 {
	for from < limit {
		word := ^w.word(from) >> (from % 64)
		if word != 0 {
			candidate := from + uint64(bits.TrailingZeros64(word))
			if candidate < limit {
				return candidate
			}

			return limit
		}

		from = AlignDown(from, 64) + 64
	}

	return limit
}
