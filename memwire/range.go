package memwire

import "math"

// PFNRange accumulates the inclusive bounds of the device page frame numbers
// touched while collecting a batch, so a tile window can later be positioned
// over them
type PFNRange struct {
	Min uint64
	Max uint64
}

// Reset empties the range
func (r *PFNRange) Reset() {
	r.Min = math.MaxUint64
	r.Max = 0
}

// Add widens the range to include pfn
func (r *PFNRange) Add(pfn uint64) {
	if pfn < r.Min {
		r.Min = pfn
	}
	if pfn > r.Max {
		r.Max = pfn
	}
}

// Empty returns true when no page frame number has been added since the last
// Reset
func (r *PFNRange) Empty() bool {
	return r.Min > r.Max
}

// Span is the number of page bits needed to cover the range, with the bounds
// widened to 64-bit word boundaries. Walking a word-aligned span lets the
// bitmap scan work whole words without masking at the edges.
func (r *PFNRange) Span() (start, end uint64) {
	if r.Empty() {
		return 0, 0
	}

	return AlignDown(r.Min, 64), AlignUp(r.Max+1, 64)
}
