package balloon

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/guestmem/balloon/memwire"
)

// pageLedger tracks the guest pages the balloon currently holds, in capture
// order with the newest last. Release pops from the tail so the most
// recently captured pages go back first, and the index lets relocation find
// an arbitrary page without a scan.
type pageLedger struct {
	pfns  []uint64
	index *swiss.Map[uint64, int]
}

var _ memwire.Validatable = &pageLedger{}

func (l *pageLedger) Init() {
	l.index = swiss.NewMap[uint64, int](64)
}

func (l *pageLedger) Len() int {
	return len(l.pfns)
}

// Tail returns a view of the n most recently captured pages, oldest first.
// The view aliases the ledger and is invalidated by the next mutation.
func (l *pageLedger) Tail(n int) []uint64 {
	return l.pfns[len(l.pfns)-n:]
}

// From returns a view of the pages captured at or after position from
func (l *pageLedger) From(from int) []uint64 {
	return l.pfns[from:]
}

func (l *pageLedger) Contains(pfn uint64) bool {
	_, ok := l.index.Get(pfn)
	return ok
}

func (l *pageLedger) Push(pfn uint64) {
	if _, ok := l.index.Get(pfn); ok {
		panic(fmt.Sprintf("attempted to capture page %d, which the balloon already holds", pfn))
	}

	l.index.Put(pfn, len(l.pfns))
	l.pfns = append(l.pfns, pfn)
}

func (l *pageLedger) Pop() (uint64, bool) {
	if len(l.pfns) == 0 {
		return 0, false
	}

	pfn := l.pfns[len(l.pfns)-1]
	l.pfns = l.pfns[:len(l.pfns)-1]
	l.index.Delete(pfn)

	return pfn, true
}

// Replace substitutes newPFN into oldPFN's position, preserving capture
// order. Used when a captured page is relocated.
func (l *pageLedger) Replace(oldPFN, newPFN uint64) {
	position, ok := l.index.Get(oldPFN)
	if !ok {
		panic(fmt.Sprintf("attempted to replace page %d, which the balloon does not hold", oldPFN))
	}
	if _, ok = l.index.Get(newPFN); ok {
		panic(fmt.Sprintf("attempted to replace page %d with page %d, which the balloon already holds", oldPFN, newPFN))
	}

	l.pfns[position] = newPFN
	l.index.Delete(oldPFN)
	l.index.Put(newPFN, position)
}

func (l *pageLedger) Validate() error {
	if l.index.Count() != len(l.pfns) {
		return errors.Newf("the ledger index holds %d pages but the ledger holds %d", l.index.Count(), len(l.pfns))
	}

	for position, pfn := range l.pfns {
		indexed, ok := l.index.Get(pfn)
		if !ok {
			return errors.Newf("page %d is in the ledger but not its index", pfn)
		}
		if indexed != position {
			return errors.Newf("page %d is at position %d but indexed at %d", pfn, position, indexed)
		}
	}

	return nil
}
