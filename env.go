package balloon

// PageSource supplies the guest pages the balloon captures and releases. In a
// real guest this fronts the page allocator; tests substitute an in-memory
// implementation. All page frame numbers are in guest pages, which may be
// larger than device pages.
type PageSource interface {
	// AllocatePage removes one free page from the guest and returns its page
	// frame number. The page stays captured until FreePage returns it.
	AllocatePage() (uint64, error)

	// FreePage returns a previously captured page to the guest
	FreePage(pfn uint64)

	// PageSize is the guest page size in bytes. It must be a power of two no
	// smaller than the device page size.
	PageSize() uint64

	// AdjustManaged shifts the guest's managed-page accounting by delta guest
	// pages. The balloon calls this as pages move in and out so the guest
	// does not count captured pages as reclaimable.
	AdjustManaged(delta int64)
}

// StatsSource samples the guest's memory counters for the statistics queue.
// Sizes are page counts and fault figures are cumulative event counts, in the
// units the guest kernel keeps them.
type StatsSource interface {
	Sample() (MemorySample, error)
}

// MemorySample is one snapshot of the guest's memory counters
type MemorySample struct {
	SwappedInPages  uint64
	SwappedOutPages uint64
	MajorFaults     uint64
	MinorFaults     uint64
	FreePages       uint64
	TotalPages      uint64
	AvailablePages  uint64
}

// FreeRangeSource enumerates the guest pages that are currently free, for
// answering the host's unused-page inquiries. The snapshot is advisory: pages
// may be allocated while the walk is in progress, and the host is expected to
// revalidate anything it acts on.
type FreeRangeSource interface {
	// VisitFreeRanges calls visit once per run of free guest pages. The walk
	// stops at the first error visit returns.
	VisitFreeRanges(visit func(pfn, pages uint64) error) error
}

// PressureSource invokes a registered handler when the guest runs critically
// short of memory. The handler returns the number of guest pages it released.
// Higher-priority handlers run first when several are registered.
type PressureSource interface {
	// Register installs handler and returns a function that removes the
	// registration again
	Register(priority int, handler func() uint64) (unregister func(), err error)
}
