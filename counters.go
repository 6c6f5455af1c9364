package balloon

// Counters accumulates the lifetime activity of a balloon device. Page
// figures are in device pages.
type Counters struct {
	// InflatedPages is the total number of pages captured from the guest
	InflatedPages uint64
	// DeflatedPages is the total number of pages released back to the guest
	DeflatedPages uint64
	// Advertisements is the number of page transfers acknowledged by the host
	Advertisements uint64
	// PressureReleases is the number of memory-pressure events the balloon
	// responded to
	PressureReleases uint64
	// Relocations is the number of captured pages moved to a new location
	Relocations uint64
	// StatsRefreshes is the number of statistics polls answered
	StatsRefreshes uint64
	// FreeReports is the number of unused-page inquiries answered
	FreeReports uint64
}
