package balloon

const (
	// defaultPressureReleasePages is the value that is used as the PressureReleasePages when none
	// is provided via CreateOptions
	defaultPressureReleasePages = 256

	// defaultWindowTiles is the value that is used as the WindowTiles when none is provided via
	// CreateOptions
	defaultWindowTiles = 32

	// pressureCallbackPriority orders the balloon's pressure handler ahead of most others, so
	// the cheap give-back of captured pages is tried before more drastic reclaim
	pressureCallbackPriority = 80
)

// CreateOptions contains optional settings when creating a balloon Device
type CreateOptions struct {
	// PressureReleasePages is the number of device pages to release in one go when the
	// pressure source fires. Releasing happens only on devices that negotiated
	// FeatureDeflateOnPressure.
	PressureReleasePages uint64

	// WindowTiles caps how many bitmap tiles the run-length encoder may hold at once.
	// Wider windows advertise a scattered balloon in fewer passes at the cost of memory.
	WindowTiles int

	// StatsSource samples guest memory counters for the statistics queue. It can be left
	// nil, in which case the device reports zeroes.
	StatsSource StatsSource

	// FreeRanges enumerates free guest memory for the host's unused-page inquiries. It
	// can be left nil, in which case inquiries receive an empty report.
	FreeRanges FreeRangeSource

	// Pressure delivers memory-pressure notifications. It can be left nil, in which case
	// the balloon never deflates on pressure.
	Pressure PressureSource
}
