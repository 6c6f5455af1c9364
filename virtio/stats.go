package virtio

import "fmt"

// StatTag identifies one entry in a statistics transfer. Tags are fixed by
// the device contract; unknown tags must be ignored by the host.
type StatTag uint16

const (
	StatSwapIn          StatTag = 0
	StatSwapOut         StatTag = 1
	StatMajorFaults     StatTag = 2
	StatMinorFaults     StatTag = 3
	StatFreeMemory      StatTag = 4
	StatTotalMemory     StatTag = 5
	StatAvailableMemory StatTag = 6

	// StatCount is the number of defined statistics tags
	StatCount = 7
)

// StatEntrySize is the encoded size of one statistics entry: a 16-bit tag
// followed immediately by a 64-bit value, with no padding between them
const StatEntrySize = 10

var statTagMapping = map[StatTag]string{
	StatSwapIn:          "StatSwapIn",
	StatSwapOut:         "StatSwapOut",
	StatMajorFaults:     "StatMajorFaults",
	StatMinorFaults:     "StatMinorFaults",
	StatFreeMemory:      "StatFreeMemory",
	StatTotalMemory:     "StatTotalMemory",
	StatAvailableMemory: "StatAvailableMemory",
}

func (t StatTag) String() string {
	name, ok := statTagMapping[t]
	if !ok {
		return fmt.Sprintf("StatTag(%d)", uint16(t))
	}

	return name
}
