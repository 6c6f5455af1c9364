package balloon

import (
	"sort"

	"github.com/guestmem/balloon/virtio"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStateString renders a JSON snapshot of the device for debugging. With
// detailed set it also lists the captured page ranges, which sorts a copy of
// the ledger and can be slow on a large balloon.
func (d *Device) BuildStateString(detailed bool) ([]byte, error) {
	writer := jwriter.NewWriter()
	d.printState(&writer, detailed)

	if writer.Error() != nil {
		return nil, writer.Error()
	}

	return writer.Bytes(), nil
}

func (d *Device) printState(writer *jwriter.Writer, detailed bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	obj := writer.Object()
	defer obj.End()

	obj.Name("SizeDevicePages").Int(int(d.devicePages))
	obj.Name("CapturedGuestPages").Int(d.ledger.Len())
	obj.Name("GuestPageSize").Int(int(d.pageSize))

	target, err := virtio.ReadTargetPages(d.transport)
	if err == nil {
		obj.Name("TargetDevicePages").Int(int(target))
	}

	obj.Name("Broken").Bool(d.broken)

	featuresObj := obj.Name("Features").Object()
	for _, feature := range virtio.DriverFeatures {
		featuresObj.Name(feature.String()).Bool(d.transport.HasFeature(feature))
	}
	featuresObj.End()

	countersObj := obj.Name("Counters").Object()
	countersObj.Name("InflatedPages").Int(int(d.counters.InflatedPages))
	countersObj.Name("DeflatedPages").Int(int(d.counters.DeflatedPages))
	countersObj.Name("Advertisements").Int(int(d.counters.Advertisements))
	countersObj.Name("PressureReleases").Int(int(d.counters.PressureReleases))
	countersObj.Name("Relocations").Int(int(d.counters.Relocations))
	countersObj.Name("StatsRefreshes").Int(int(d.counters.StatsRefreshes))
	countersObj.Name("FreeReports").Int(int(d.counters.FreeReports))
	countersObj.End()

	if detailed {
		d.printCapturedRanges(&obj)
	}
}

func (d *Device) printCapturedRanges(json *jwriter.ObjectState) {
	pfns := make([]uint64, d.ledger.Len())
	copy(pfns, d.ledger.From(0))
	sort.Slice(pfns, func(i, j int) bool { return pfns[i] < pfns[j] })

	ranges := json.Name("CapturedRanges").Array()
	defer ranges.End()

	for start := 0; start < len(pfns); {
		end := start + 1
		for end < len(pfns) && pfns[end] == pfns[end-1]+1 {
			end++
		}

		rangeObj := ranges.Object()
		rangeObj.Name("FirstPage").Int(int(pfns[start]))
		rangeObj.Name("Pages").Int(end - start)
		rangeObj.End()

		start = end
	}
}
