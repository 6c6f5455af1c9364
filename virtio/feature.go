package virtio

import "fmt"

// Feature identifies one bit position in the device's offered feature set
type Feature uint32

const (
	// FeatureMustTellHost requires the driver to advertise pages and wait for
	// the host's acknowledgement before reusing them
	FeatureMustTellHost Feature = 0
	// FeatureStatsQueue indicates the device supplies a statistics virtqueue
	FeatureStatsQueue Feature = 1
	// FeatureDeflateOnPressure permits the driver to deflate the balloon
	// under memory pressure without raising the host's target
	FeatureDeflateOnPressure Feature = 2
	// FeaturePageChunks switches page advertisement from flat page-frame
	// arrays to run-length chunk records
	FeaturePageChunks Feature = 3
	// FeatureMiscQueue indicates the device supplies a virtqueue for
	// miscellaneous host commands
	FeatureMiscQueue Feature = 4
	// FeatureVersion1 marks a modern device; multi-byte virtqueue fields are
	// little-endian rather than guest-endian
	FeatureVersion1 Feature = 32
)

// DriverFeatures lists the feature bits a balloon driver knows how to
// drive. Transport bindings intersect it with the device's offer during
// negotiation; HasFeature reports the result.
var DriverFeatures = []Feature{
	FeatureMustTellHost,
	FeatureStatsQueue,
	FeatureDeflateOnPressure,
	FeaturePageChunks,
	FeatureMiscQueue,
	FeatureVersion1,
}

var featureMapping = map[Feature]string{
	FeatureMustTellHost:      "FeatureMustTellHost",
	FeatureStatsQueue:        "FeatureStatsQueue",
	FeatureDeflateOnPressure: "FeatureDeflateOnPressure",
	FeaturePageChunks:        "FeaturePageChunks",
	FeatureMiscQueue:         "FeatureMiscQueue",
	FeatureVersion1:          "FeatureVersion1",
}

func (f Feature) String() string {
	name, ok := featureMapping[f]
	if !ok {
		return fmt.Sprintf("Feature(%d)", uint32(f))
	}

	return name
}
