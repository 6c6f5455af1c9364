package balloon

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	descSizePages = iota
	descTargetPages
	descCapturedPages
	descInflatedPages
	descDeflatedPages
	descAdvertisements
	descPressureReleases
	descRelocations
	descStatsRefreshes
	descFreeReports
)

var (
	descriptors = []*prometheus.Desc{
		descSizePages: prometheus.NewDesc(
			"balloon_size_device_pages",
			"Current balloon size in device pages.",
			nil,
			nil,
		),
		descTargetPages: prometheus.NewDesc(
			"balloon_target_device_pages",
			"Balloon size the host is asking for, in device pages.",
			nil,
			nil,
		),
		descCapturedPages: prometheus.NewDesc(
			"balloon_captured_guest_pages",
			"Number of guest pages currently held by the balloon.",
			nil,
			nil,
		),
		descInflatedPages: prometheus.NewDesc(
			"balloon_inflated_device_pages_total",
			"Total device pages captured from the guest.",
			nil,
			nil,
		),
		descDeflatedPages: prometheus.NewDesc(
			"balloon_deflated_device_pages_total",
			"Total device pages released back to the guest.",
			nil,
			nil,
		),
		descAdvertisements: prometheus.NewDesc(
			"balloon_advertisements_total",
			"Total page transfers acknowledged by the host.",
			nil,
			nil,
		),
		descPressureReleases: prometheus.NewDesc(
			"balloon_pressure_releases_total",
			"Total memory-pressure events the balloon responded to.",
			nil,
			nil,
		),
		descRelocations: prometheus.NewDesc(
			"balloon_page_relocations_total",
			"Total captured pages moved for the guest's page mover.",
			nil,
			nil,
		),
		descStatsRefreshes: prometheus.NewDesc(
			"balloon_stats_refreshes_total",
			"Total statistics polls answered.",
			nil,
			nil,
		),
		descFreeReports: prometheus.NewDesc(
			"balloon_free_page_reports_total",
			"Total unused-page inquiries answered.",
			nil,
			nil,
		),
	}
)

// Collector exposes a device's size and activity as prometheus metrics
type Collector struct {
	device *Device
}

var _ prometheus.Collector = &Collector{}

// NewCollector creates a prometheus collector reading from device. Register
// it with any prometheus registry; it holds no state of its own.
func NewCollector(device *Device) *Collector {
	return &Collector{device: device}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range descriptors {
		ch <- desc
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counters := c.device.Counters()

	ch <- prometheus.MustNewConstMetric(
		descriptors[descSizePages],
		prometheus.GaugeValue,
		float64(c.device.SizePages()),
	)
	if target, err := c.device.TargetPages(); err == nil {
		ch <- prometheus.MustNewConstMetric(
			descriptors[descTargetPages],
			prometheus.GaugeValue,
			float64(target),
		)
	}
	ch <- prometheus.MustNewConstMetric(
		descriptors[descCapturedPages],
		prometheus.GaugeValue,
		float64(c.device.CapturedPages()),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[descInflatedPages],
		prometheus.CounterValue,
		float64(counters.InflatedPages),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[descDeflatedPages],
		prometheus.CounterValue,
		float64(counters.DeflatedPages),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[descAdvertisements],
		prometheus.CounterValue,
		float64(counters.Advertisements),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[descPressureReleases],
		prometheus.CounterValue,
		float64(counters.PressureReleases),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[descRelocations],
		prometheus.CounterValue,
		float64(counters.Relocations),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[descStatsRefreshes],
		prometheus.CounterValue,
		float64(counters.StatsRefreshes),
	)
	ch <- prometheus.MustNewConstMetric(
		descriptors[descFreeReports],
		prometheus.CounterValue,
		float64(counters.FreeReports),
	)
}
