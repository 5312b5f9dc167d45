package metric

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/meshstore/internal/storage"
)

// StatsCollector samples engine statistics on every scrape.
type StatsCollector struct {
	stats func() storage.Stats

	records      *prometheus.Desc
	nextSeq      *prometheus.Desc
	segments     *prometheus.Desc
	diskBytes    *prometheus.Desc
	dataBytes    *prometheus.Desc
	liveBytes    *prometheus.Desc
	deferred     *prometheus.Desc
	minLiveRatio *prometheus.Desc
}

// NewStatsCollector creates a collector over a stats source, usually
// (*storage.Engine).Stats.
func NewStatsCollector(stats func() storage.Stats) *StatsCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &StatsCollector{
		stats:        stats,
		records:      desc("records", "Live identifiers in the index."),
		nextSeq:      desc("next_sequence", "Sequence number the next write will get."),
		segments:     desc("segments", "Segment files by state.", "state"),
		diskBytes:    desc("disk_bytes", "Summed size of all segment files."),
		dataBytes:    desc("data_bytes", "Record bytes written to all segments."),
		liveBytes:    desc("live_bytes", "Record bytes still referenced by the index."),
		deferred:     desc("deferred_removals", "Compacted segments waiting for open scans."),
		minLiveRatio: desc("sealed_min_live_ratio", "Lowest live fraction among sealed segments."),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.records
	ch <- c.nextSeq
	ch <- c.segments
	ch <- c.diskBytes
	ch <- c.dataBytes
	ch <- c.liveBytes
	ch <- c.deferred
	ch <- c.minLiveRatio
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	gauge(c.records, float64(st.Records))
	gauge(c.nextSeq, float64(st.NextSeq))
	gauge(c.segments, float64(st.SealedSegments), "sealed")
	active := 0.0
	if st.ActiveSegmentID != 0 {
		active = 1
	}
	gauge(c.segments, active, "active")
	gauge(c.diskBytes, float64(st.DiskBytes))
	gauge(c.dataBytes, float64(st.DataBytes))
	gauge(c.liveBytes, float64(st.LiveBytes))
	gauge(c.deferred, float64(st.DeferredRemovals))

	minRatio := 1.0
	for _, s := range st.Segments {
		if s.Sealed && s.LiveRatio < minRatio {
			minRatio = s.LiveRatio
		}
	}
	gauge(c.minLiveRatio, minRatio)
}
