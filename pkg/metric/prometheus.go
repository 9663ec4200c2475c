package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes the pipeline health snapshot as Prometheus metrics.
// Registered once at startup and served from the admin /metrics endpoint.
type Collector struct {
	health *PipelineHealth
	buffer *RingBuffer

	writtenDesc     *prometheus.Desc
	droppedDesc     *prometheus.Desc
	writeErrorsDesc *prometheus.Desc
	latencyDesc     *prometheus.Desc
	usageDesc       *prometheus.Desc
	bufDroppedDesc  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector over the given health monitor and buffer.
func NewCollector(health *PipelineHealth, buffer *RingBuffer) *Collector {
	return &Collector{
		health: health,
		buffer: buffer,
		writtenDesc: prometheus.NewDesc(
			"warden_metric_events_written_total",
			"Metric events successfully persisted by the writer.", nil, nil),
		droppedDesc: prometheus.NewDesc(
			"warden_metric_events_dropped_total",
			"Metric events dropped on buffer overflow.", nil, nil),
		writeErrorsDesc: prometheus.NewDesc(
			"warden_metric_write_errors_total",
			"Failed batch inserts (batches discarded).", nil, nil),
		latencyDesc: prometheus.NewDesc(
			"warden_metric_write_latency_ms",
			"Latency of the most recent batch insert.", nil, nil),
		usageDesc: prometheus.NewDesc(
			"warden_metric_buffer_usage_percent",
			"Ring buffer fill level.", nil, nil),
		bufDroppedDesc: prometheus.NewDesc(
			"warden_metric_buffer_dropped_total",
			"Publishes rejected by the ring buffer since construction.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.writtenDesc
	ch <- c.droppedDesc
	ch <- c.writeErrorsDesc
	ch <- c.latencyDesc
	ch <- c.usageDesc
	ch <- c.bufDroppedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.health.Snapshot()
	ch <- prometheus.MustNewConstMetric(c.writtenDesc, prometheus.CounterValue, float64(snap.WrittenTotal))
	ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(snap.DroppedTotal))
	ch <- prometheus.MustNewConstMetric(c.writeErrorsDesc, prometheus.CounterValue, float64(snap.WriteErrorsTotal))
	ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, float64(snap.WriteLatencyMs))
	ch <- prometheus.MustNewConstMetric(c.usageDesc, prometheus.GaugeValue, c.buffer.UsagePercent())
	ch <- prometheus.MustNewConstMetric(c.bufDroppedDesc, prometheus.CounterValue, float64(c.buffer.DroppedCount()))
}
