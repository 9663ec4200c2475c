package metric

import (
	"math"
	"sync/atomic"
)

// PipelineHealth tracks writer throughput and buffer pressure with atomic
// counters. Safe for concurrent use from producers, the writer, and the
// admin health endpoint.
type PipelineHealth struct {
	writtenTotal     atomic.Int64
	droppedTotal     atomic.Int64
	writeErrorsTotal atomic.Int64
	writeLatencyMs   atomic.Int64
	bufferUsageBits  atomic.Uint64 // float64 gauge stored as bits
}

// HealthSnapshot is a consistent point-in-time copy of the counters.
type HealthSnapshot struct {
	WrittenTotal       int64   `json:"written_total"`
	DroppedTotal       int64   `json:"dropped_total"`
	WriteErrorsTotal   int64   `json:"write_errors_total"`
	WriteLatencyMs     int64   `json:"write_latency_ms"`
	BufferUsagePercent float64 `json:"buffer_usage_percent"`
}

// NewPipelineHealth creates a zeroed health monitor.
func NewPipelineHealth() *PipelineHealth {
	return &PipelineHealth{}
}

// RecordWrite counts a successful batch insert and its latency.
func (h *PipelineHealth) RecordWrite(count int, latencyMs int64) {
	h.writtenTotal.Add(int64(count))
	h.writeLatencyMs.Store(latencyMs)
}

// RecordDrop counts events rejected by the ring buffer.
func (h *PipelineHealth) RecordDrop(count int) {
	h.droppedTotal.Add(int64(count))
}

// RecordWriteError counts a failed batch insert.
func (h *PipelineHealth) RecordWriteError() {
	h.writeErrorsTotal.Add(1)
}

// UpdateBufferUsage stores the latest buffer fill percentage.
func (h *PipelineHealth) UpdateBufferUsage(pct float64) {
	h.bufferUsageBits.Store(math.Float64bits(pct))
}

// Snapshot returns a point-in-time copy of all counters.
func (h *PipelineHealth) Snapshot() HealthSnapshot {
	return HealthSnapshot{
		WrittenTotal:       h.writtenTotal.Load(),
		DroppedTotal:       h.droppedTotal.Load(),
		WriteErrorsTotal:   h.writeErrorsTotal.Load(),
		WriteLatencyMs:     h.writeLatencyMs.Load(),
		BufferUsagePercent: math.Float64frombits(h.bufferUsageBits.Load()),
	}
}
