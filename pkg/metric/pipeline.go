package metric

import (
	"context"
)

// Pipeline bundles the ring buffer, health monitor, and batching writer
// into the single Publish surface the rest of the platform sees. A refused
// publish shows up both on the buffer's own dropped counter and on the
// health monitor, so the admin health endpoint reflects producer-side loss
// without polling every buffer.
type Pipeline struct {
	buffer *RingBuffer
	health *PipelineHealth
	writer *Writer
}

// PipelineConfig sizes the buffer and the writer behind a pipeline.
type PipelineConfig struct {
	BufferCapacity int
	Writer         WriterConfig
}

// NewPipeline wires a buffer, health monitor, and writer together. store is
// the batch-insert target; calc may be nil to disable cost enrichment.
func NewPipeline(store EventStore, calc CostCalculator, cfg PipelineConfig) *Pipeline {
	buffer := NewRingBuffer(cfg.BufferCapacity)
	health := NewPipelineHealth()
	return &Pipeline{
		buffer: buffer,
		health: health,
		writer: NewWriter(buffer, store, calc, health, cfg.Writer),
	}
}

// Publish offers an event to the buffer; drops are counted on the health
// monitor. Never blocks.
func (p *Pipeline) Publish(ev Event) bool {
	if p.buffer.Publish(ev) {
		return true
	}
	p.health.RecordDrop(1)
	return false
}

// Start launches the writer's flush loops.
func (p *Pipeline) Start(ctx context.Context) {
	p.writer.Start(ctx)
}

// Stop drains and stops the writer. Idempotent.
func (p *Pipeline) Stop() {
	p.writer.Stop()
}

// Health returns a point-in-time snapshot with the current buffer usage
// folded in.
func (p *Pipeline) Health() HealthSnapshot {
	p.health.UpdateBufferUsage(p.buffer.UsagePercent())
	return p.health.Snapshot()
}

// Buffer exposes the underlying ring buffer for tests and metrics export.
func (p *Pipeline) Buffer() *RingBuffer { return p.buffer }

// Collector returns a prometheus collector over this pipeline's counters.
func (p *Pipeline) Collector() *Collector { return NewCollector(p.health, p.buffer) }
