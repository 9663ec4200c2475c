package metric

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WriterConfig controls the batching writer.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	Threads       int
	WriteTimeout  time.Duration
}

// Writer drains the ring buffer on a schedule, enriches token-usage events
// with cost, and batch-inserts into the event store.
//
// Exactly one flush runs at a time regardless of Threads: timer ticks that
// fire while a flush is in progress are skipped (the next tick picks the
// events up). Start and Stop are idempotent; Stop flushes synchronously
// until the buffer is empty after all loops have exited.
type Writer struct {
	buffer *RingBuffer
	store  EventStore
	calc   CostCalculator // may be nil
	health *PipelineHealth
	cfg    WriterConfig

	flushMu sync.Mutex // serializes flushes

	mu      sync.Mutex // guards lifecycle state below
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	logger *slog.Logger
}

// NewWriter creates a writer. calc may be nil to disable cost enrichment.
func NewWriter(buffer *RingBuffer, store EventStore, calc CostCalculator, health *PipelineHealth, cfg WriterConfig) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Writer{
		buffer: buffer,
		store:  store,
		calc:   calc,
		health: health,
		cfg:    cfg,
		logger: slog.With("component", "metric_writer"),
	}
}

// Start launches the recurring flush loops. Calling Start on a running
// writer is a no-op.
func (w *Writer) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.cfg.Threads; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.loop(ctx)
		}()
	}
	w.logger.Info("Metric writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"threads", w.cfg.Threads)
}

// Stop cancels the flush loops, waits for in-flight flushes, then flushes
// batch by batch until the buffer is empty. Events accepted before Stop are
// never abandoned to shutdown. Idempotent.
func (w *Writer) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()

	w.flushMu.Lock()
	for w.flush() > 0 {
	}
	w.flushMu.Unlock()

	w.logger.Info("Metric writer stopped")
}

func (w *Writer) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tryFlush()
		}
	}
}

// tryFlush skips the tick when another flush holds the mutex.
func (w *Writer) tryFlush() {
	if !w.flushMu.TryLock() {
		return
	}
	defer w.flushMu.Unlock()
	w.flush()
}

// flush drains one batch, enriches it, and inserts it, returning the number
// of events drained. Caller holds flushMu. Persistence uses a detached
// timeout context so shutdown cannot abort an in-flight insert of
// already-drained events.
func (w *Writer) flush() int {
	events := w.buffer.Drain(w.cfg.BatchSize)
	w.health.UpdateBufferUsage(w.buffer.UsagePercent())
	if len(events) == 0 {
		return 0
	}

	w.enrich(events)

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := w.store.BatchInsert(ctx, events); err != nil {
		// Batch discarded: the buffer is already drained and re-queueing
		// would risk unbounded growth.
		w.health.RecordWriteError()
		w.logger.Warn("Batch insert failed, discarding batch",
			"count", len(events), "error", err)
		return len(events)
	}
	w.health.RecordWrite(len(events), time.Since(start).Milliseconds())
	return len(events)
}

// enrich fills in estimated cost on token-usage events that arrive without
// one. Calculator failures keep the original event.
func (w *Writer) enrich(events []Event) {
	if w.calc == nil {
		return
	}
	for i, ev := range events {
		usage, ok := ev.(*TokenUsageEvent)
		if !ok || usage.EstimatedCostUSD != 0 {
			continue
		}
		cost, err := w.calc.Calculate(
			usage.Provider, usage.Model, usage.Timestamp,
			usage.PromptTokens, 0, usage.CompletionTokens, 0)
		if err != nil {
			w.logger.Debug("Cost calculation failed, keeping original event",
				"provider", usage.Provider, "model", usage.Model, "error", err)
			continue
		}
		if cost > 0 {
			enriched := *usage
			enriched.EstimatedCostUSD = cost
			events[i] = &enriched
		}
	}
}
