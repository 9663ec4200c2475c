package metric

import (
	"runtime"
	"sync/atomic"
)

// MinBufferCapacity is the smallest ring buffer the constructor will build.
const MinBufferCapacity = 64

// RingBuffer is a bounded multi-producer multi-consumer queue for metric
// events. Publish never blocks: on overflow the event is dropped and counted.
// Drain is called only by the writer.
//
// Three cursors implement the protocol:
//   - writeCursor: next slot to claim (producers CAS it forward)
//   - readyCursor: all slots below it are fully written and visible
//   - readCursor:  next slot the consumer will take
//
// A producer claims slot w by CASing writeCursor w→w+1 (only when the buffer
// has room), stores the event at w&mask, then spins CASing readyCursor w→w+1
// so publication becomes visible in claim order even when producers interleave.
type RingBuffer struct {
	slots    []Event
	mask     int64
	capacity int64

	writeCursor atomic.Int64
	readyCursor atomic.Int64
	readCursor  atomic.Int64
	dropped     atomic.Int64
}

// NewRingBuffer creates a buffer whose capacity is the next power of two
// at or above requested, with a minimum of 64.
func NewRingBuffer(requested int) *RingBuffer {
	capacity := nextPowerOfTwo(requested)
	return &RingBuffer{
		slots:    make([]Event, capacity),
		mask:     int64(capacity - 1),
		capacity: int64(capacity),
	}
}

func nextPowerOfTwo(n int) int {
	capacity := MinBufferCapacity
	for capacity < n {
		capacity <<= 1
	}
	return capacity
}

// Publish offers an event to the buffer. Returns false (and counts the drop)
// when the buffer is full. Safe for concurrent use; never blocks.
func (b *RingBuffer) Publish(ev Event) bool {
	for {
		w := b.writeCursor.Load()
		if w-b.readCursor.Load() >= b.capacity {
			b.dropped.Add(1)
			return false
		}
		if !b.writeCursor.CompareAndSwap(w, w+1) {
			continue // lost the claim race, retry
		}
		b.slots[w&b.mask] = ev
		// Publish in claim order: wait for earlier claims to land first.
		for !b.readyCursor.CompareAndSwap(w, w+1) {
			runtime.Gosched()
		}
		return true
	}
}

// Drain removes and returns up to maxBatch events in publication order.
// Single-consumer: only the writer may call it.
func (b *RingBuffer) Drain(maxBatch int) []Event {
	if maxBatch <= 0 {
		return nil
	}
	ready := b.readyCursor.Load()
	r := b.readCursor.Load()
	n := ready - r
	if n <= 0 {
		return nil
	}
	if int64(maxBatch) < n {
		n = int64(maxBatch)
	}
	out := make([]Event, 0, n)
	for i := int64(0); i < n; i++ {
		idx := (r + i) & b.mask
		out = append(out, b.slots[idx])
		b.slots[idx] = nil // release the payload for GC
	}
	b.readCursor.Store(r + n)
	return out
}

// Size returns the approximate number of buffered events. Non-authoritative
// during concurrent activity.
func (b *RingBuffer) Size() int {
	n := b.readyCursor.Load() - b.readCursor.Load()
	if n < 0 {
		n = 0
	}
	return int(n)
}

// Capacity returns the fixed capacity chosen at construction.
func (b *RingBuffer) Capacity() int { return int(b.capacity) }

// UsagePercent returns a best-effort snapshot of fill level in [0, 100].
func (b *RingBuffer) UsagePercent() float64 {
	return float64(b.Size()) / float64(b.capacity) * 100
}

// DroppedCount returns the cumulative number of rejected publishes.
func (b *RingBuffer) DroppedCount() int64 { return b.dropped.Load() }
