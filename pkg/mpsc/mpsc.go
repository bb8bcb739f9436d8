// Package mpsc provides a bounded, lock-free multi-producer/single-consumer
// queue backed by a circular buffer of pointer slots.
//
// TryEnqueue is safe to call from any number of goroutines. TryDequeue,
// TryPeek and Clear must only ever be called from a single consumer
// goroutine; this contract is not checked on the hot path. IsEmpty and
// Count may be called from any goroutine.
package mpsc

import (
	"runtime"
	"sync/atomic"
)

const (
	// spinIterations is how long a contended producer or a consumer waiting
	// on an in-flight publication spins before yielding to the scheduler.
	spinIterations = 100

	// slotPad is the number of guard slots placed before the first and after
	// the last real slot, so the ring's edges never share a cache line with
	// neighboring allocations (64 bytes / 8-byte pointer slots).
	slotPad = 8
)

// Queue is a bounded, lock-free MPSC FIFO queue of *T items.
// nil marks an empty slot, so nil items cannot be enqueued.
type Queue[T any] struct {
	_pad0    [8]uint64
	slots    []atomic.Pointer[T]
	mask     uint64 // capacity - 1 (capacity is a power of 2)
	capacity uint64
	_pad1    [8]uint64
	head     atomic.Uint64 // next index the consumer will read; consumer-written only
	_pad2    [8]uint64
	tail     atomic.Uint64 // next index a producer will claim; CAS-advanced only
	_pad3    [8]uint64
}

// New creates a queue with the requested capacity rounded up to the next
// power of two. Requests of 2 or less (including non-positive values) yield
// the minimum capacity of 2.
func New[T any](capacity int) *Queue[T] {
	c := ceilToPowerOfTwo(capacity)
	return &Queue[T]{
		slots:    make([]atomic.Pointer[T], c+2*slotPad),
		mask:     c - 1,
		capacity: c,
	}
}

// ceilToPowerOfTwo returns the smallest power of two >= n, with a floor of 2.
func ceilToPowerOfTwo(n int) uint64 {
	if n <= 2 {
		return 2
	}
	c := uint64(1)
	for c < uint64(n) {
		c <<= 1
	}
	return c
}

// slot maps a logical index to its physical slot, offset past the leading
// guard slots.
func (q *Queue[T]) slot(pos uint64) *atomic.Pointer[T] {
	return &q.slots[slotPad+(pos&q.mask)]
}

// spinWait performs a short tight loop and then yields, so losing a CAS race
// or waiting out a publication gap never blocks the thread.
func spinWait() {
	for i := 0; i < spinIterations; i++ {
	}
	runtime.Gosched()
}

// TryEnqueue inserts an item. It returns false if the queue is full or the
// item is nil; it never blocks. The capacity check uses a snapshot of head
// and tail, so under a concurrent dequeue it may conservatively report full;
// callers that care can simply retry.
func (q *Queue[T]) TryEnqueue(item *T) bool {
	if item == nil {
		// nil is the empty-slot sentinel; accepting it would leave the
		// claimed index permanently unpublished and stall the consumer.
		return false
	}
	for {
		tail := q.tail.Load()
		head := q.head.Load()
		if tail-head >= q.capacity {
			return false
		}
		if q.tail.CompareAndSwap(tail, tail+1) {
			// Index claimed exclusively; publish. Until this store lands the
			// consumer treats the slot as empty and waits.
			q.slot(tail).Store(item)
			return true
		}
		spinWait()
	}
}

// TryDequeue removes and returns the oldest item, or (nil, false) if the
// queue is empty. Single consumer only.
//
// A slot whose index has been claimed but whose item is not yet published
// reads as empty while head != tail; in that window the consumer spins until
// the owning producer's store lands. A producer that dies between claim and
// publish stalls the queue at that index permanently.
func (q *Queue[T]) TryDequeue() (*T, bool) {
	pos := q.head.Load()
	s := q.slot(pos)
	for {
		if item := s.Load(); item != nil {
			s.Store(nil)
			q.head.Store(pos + 1)
			return item, true
		}
		if q.tail.Load() == pos {
			return nil, false
		}
		spinWait()
	}
}

// TryPeek returns the oldest item without removing it, or (nil, false) if
// the queue is empty. Single consumer only. Two peeks with no dequeue in
// between return the same item.
func (q *Queue[T]) TryPeek() (*T, bool) {
	pos := q.head.Load()
	s := q.slot(pos)
	for {
		if item := s.Load(); item != nil {
			return item, true
		}
		if q.tail.Load() == pos {
			return nil, false
		}
		spinWait()
	}
}

// IsEmpty reports whether the queue was empty at the instant of the check.
// The answer can be stale immediately under concurrent producers.
func (q *Queue[T]) IsEmpty() bool {
	return q.head.Load() == q.tail.Load()
}

// Count returns the number of items in the queue from a coherent head/tail
// snapshot. It rereads head until it observes the same value on both sides
// of the tail read, guarding against the consumer advancing mid-read.
func (q *Queue[T]) Count() uint64 {
	for {
		head := q.head.Load()
		tail := q.tail.Load()
		if q.head.Load() == head {
			return tail - head
		}
	}
}

// Capacity returns the fixed capacity of the queue.
func (q *Queue[T]) Capacity() uint64 {
	return q.capacity
}

// Clear drains the queue until it reports empty. It is not atomic with
// respect to concurrent producers: items enqueued while Clear runs may or
// may not be removed, and the drain can keep going for as long as producers
// outpace it.
func (q *Queue[T]) Clear() {
	for {
		_, ok := q.TryDequeue()
		if !ok && q.IsEmpty() {
			return
		}
	}
}
