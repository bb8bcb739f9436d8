// Package chanq wraps a buffered channel in the non-blocking queue surface,
// serving as the baseline the lock-free implementation is measured against.
package chanq

// ChanQueue is a bounded queue backed by a buffered channel. Enqueue is safe
// for concurrent producers; TryDequeue, TryPeek and Clear are single consumer
// only because of the peek stash.
type ChanQueue[T any] struct {
	ch chan *T
	// peeked holds an item pulled off the channel by TryPeek but not yet
	// handed out by TryDequeue. Only the consumer touches it.
	peeked *T
}

func New[T any](capacity uint64) *ChanQueue[T] {
	// Enforce minimum capacity of 1 to ensure proper bounded buffer semantics.
	// A zero-capacity Go channel is an unbuffered synchronization primitive,
	// not a zero-capacity buffer, which would cause unexpected behavior.
	if capacity < 1 {
		capacity = 1
	}
	return &ChanQueue[T]{
		ch: make(chan *T, capacity),
	}
}

// TryEnqueue adds an item, returning false if the channel buffer is full or
// the item is nil (nil is reserved to mean "no item").
func (q *ChanQueue[T]) TryEnqueue(item *T) bool {
	if item == nil {
		return false
	}
	select {
	case q.ch <- item:
		return true
	default:
		return false
	}
}

// TryDequeue removes and returns the oldest item, or (nil, false) if empty.
func (q *ChanQueue[T]) TryDequeue() (*T, bool) {
	if q.peeked != nil {
		item := q.peeked
		q.peeked = nil
		return item, true
	}
	select {
	case item := <-q.ch:
		return item, true
	default:
		return nil, false
	}
}

// TryPeek returns the oldest item without removing it. Channels cannot be
// read non-destructively, so the item is pulled into the stash and served
// from there until the next TryDequeue.
func (q *ChanQueue[T]) TryPeek() (*T, bool) {
	if q.peeked != nil {
		return q.peeked, true
	}
	select {
	case item := <-q.ch:
		q.peeked = item
		return item, true
	default:
		return nil, false
	}
}

func (q *ChanQueue[T]) IsEmpty() bool {
	return q.peeked == nil && len(q.ch) == 0
}

func (q *ChanQueue[T]) Count() uint64 {
	n := uint64(len(q.ch))
	if q.peeked != nil {
		n++
	}
	return n
}

func (q *ChanQueue[T]) Capacity() uint64 {
	return uint64(cap(q.ch))
}

// Clear drains the channel and the stash.
func (q *ChanQueue[T]) Clear() {
	q.peeked = nil
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
