package queue

// TryQueue is a *type constraint* describing the non-blocking MPSC queue
// surface. We never store an implementation in a runtime interface—
// it is only used at compile time to ensure matching signatures.
type TryQueue[T any] interface {
	// TryEnqueue adds an item and returns false if the queue is full
	// or the item is nil. Safe for concurrent producers.
	TryEnqueue(item *T) bool

	// TryDequeue removes and returns the oldest item.
	// Returns (nil, false) when the queue is empty. Single consumer only.
	TryDequeue() (*T, bool)

	// TryPeek returns the oldest item without removing it.
	// Returns (nil, false) when the queue is empty. Single consumer only.
	TryPeek() (*T, bool)

	// IsEmpty reports whether the queue held no items at the moment of the check.
	IsEmpty() bool

	// Count returns how many items are currently queued.
	Count() uint64

	// Capacity returns the fixed number of slots.
	Capacity() uint64

	// Clear drains the queue. Single consumer only.
	Clear()
}
