package testbench

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyle-labs/go-mpsc/internal/queue"
)

// Config describes the concurrency shape of a run. The consumer side is
// always a single goroutine; only the producer count varies.
type Config struct {
	NumProducers int
}

// RunTimedTest spawns NumProducers producers and exactly one consumer that
// run for the specified duration, measuring how many messages are actually
// enqueued/dequeued in that window. Once the context expires, producers stop
// and the consumer drains any remaining messages in the queue.
// Returns the total messages enqueued, total consumed, and the actual elapsed time.
func RunTimedTest[T any, Q queue.TryQueue[T]](
	q Q,
	cfg Config,
	testDuration time.Duration,
	valueGenerator func(int) *T,
) (producedCount int64, consumedCount int64, elapsed time.Duration) {

	// Create a context that will cancel after testDuration.
	ctx, cancel := context.WithTimeout(context.Background(), testDuration)
	defer cancel()

	var totalProduced atomic.Int64
	var totalConsumed atomic.Int64

	start := time.Now()

	var msgIndex atomic.Int64

	// productionDone is set once the test window closes.
	var productionDone atomic.Bool
	go func() {
		<-ctx.Done()
		productionDone.Store(true)
	}()

	// Spawn producers. TryEnqueue fails when the queue is full, so a full
	// queue is backpressure: yield and retry while the window is open.
	var producers errgroup.Group
	for i := 0; i < cfg.NumProducers; i++ {
		producers.Go(func() error {
			for !productionDone.Load() {
				idx := msgIndex.Add(1) - 1
				msg := valueGenerator(int(idx))
				for !q.TryEnqueue(msg) {
					if productionDone.Load() {
						return nil
					}
					runtime.Gosched()
				}
				totalProduced.Add(1)
			}
			return nil
		})
	}

	// The single consumer. When production is done it drains whatever is
	// left and exits.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for {
			if productionDone.Load() {
				for {
					if _, ok := q.TryDequeue(); ok {
						totalConsumed.Add(1)
					} else {
						break
					}
				}
				return
			}
			if _, ok := q.TryDequeue(); ok {
				totalConsumed.Add(1)
			} else {
				runtime.Gosched()
			}
		}
	}()

	// Wait for the window to close, then for producers to finish.
	<-ctx.Done()
	producers.Wait()

	// Let the consumer observe productionDone and finish its drain. A second
	// short drain catches items published between its last check and the
	// producers' exit.
	<-consumerDone
	for {
		if _, ok := q.TryDequeue(); ok {
			totalConsumed.Add(1)
		} else {
			break
		}
	}

	elapsed = time.Since(start)
	producedCount = totalProduced.Load()
	consumedCount = totalConsumed.Load()
	return producedCount, consumedCount, elapsed
}
