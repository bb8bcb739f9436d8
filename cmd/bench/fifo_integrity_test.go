package main

import (
	"os"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hyle-labs/go-mpsc/internal/testbench"
)

// =============================================================================
// Test Configuration Helpers
// =============================================================================

// getEnvInt reads an integer from an environment variable with a default value.
func getEnvInt(name string, defaultVal int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i > 0 {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable with a default value.
func getEnvBool(name string, defaultVal bool) bool {
	if v := os.Getenv(name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// Test size configuration via environment variables:
//   FIFO_TEST_SIZE      - Default size for normal tests (default: 10000)
//   FIFO_STRESS_SIZE    - Size for stress tests (default: 100000)
//   FIFO_ENABLE_STRESS  - Enable large stress tests (default: false)
//   FIFO_CONCURRENCY    - Number of concurrent producers (default: 50)

func getTestSize() int {
	return getEnvInt("FIFO_TEST_SIZE", 10000)
}

func getStressSize() int {
	return getEnvInt("FIFO_STRESS_SIZE", 100000)
}

func stressTestsEnabled() bool {
	return getEnvBool("FIFO_ENABLE_STRESS", false)
}

func getConcurrency() int {
	return getEnvInt("FIFO_CONCURRENCY", 50)
}

// =============================================================================
// FIFO Ordering Tests
// =============================================================================

// TestStrictFIFOOrderingSingleProducer validates exact FIFO ordering with a
// single producer and the single consumer, verifying pointer identity.
func TestStrictFIFOOrderingSingleProducer(t *testing.T) {
	withAllQueues(t, []string{"FIFO"}, func(t *testing.T, impl Implementation[int, testQueue]) {
		q := impl.newQueue(1024)
		wd := newWatchdog(t, "StrictFIFOOrderingSingleProducer")
		wd.Start()
		defer wd.Stop()

		testSize := getTestSize()

		pointers := make([]*int, testSize)
		for i := 0; i < testSize; i++ {
			p := new(int)
			*p = i
			pointers[i] = p
		}

		// Producer runs in its own goroutine so backpressure from a full
		// queue does not deadlock the consumer below.
		done := make(chan struct{})
		go func() {
			for i := 0; i < testSize; i++ {
				mustEnqueue(q, pointers[i])
				wd.Progress()
			}
			close(done)
		}()

		for i := 0; i < testSize; i++ {
			got := mustDequeue(q)
			wd.Progress()

			if got != pointers[i] {
				t.Fatalf("FIFO violation at index %d: expected pointer %p, got %p", i, pointers[i], got)
			}
			if *got != i {
				t.Fatalf("Value corruption at index %d: expected %d, got %d", i, i, *got)
			}
		}

		<-done

		if q.Count() != 0 {
			t.Fatalf("Queue not empty after test: Count=%d", q.Count())
		}
	})
}

// TestStrictFIFOOrderingWithWrapAround validates FIFO ordering across many
// wrap-around cycles of the ring buffer.
func TestStrictFIFOOrderingWithWrapAround(t *testing.T) {
	withAllQueues(t, []string{"FIFO"}, func(t *testing.T, impl Implementation[int, testQueue]) {
		const capacity = 64 // Small capacity to force many wrap-arounds
		q := impl.newQueue(capacity)
		wd := newWatchdog(t, "StrictFIFOOrderingWithWrapAround")
		wd.Start()
		defer wd.Stop()

		testSize := getTestSize()
		t.Logf("Testing %d items with capacity %d (~%d wrap-arounds)", testSize, capacity, testSize/capacity)

		pointers := make([]*int, testSize)
		for i := 0; i < testSize; i++ {
			p := new(int)
			*p = i
			pointers[i] = p
		}

		done := make(chan struct{})
		go func() {
			for i := 0; i < testSize; i++ {
				mustEnqueue(q, pointers[i])
				wd.Progress()
			}
			close(done)
		}()

		for i := 0; i < testSize; i++ {
			got := mustDequeue(q)
			wd.Progress()

			if got != pointers[i] {
				t.Fatalf("FIFO violation at index %d (wrap-around test): expected pointer %p (value %d), got %p (value %d)",
					i, pointers[i], *pointers[i], got, *got)
			}
		}

		<-done

		if q.Count() != 0 {
			t.Fatalf("Queue not empty after wrap-around test: Count=%d", q.Count())
		}
	})
}

// TestFIFOOrderingConcurrentProducers tests ordering when multiple producers
// feed the single consumer. Within each producer's stream, the order the
// producers claimed slots must be preserved.
func TestFIFOOrderingConcurrentProducers(t *testing.T) {
	withAllQueues(t, []string{"FIFO", "MPSC"}, func(t *testing.T, impl Implementation[int, testQueue]) {
		q := impl.newQueue(1024)
		wd := newWatchdog(t, "FIFOOrderingConcurrentProducers")
		wd.Start()
		defer wd.Stop()

		numProducers := getConcurrency()
		itemsPerProducer := getTestSize() / numProducers
		totalItems := numProducers * itemsPerProducer

		lastSeen := make([]int64, numProducers)
		for i := range lastSeen {
			lastSeen[i] = -1
		}

		// Encoding: value = producerID * 1_000_000 + localSeq
		var prodWg sync.WaitGroup
		prodWg.Add(numProducers)
		for p := 0; p < numProducers; p++ {
			go func(producerID int) {
				defer prodWg.Done()
				for seq := 0; seq < itemsPerProducer; seq++ {
					val := new(int)
					*val = producerID*1_000_000 + seq
					mustEnqueue(q, val)
					wd.Progress()
				}
			}(p)
		}

		// The single consumer verifies per-producer FIFO. No mutex needed:
		// only this goroutine touches lastSeen.
		receivedCount := 0
		for receivedCount < totalItems {
			val, ok := q.TryDequeue()
			if !ok {
				runtime.Gosched()
				continue
			}
			wd.Progress()

			producerID := *val / 1_000_000
			localSeq := int64(*val % 1_000_000)

			if producerID < 0 || producerID >= numProducers {
				t.Fatalf("Invalid producer ID decoded: %d from value %d", producerID, *val)
			}
			if localSeq <= lastSeen[producerID] {
				t.Fatalf("FIFO violation for producer %d: received seq %d after %d",
					producerID, localSeq, lastSeen[producerID])
			}
			lastSeen[producerID] = localSeq

			receivedCount++
		}

		prodWg.Wait()

		for p := 0; p < numProducers; p++ {
			expectedLast := int64(itemsPerProducer - 1)
			if lastSeen[p] != expectedLast {
				t.Errorf("Producer %d: expected final seq %d, got %d", p, expectedLast, lastSeen[p])
			}
		}
	})
}

// =============================================================================
// Completeness / No Lost Messages Tests
// =============================================================================

// TestNoLostMessagesConcurrentProducers tracks every enqueued pointer and
// checks each arrives at the consumer exactly once under backpressure.
func TestNoLostMessagesConcurrentProducers(t *testing.T) {
	withAllQueues(t, []string{"MPSC"}, func(t *testing.T, impl Implementation[int, testQueue]) {
		q := impl.newQueue(512)
		wd := newWatchdog(t, "NoLostMessagesConcurrentProducers")
		wd.Start()
		defer wd.Stop()

		numProducers := getConcurrency()
		itemsPerProducer := getTestSize() / numProducers
		totalItems := numProducers * itemsPerProducer

		var enqueuedMu sync.Mutex
		enqueued := make(map[*int]int, totalItems)

		var prodWg sync.WaitGroup
		prodWg.Add(numProducers)
		for p := 0; p < numProducers; p++ {
			go func(producerID int) {
				defer prodWg.Done()
				for i := 0; i < itemsPerProducer; i++ {
					ptr := new(int)
					*ptr = producerID*itemsPerProducer + i

					enqueuedMu.Lock()
					enqueued[ptr] = *ptr
					enqueuedMu.Unlock()

					mustEnqueue(q, ptr)
					wd.Progress()
				}
			}(p)
		}

		dequeued := make(map[*int]int, totalItems)
		for len(dequeued) < totalItems {
			ptr, ok := q.TryDequeue()
			if !ok {
				runtime.Gosched()
				continue
			}
			wd.Progress()

			if _, exists := dequeued[ptr]; exists {
				t.Fatalf("Duplicate dequeue of pointer %p (value %d)", ptr, *ptr)
			}
			dequeued[ptr] = *ptr
		}

		prodWg.Wait()

		enqueuedMu.Lock()
		defer enqueuedMu.Unlock()

		missing := 0
		for p, val := range enqueued {
			if _, found := dequeued[p]; !found {
				missing++
				if missing <= 10 {
					t.Errorf("Lost message: pointer %p (value %d)", p, val)
				}
			}
		}
		unexpected := 0
		for p := range dequeued {
			if _, found := enqueued[p]; !found {
				unexpected++
				if unexpected <= 10 {
					t.Errorf("Unexpected pointer: %p (value %d)", p, *p)
				}
			}
		}
		if missing > 0 || unexpected > 0 {
			t.Fatalf("Completeness failure: %d missing, %d unexpected (enqueued: %d, dequeued: %d)",
				missing, unexpected, len(enqueued), len(dequeued))
		}
	})
}

// TestNoLostMessagesStress is an optional large-scale completeness test.
func TestNoLostMessagesStress(t *testing.T) {
	if !stressTestsEnabled() {
		t.Skip("Stress tests disabled. Set FIFO_ENABLE_STRESS=true to enable.")
	}

	withAllQueues(t, []string{"MPSC"}, func(t *testing.T, impl Implementation[int, testQueue]) {
		q := impl.newQueue(4096)
		wd := newWatchdog(t, "NoLostMessagesStress")
		wd.Start()
		defer wd.Stop()

		stressSize := getStressSize()
		numProducers := runtime.NumCPU()
		itemsPerProducer := stressSize / numProducers
		totalItems := numProducers * itemsPerProducer

		t.Logf("Stress test: %d items, %d producers, 1 consumer", totalItems, numProducers)

		received := make([]bool, totalItems)

		var prodWg sync.WaitGroup
		prodWg.Add(numProducers)
		for p := 0; p < numProducers; p++ {
			go func(producerID int) {
				defer prodWg.Done()
				baseIdx := producerID * itemsPerProducer
				for i := 0; i < itemsPerProducer; i++ {
					ptr := new(int)
					*ptr = baseIdx + i
					mustEnqueue(q, ptr)
					if i%10000 == 0 {
						wd.Progress()
					}
				}
			}(p)
		}

		consumed := 0
		for consumed < totalItems {
			ptr, ok := q.TryDequeue()
			if !ok {
				runtime.Gosched()
				continue
			}
			idx := *ptr
			if idx < 0 || idx >= totalItems {
				t.Fatalf("Invalid index received: %d", idx)
			}
			if received[idx] {
				t.Fatalf("Duplicate message received: index %d", idx)
			}
			received[idx] = true
			consumed++
			if consumed%10000 == 0 {
				wd.Progress()
			}
		}

		prodWg.Wait()

		for i := 0; i < totalItems; i++ {
			if !received[i] {
				t.Fatalf("Missing item at index %d", i)
			}
		}
		t.Logf("Stress test passed: %d items transferred correctly", totalItems)
	})
}

// =============================================================================
// Near-Boundary Contention Tests
// =============================================================================

// TestContentionOnNearFullQueue hammers the claim path right at the capacity
// boundary: many producers race for the few free slots while the consumer
// frees them.
func TestContentionOnNearFullQueue(t *testing.T) {
	withAllQueues(t, []string{"MPSC"}, func(t *testing.T, impl Implementation[int, testQueue]) {
		const capacity = 64
		const numProducers = 20
		const itemsPerProducer = 500
		const totalItems = numProducers * itemsPerProducer

		q := impl.newQueue(capacity)
		wd := newWatchdog(t, "ContentionOnNearFullQueue")
		wd.Start()
		defer wd.Stop()

		// Keep the queue nearly full the whole run.
		for i := 0; i < capacity-1; i++ {
			val := -1 - i // filler values, distinguishable from produced ones
			mustEnqueue(q, &val)
		}

		var prodWg sync.WaitGroup
		prodWg.Add(numProducers)
		for p := 0; p < numProducers; p++ {
			go func(producerID int) {
				defer prodWg.Done()
				for i := 0; i < itemsPerProducer; i++ {
					val := new(int)
					*val = producerID*itemsPerProducer + i
					mustEnqueue(q, val)
					wd.Progress()
				}
			}(p)
		}

		consumed := 0
		want := totalItems + capacity - 1
		for consumed < want {
			if _, ok := q.TryDequeue(); ok {
				consumed++
				wd.Progress()
			} else {
				runtime.Gosched()
			}
		}

		prodWg.Wait()

		if !q.IsEmpty() {
			t.Fatalf("Queue not empty after drain, Count=%d", q.Count())
		}
		if consumed != want {
			t.Fatalf("Consumed %d items, expected %d", consumed, want)
		}
	})
}

// =============================================================================
// Timed Harness Tests
// =============================================================================

// TestTimedHarnessConservation runs the real bench harness briefly and checks
// the produced/consumed accounting balances.
func TestTimedHarnessConservation(t *testing.T) {
	withAllQueues(t, []string{"MPSC"}, func(t *testing.T, impl Implementation[int, testQueue]) {
		q := impl.newQueue(1024)

		produced, consumed, elapsed := testbench.RunTimedTest(
			q,
			testbench.Config{NumProducers: 4},
			200*time.Millisecond,
			func(i int) *int {
				v := i
				return &v
			},
		)

		if produced == 0 {
			t.Fatal("Harness produced no messages")
		}
		if consumed != produced {
			t.Fatalf("Conservation violated: produced=%d, consumed=%d", produced, consumed)
		}
		if elapsed < 200*time.Millisecond {
			t.Fatalf("Elapsed %v shorter than the run window", elapsed)
		}
		if !q.IsEmpty() {
			t.Fatalf("Queue not empty after harness drain, Count=%d", q.Count())
		}
	})
}
