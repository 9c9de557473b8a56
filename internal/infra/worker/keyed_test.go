//go:build !integration

package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestPool(t *testing.T, workers int) (*Pool, func()) {
	t.Helper()
	logger := zerolog.Nop()
	pool := NewPool(workers, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	return pool, func() {
		cancel()
		pool.Stop()
	}
}

func TestKeyedExecutorSerializesPerKey(t *testing.T) {
	pool, stop := newTestPool(t, 4)
	defer stop()
	exec := NewKeyedExecutor(pool)

	var inFlight int32
	var maxInFlight int32
	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		err := exec.Submit("job-1", func(ctx context.Context) {
			defer wg.Done()
			n := atomic.AddInt32(&inFlight, 1)
			if n > atomic.LoadInt32(&maxInFlight) {
				atomic.StoreInt32(&maxInFlight, n)
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&inFlight, -1)
		})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("tasks for one key overlapped: max in flight %d", maxInFlight)
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("FIFO order violated at %d: got %d", i, got)
		}
	}
}

func TestKeyedExecutorDistinctKeysRunConcurrently(t *testing.T) {
	pool, stop := newTestPool(t, 8)
	defer stop()
	exec := NewKeyedExecutor(pool)

	const n = 8
	var wg sync.WaitGroup
	gate := make(chan struct{})
	var waiting int32

	for i := 0; i < n; i++ {
		key := string(rune('a' + i))
		wg.Add(1)
		_ = exec.Submit(key, func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt32(&waiting, 1)
			<-gate
		})
	}

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&waiting) < n {
		select {
		case <-deadline:
			t.Fatalf("only %d/%d keys running concurrently", atomic.LoadInt32(&waiting), n)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(gate)
	wg.Wait()
}
