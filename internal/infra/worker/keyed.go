// File: internal/infra/worker/keyed.go
package worker

import (
	"context"
	"sync"

	"ostrid-adapter/internal/domain"
)

// KeyedExecutor serializes tasks per key on top of the bounded pool: tasks
// sharing a key run one at a time in submission order, tasks with distinct
// keys run concurrently up to pool capacity. This is how per-job operations
// are kept from interleaving.
type KeyedExecutor struct {
	pool *Pool

	mu     sync.Mutex
	queues map[string]*keyQueue
}

type keyQueue struct {
	tasks   []func(ctx context.Context)
	running bool
}

func NewKeyedExecutor(pool *Pool) *KeyedExecutor {
	return &KeyedExecutor{pool: pool, queues: make(map[string]*keyQueue)}
}

// Submit appends the task to the key's FIFO queue. The queue is drained by
// at most one pool worker at a time.
func (e *KeyedExecutor) Submit(key string, task func(ctx context.Context)) error {
	e.mu.Lock()
	q, ok := e.queues[key]
	if !ok {
		q = &keyQueue{}
		e.queues[key] = q
	}
	q.tasks = append(q.tasks, task)
	start := !q.running
	if start {
		q.running = true
	}
	e.mu.Unlock()

	if !start {
		return nil
	}
	if err := e.pool.Submit(func(ctx context.Context) error {
		e.drain(ctx, key)
		return nil
	}); err != nil {
		e.mu.Lock()
		q.running = false
		e.mu.Unlock()
		return domain.ErrQueueFull
	}
	return nil
}

func (e *KeyedExecutor) drain(ctx context.Context, key string) {
	for {
		e.mu.Lock()
		q := e.queues[key]
		if q == nil || len(q.tasks) == 0 {
			if q != nil {
				q.running = false
				delete(e.queues, key)
			}
			e.mu.Unlock()
			return
		}
		task := q.tasks[0]
		q.tasks = q.tasks[1:]
		e.mu.Unlock()

		task(ctx)
	}
}
