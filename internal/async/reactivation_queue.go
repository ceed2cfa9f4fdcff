// Package async carries the in-process work queues that decouple request
// handlers from slow remote panel calls.
package async

import (
	"context"
	"log/slog"
	"sync"
)

// ReactivationHandler processes one queued reseller reactivation.
type ReactivationHandler func(ctx context.Context, resellerID int64) error

// ReactivationQueue buffers reseller ids whose configs should be re-enabled
// out of band. Enqueue never blocks: when the buffer is full the caller falls
// back to running the reactivation inline.
type ReactivationQueue struct {
	tasks   chan int64
	handler ReactivationHandler
	logger  *slog.Logger
	workers int

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewReactivationQueue constructs a queue with the given buffer and worker
// count. The handler is bound at Start time to avoid a construction cycle
// with the enforcer.
func NewReactivationQueue(buffer, workers int, logger *slog.Logger) *ReactivationQueue {
	if buffer <= 0 {
		buffer = 64
	}
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReactivationQueue{
		tasks:   make(chan int64, buffer),
		logger:  logger,
		workers: workers,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (q *ReactivationQueue) Start(ctx context.Context, handler ReactivationHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.handler = handler

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.run(ctx)
	}
	q.logger.Info("reactivation queue started", "workers", q.workers, "buffer", cap(q.tasks))
}

// Stop cancels the workers and waits for in-flight tasks to finish.
func (q *ReactivationQueue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	cancel := q.cancel
	q.mu.Unlock()

	cancel()
	q.wg.Wait()
	q.logger.Info("reactivation queue stopped")
}

// Enqueue offers a reseller id to the queue without blocking. It reports
// whether the task was accepted; a false return means the caller should run
// the reactivation inline.
func (q *ReactivationQueue) Enqueue(resellerID int64) bool {
	q.mu.Lock()
	started := q.started
	q.mu.Unlock()
	if !started {
		return false
	}
	select {
	case q.tasks <- resellerID:
		return true
	default:
		q.logger.Warn("reactivation queue full, falling back to inline", "reseller_id", resellerID)
		return false
	}
}

// Depth returns the number of buffered tasks.
func (q *ReactivationQueue) Depth() int {
	return len(q.tasks)
}

func (q *ReactivationQueue) run(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-q.tasks:
			if err := q.handler(ctx, id); err != nil {
				q.logger.Error("queued reactivation failed", "reseller_id", id, "error", err)
			}
		}
	}
}
