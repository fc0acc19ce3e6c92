package inbox

import (
	"context"
	"sync"

	xerrors "AgentEscrow/internal/errors"
)

// MemoryQueue is a channel-backed queue for single-instance deployments and
// tests.
type MemoryQueue struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue creates an in-memory queue buffering up to size IDs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

func errQueueClosed() error {
	return xerrors.New(xerrors.CodeQueueFailure, "queue is closed")
}

// Publish enqueues a delivery ID. It blocks while the buffer is full and
// fails once the queue is closed.
func (q *MemoryQueue) Publish(ctx context.Context, deliveryID string) error {
	select {
	case <-q.done:
		return errQueueClosed()
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errQueueClosed()
	case q.ch <- deliveryID:
		return nil
	}
}

// Len returns the number of IDs not yet consumed.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// Consume runs workerCount workers until ctx ends or the queue is closed.
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, fn ConsumeFunc) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case id := <-q.ch:
					_ = fn(ctx, id)
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	return ctx.Err()
}

// Close stops the queue. Blocked publishers return an error and consumers
// exit; IDs still buffered are dropped.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
