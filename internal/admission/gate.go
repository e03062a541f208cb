// Package admission implements a counting gate: it bounds the number of
// session handlers that may proceed to reading client requests to a fixed
// maximum concurrency. This is golang.org/x/sync/semaphore.Weighted
// rather than a hand-rolled mutex+condvar+counter.
package admission

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds concurrent sessions to a fixed capacity.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64
}

// New builds a gate with the given number of permits.
func New(capacity int64) *Gate {
	return &Gate{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Acquire blocks until a slot is available or ctx is done (e.g. process
// shutdown).
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryAcquire attempts to acquire a slot without blocking.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release returns a slot to the gate, unblocking a waiter if any.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Capacity returns the configured number of permits.
func (g *Gate) Capacity() int64 {
	return g.capacity
}
