package model

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Guard grants exclusive use of a [Resource]. At most one [Lease] is
// outstanding at any time. Waiters are admitted in an unspecified order.
type Guard struct {
	res     Resource
	sem     *semaphore.Weighted
	waiting atomic.Int64
	held    atomic.Bool
}

// NewGuard wraps res.
func NewGuard(res Resource) *Guard {
	return &Guard{res: res, sem: semaphore.NewWeighted(1)}
}

// Acquire blocks until the resource is free or ctx is done.
func (g *Guard) Acquire(ctx context.Context) (*Lease, error) {
	g.waiting.Add(1)
	err := g.sem.Acquire(ctx, 1)
	g.waiting.Add(-1)
	if err != nil {
		return nil, err
	}
	g.held.Store(true)
	return &Lease{g: g}, nil
}

// TryAcquire returns a lease only if the resource is free right now.
func (g *Guard) TryAcquire() (*Lease, bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	g.held.Store(true)
	return &Lease{g: g}, true
}

// Busy reports whether a lease is currently outstanding.
func (g *Guard) Busy() bool { return g.held.Load() }

// Waiting returns the number of callers blocked in Acquire.
func (g *Guard) Waiting() int { return int(g.waiting.Load()) }

// Lease is exclusive access to the guarded resource. Release it exactly once;
// extra calls are no-ops.
type Lease struct {
	g    *Guard
	once sync.Once
}

// Resource returns the guarded model. It must not be used after Release.
func (l *Lease) Resource() Resource { return l.g.res }

// Release returns the resource to the guard.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.g.held.Store(false)
		l.g.sem.Release(1)
	})
}
