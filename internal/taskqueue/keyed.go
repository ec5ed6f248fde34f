// Package taskqueue provides a keyed concurrency limiter: at most one task
// runs at a time per key, while tasks under different keys proceed
// independently. Slots are created lazily and reclaimed when the last
// waiter for a key leaves.
package taskqueue

import (
	"context"
	"sync"
)

// Keyed serializes work per key with concurrency 1.
type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

// New creates an empty keyed queue.
func New() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Run executes fn under the key's slot, waiting for any in-flight task with
// the same key to finish first. If ctx is cancelled while waiting, fn never
// runs and the context error is returned. fn's own error is returned
// unchanged.
func (q *Keyed) Run(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	s := q.acquire(key)
	defer q.release(key)

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	return fn(ctx)
}

// Waiting reports how many callers currently hold or await the key's slot.
// Intended for tests and introspection.
func (q *Keyed) Waiting(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.slots[key]; ok {
		return s.refs
	}
	return 0
}

func (q *Keyed) acquire(key string) *slot {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		q.slots[key] = s
	}
	s.refs++
	return s
}

func (q *Keyed) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.slots[key]
	if !ok {
		return
	}
	s.refs--
	if s.refs == 0 {
		delete(q.slots, key)
	}
}
