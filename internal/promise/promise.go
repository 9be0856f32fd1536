// Package promise provides a single-assignment result cell.
//
// A Promise starts pending and may be resolved exactly once. Any number of
// goroutines can wait on it; later Resolve calls are reported as no-ops so
// a second resolution never overwrites the first.
package promise

import (
	"context"
	"sync"
)

// Promise holds one value of type T once resolved.
type Promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

// New returns a pending promise.
func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve stores v and wakes all waiters. It returns false if the promise
// was already resolved, in which case v is discarded.
func (p *Promise[T]) Resolve(v T) bool {
	resolved := false
	p.once.Do(func() {
		p.value = v
		close(p.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the promise is resolved.
func (p *Promise[T]) Done() <-chan struct{} {
	return p.done
}

// Resolved reports whether Resolve has succeeded.
func (p *Promise[T]) Resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the promise resolves or ctx ends.
func (p *Promise[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Peek returns the value and true if resolved, or the zero value and false.
func (p *Promise[T]) Peek() (T, bool) {
	select {
	case <-p.done:
		return p.value, true
	default:
		var zero T
		return zero, false
	}
}
