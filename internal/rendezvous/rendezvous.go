// Package rendezvous hands a single asynchronous result to a single waiter.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrTimeout is returned by Wait when the deadline passes before the
// promise completes.
var ErrTimeout = errors.New("timed out")

// Promise is completed at most once by Resolve or Reject. Later completions
// are ignored, so an engine that reports a failure followed by a stray
// success cannot overwrite the first outcome.
type Promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func New[T any]() *Promise[T] {
	return &Promise[T]{done: make(chan struct{})}
}

// Resolve completes the promise with v. It reports whether this call
// completed the promise.
func (p *Promise[T]) Resolve(v T) bool {
	return p.complete(v, nil)
}

// Reject completes the promise with err.
func (p *Promise[T]) Reject(err error) bool {
	var zero T
	return p.complete(zero, err)
}

func (p *Promise[T]) complete(v T, err error) bool {
	completed := false
	p.once.Do(func() {
		p.value, p.err = v, err
		completed = true
		close(p.done)
	})
	return completed
}

// Done is closed once the promise completes.
func (p *Promise[T]) Done() <-chan struct{} { return p.done }

// Wait blocks until the promise completes, ctx ends, or timeout elapses.
// A non-positive timeout waits on ctx alone.
func (p *Promise[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return zero, ctx.Err()
	}
}

// Go runs fn on its own goroutine and returns a promise for its result.
func Go[T any](fn func() (T, error)) *Promise[T] {
	p := New[T]()
	go func() {
		v, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(v)
	}()
	return p
}
