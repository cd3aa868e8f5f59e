// Package future provides a settle-once asynchronous value. It is the
// response mechanism underlying the signaling exchange: the remote
// description, the remote done result, and the cross-instance rendezvous
// are all surfaced as futures.
package future

import (
	"context"
	"sync"
)

// Future holds a value that will be resolved or rejected exactly once.
// The creator keeps the settlement rights; consumers should only use Done
// and Wait. A future that is never settled blocks its waiters until their
// context expires - there is no cancellation of the future itself, the
// enclosing test timeout is the only abandonment mechanism.
type Future[T any] struct {
	mu      sync.Mutex
	settled bool
	doneCh  chan struct{}
	value   T
	err     error
}

// New returns a pending future.
func New[T any]() *Future[T] {
	return &Future[T]{
		doneCh: make(chan struct{}),
	}
}

// Resolve settles the future with a value. It returns false if the future
// was already settled, in which case the call has no effect.
func (f *Future[T]) Resolve(value T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settled {
		return false
	}
	f.value = value
	f.settled = true
	close(f.doneCh)
	return true
}

// Reject settles the future with an error. It returns false if the future
// was already settled, in which case the call has no effect.
func (f *Future[T]) Reject(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settled {
		return false
	}
	f.err = err
	f.settled = true
	close(f.doneCh)
	return true
}

// Done returns a channel that is closed when the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.doneCh
}

// Wait blocks until the future is settled or the context expires. Once the
// future is settled, every current and subsequent call observes the same
// outcome.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.doneCh:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
