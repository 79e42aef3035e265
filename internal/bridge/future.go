package bridge

import (
	"context"
	"errors"
	"sync"
)

// HostExecutor runs closures on the host thread. Post returns false when the
// host no longer accepts work.
type HostExecutor interface {
	Post(fn func()) bool
}

// Future is a single-assignment result that can be completed and awaited
// from any goroutine.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// NewFuture creates a pending future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already completed with v.
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v)
	return f
}

// Failed returns a future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Reject(err)
	return f
}

// Resolve completes the future with a value. Only the first completion
// counts; later calls return false.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Reject completes the future with an error.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		err = errors.New("future rejected with nil error")
	}
	var zero T
	return f.complete(zero, err)
}

// Complete resolves or rejects depending on err.
func (f *Future[T]) Complete(v T, err error) bool {
	if err != nil {
		return f.Reject(err)
	}
	return f.Resolve(v)
}

func (f *Future[T]) complete(v T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Done returns a channel closed once the future completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while pending.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// OnDone runs fn on exec once the future completes. If exec refuses the
// closure, fn is dropped.
func (f *Future[T]) OnDone(exec HostExecutor, fn func(T, error)) {
	go func() {
		<-f.done
		exec.Post(func() { fn(f.value, f.err) })
	}()
}

// All completes once every future has completed. It resolves with the
// values in order, or rejects with the joined errors of the failed ones.
func All[T any](futures ...*Future[T]) *Future[[]T] {
	out := NewFuture[[]T]()
	go func() {
		values := make([]T, len(futures))
		var errs []error
		for i, f := range futures {
			<-f.done
			values[i] = f.value
			if f.err != nil {
				errs = append(errs, f.err)
			}
		}
		if len(errs) > 0 {
			out.Reject(errors.Join(errs...))
			return
		}
		out.Resolve(values)
	}()
	return out
}
