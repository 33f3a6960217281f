package xfer

import (
	"context"
	"sync"
)

// result is a single-assignment slot for the outcome of an operation. The
// first settle wins; later calls are ignored, so a transport that reports
// completion twice cannot overwrite or duplicate a result.
type result[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func newResult[T any]() *result[T] {
	return &result[T]{done: make(chan struct{})}
}

// settle stores the outcome and reports whether this call was the one that
// settled it.
func (r *result[T]) settle(v T, err error) bool {
	settled := false
	r.once.Do(func() {
		r.value = v
		r.err = err
		close(r.done)
		settled = true
	})
	return settled
}

// wait blocks until the result settles or ctx is done. A done ctx only
// abandons interest; the operation itself still runs to completion.
func (r *result[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-r.done:
		return r.value, r.err
	default:
	}

	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
