package xfer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// operation is one queued call against the transport.
type operation struct {
	name string
	ctx  context.Context

	// exec runs the call, settles the caller's result and returns the error
	// it settled with.
	exec func(t Transport) error

	// abort settles the caller's result with err without running the call.
	abort func(err error)
}

// dispatchQueue feeds operations, in submission order, to the single
// goroutine that owns a connected transport.
type dispatchQueue struct {
	mu       sync.Mutex
	ops      []*operation
	closed   bool
	closeErr error

	wake chan struct{}
	done chan struct{}

	// lastActive is the UnixNano time the last operation finished.
	lastActive atomic.Int64
	busy       atomic.Bool
}

func newDispatchQueue() *dispatchQueue {
	q := &dispatchQueue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	q.touch()
	return q
}

// push appends op. On a closed queue op is aborted with the close error.
func (q *dispatchQueue) push(op *operation) {
	q.mu.Lock()
	if q.closed {
		err := q.closeErr
		q.mu.Unlock()
		op.abort(err)
		return
	}
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	q.signal()
}

// close stops the queue and aborts every operation not yet dispatched. The
// operation in flight, if any, runs to completion; wait for done to know
// when it has.
func (q *dispatchQueue) close(err error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.closeErr = err
	pending := q.ops
	q.ops = nil
	q.mu.Unlock()

	for _, op := range pending {
		op.abort(err)
	}
	q.signal()
}

// idle reports whether nothing is queued or in flight.
func (q *dispatchQueue) idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops) == 0 && !q.busy.Load()
}

func (q *dispatchQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *dispatchQueue) next() (*operation, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		if len(q.ops) > 0 {
			op := q.ops[0]
			q.ops[0] = nil
			q.ops = q.ops[1:]
			q.busy.Store(true)
			q.mu.Unlock()
			return op, true
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *dispatchQueue) touch() {
	q.lastActive.Store(time.Now().UnixNano())
}

func (q *dispatchQueue) idleFor() time.Duration {
	return time.Since(time.Unix(0, q.lastActive.Load()))
}

// run dispatches operations to t until the queue is closed. Operations
// whose context ended while they waited are skipped. When an operation
// fails because the link is gone, onLost is called from this goroutine and
// must close the queue without waiting for done.
func (q *dispatchQueue) run(t Transport, onLost func(error)) {
	defer close(q.done)

	for {
		op, ok := q.next()
		if !ok {
			return
		}
		if err := op.ctx.Err(); err != nil {
			q.busy.Store(false)
			op.abort(err)
			continue
		}

		err := op.exec(t)
		q.busy.Store(false)
		q.touch()
		if isConnectionLost(err) {
			onLost(err)
		}
	}
}
