package taskqueue

import (
	"context"
	"sync"
)

// Result is the outcome of an Enqueue call.
type Result struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newResult() *Result { return &Result{done: make(chan struct{})} }

func (r *Result) settle(value any, err error) {
	r.once.Do(func() {
		r.value, r.err = value, err
		close(r.done)
	})
}

// Done is closed once the chain finished.
func (r *Result) Done() <-chan struct{} { return r.done }

// Wait blocks until the chain finished or ctx is done.
func (r *Result) Wait(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the chain's error once it finished, and nil before.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
