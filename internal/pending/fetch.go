package pending

import (
	"context"

	"github.com/hanpama/graphcache/internal/query"
)

// FetchID identifies a fetch within its Tracker.
type FetchID uint64

// Fetch is the future of a query added to a Tracker.
type Fetch struct {
	id        FetchID
	query     *query.Root
	remainder *query.Root

	done    chan struct{}
	settled bool
	err     error
}

func newFetch(id FetchID, q *query.Root) *Fetch {
	return &Fetch{id: id, query: q, done: make(chan struct{})}
}

// settle must be called with the tracker lock held.
func (f *Fetch) settle(err error) {
	if f.settled {
		return
	}
	f.settled = true
	f.err = err
	close(f.done)
}

func (f *Fetch) ID() FetchID { return f.id }

// Query is the query passed to Add.
func (f *Fetch) Query() *query.Root { return f.query }

// Remainder is the part of the query that was sent, nil when pending
// fetches covered all of it.
func (f *Fetch) Remainder() *query.Root { return f.remainder }

// Done is closed once the fetch settled.
func (f *Fetch) Done() <-chan struct{} { return f.done }

// Wait blocks until the fetch settled or ctx is done.
func (f *Fetch) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the error the fetch settled with, nil before it settled.
func (f *Fetch) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}
