package pending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/hanpama/graphcache/internal/algebra"
	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/taskqueue"
)

// Network sends a query and returns the response payload.
type Network interface {
	SendQuery(ctx context.Context, q *query.Root) (map[string]any, error)
}

// NetworkFunc adapts a function to Network.
type NetworkFunc func(ctx context.Context, q *query.Root) (map[string]any, error)

func (f NetworkFunc) SendQuery(ctx context.Context, q *query.Root) (map[string]any, error) {
	return f(ctx, q)
}

// WriteFunc merges a response payload for q into the store.
type WriteFunc func(ctx context.Context, q *query.Root, payload map[string]any) error

// ErrEmptyResponse is returned for a network response without data.
var ErrEmptyResponse = errors.New("pending: empty response")

type fetchNode struct {
	fetch *Fetch
	// remainder is what this fetch sent; later fetches subtract it.
	remainder    *query.Root
	dependencies map[FetchID]struct{}
	dependents   []FetchID
	// ownDone is set once the remainder was written or failed.
	ownDone   bool
	ownMerged bool
	err       error
}

// Tracker owns the pending fetches of one store.
type Tracker struct {
	network Network
	queue   *taskqueue.Queue
	write   WriteFunc
	log     *slog.Logger

	mu      sync.Mutex
	nextID  FetchID
	nodes   map[FetchID]*fetchNode
	pending []FetchID
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// New returns a Tracker sending queries through network and writing their
// responses with write as tasks on queue.
func New(network Network, queue *taskqueue.Queue, write WriteFunc, opts ...Option) *Tracker {
	t := &Tracker{
		network: network,
		queue:   queue,
		write:   write,
		log:     slog.Default(),
		nodes:   make(map[FetchID]*fetchNode),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Add starts fetching root, sending only what pending fetches do not
// already cover.
func (t *Tracker) Add(ctx context.Context, root *query.Root) *Fetch {
	t.mu.Lock()
	t.nextID++
	n := &fetchNode{
		fetch:        newFetch(t.nextID, root),
		dependencies: make(map[FetchID]struct{}),
	}
	t.nodes[n.fetch.id] = n

	remainder := root
	for _, id := range t.pending {
		if remainder == nil {
			break
		}
		p := t.nodes[id]
		next := remainder
		if algebra.ContainsRootCall(p.remainder, remainder) {
			next = algebra.Subtract(remainder, p.remainder)
		}
		if next != remainder {
			if p.fetch.settled {
				// Failed through one of its own dependencies.
				if n.err == nil {
					n.err = p.fetch.err
				}
			} else {
				p.dependents = append(p.dependents, n.fetch.id)
				n.dependencies[id] = struct{}{}
			}
		}
		remainder = next
	}
	n.remainder = remainder
	n.fetch.remainder = remainder

	if remainder == nil {
		n.ownDone, n.ownMerged = true, true
		t.update(n)
		t.mu.Unlock()
		return n.fetch
	}
	t.pending = append(t.pending, n.fetch.id)
	t.mu.Unlock()

	go t.dispatch(ctx, n.fetch.id, remainder)
	return n.fetch
}

func (t *Tracker) dispatch(ctx context.Context, id FetchID, remainder *query.Root) {
	payload, err := t.network.SendQuery(ctx, remainder)
	if err == nil && payload == nil {
		err = ErrEmptyResponse
	}
	if err != nil {
		t.reject(id, fmt.Errorf("fetch %s: %w", remainder.FieldName, err))
		return
	}
	res := t.queue.Enqueue(ctx, func(ctx context.Context, _ any) (any, error) {
		return nil, t.write(ctx, remainder, payload)
	})
	if _, err := res.Wait(context.WithoutCancel(ctx)); err != nil {
		t.reject(id, fmt.Errorf("write %s: %w", remainder.FieldName, err))
		return
	}
	t.resolve(id)
}

func (t *Tracker) removePending(id FetchID) {
	t.pending = slices.DeleteFunc(t.pending, func(p FetchID) bool { return p == id })
}

func (t *Tracker) resolve(id FetchID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nodes[id]
	if n == nil {
		return
	}
	t.removePending(id)
	n.ownDone, n.ownMerged = true, true
	t.update(n)
}

func (t *Tracker) reject(id FetchID, err error) {
	t.log.Warn("fetch failed", "fetch", id, "err", err)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nodes[id]
	if n == nil {
		return
	}
	t.removePending(id)
	n.ownDone = true
	if n.err == nil {
		n.err = err
	}
	t.update(n)
}

// update settles n when it can. A settled fetch releases its dependents:
// an error is passed on to each of them, and through them to theirs; a
// success drops the edge so they settle once their own dependencies do.
// n leaves the arena once it settled and its own request finished.
// Called with t.mu held.
func (t *Tracker) update(n *fetchNode) {
	if n.fetch.settled {
		if n.ownDone {
			delete(t.nodes, n.fetch.id)
		}
		return
	}
	switch {
	case n.err != nil:
		n.fetch.settle(n.err)
	case n.ownMerged && len(n.dependencies) == 0:
		n.fetch.settle(nil)
	default:
		return
	}
	dependents := n.dependents
	n.dependents = nil
	for _, depID := range dependents {
		d := t.nodes[depID]
		if d == nil {
			continue
		}
		delete(d.dependencies, n.fetch.id)
		if n.err != nil && d.err == nil {
			d.err = n.err
		}
		t.update(d)
	}
	if n.ownDone {
		delete(t.nodes, n.fetch.id)
	}
}

// HasPending reports whether any fetch is still waiting for its own
// response.
func (t *Tracker) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending) > 0
}

// Reset forgets the pending fetches so new queries no longer depend on
// them. Fetches in flight still settle.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = nil
}

// Dispose stops f from covering later queries. Its request is not
// cancelled.
func (t *Tracker) Dispose(f *Fetch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removePending(f.id)
}

// IsResolvable reports whether f's own remainder was written and every
// fetch it depends on is resolvable.
func (t *Tracker) IsResolvable(f *Fetch) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if f.settled {
		return f.err == nil
	}
	return t.resolvable(f.id, map[FetchID]bool{})
}

func (t *Tracker) resolvable(id FetchID, seen map[FetchID]bool) bool {
	n := t.nodes[id]
	if n == nil {
		// Dropped from the arena only after settling with its own data in.
		return true
	}
	if n.err != nil || !n.ownMerged {
		return false
	}
	if seen[id] {
		return true
	}
	seen[id] = true
	for dep := range n.dependencies {
		if !t.resolvable(dep, seen) {
			return false
		}
	}
	return true
}
