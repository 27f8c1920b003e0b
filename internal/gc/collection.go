package gc

import (
	"context"
	"errors"
	"sync"

	"github.com/hanpama/graphcache/internal/store"
)

// ErrCancelled is the error of a collection stopped by Cancel.
var ErrCancelled = errors.New("gc: collection cancelled")

type phase int

const (
	phaseScan phase = iota
	phaseMark
	phaseSweep
	phaseDone
)

// Collection is one collection pass, advanced by Step.
type Collection struct {
	c *Collector

	// mu is held for a whole step, so Cancel waits for a step boundary.
	mu sync.Mutex

	started    bool
	phase      phase
	scan       []string
	candidates []string
	seen       map[string]struct{}
	worklist   []string
	marked     map[string]struct{}
	next       int
	logs       []*store.ChangeLog

	removed []string
	err     error
	done    chan struct{}
}

func (c *Collector) newCollection(from string) *Collection {
	col := &Collection{c: c, done: make(chan struct{})}
	col.begin(from)
	return col
}

// begin takes the candidates and roots. from is the record to collect
// from, or "" for the whole store.
func (col *Collection) begin(from string) {
	col.mu.Lock()
	defer col.mu.Unlock()
	if col.started || col.phase == phaseDone {
		return
	}
	col.started = true
	col.seen = make(map[string]struct{})
	col.marked = make(map[string]struct{})
	layers := col.c.store.Layers()
	if from == "" {
		for _, m := range layers {
			for _, id := range m.IDs() {
				if _, ok := col.seen[id]; !ok {
					col.seen[id] = struct{}{}
					col.candidates = append(col.candidates, id)
				}
			}
		}
		col.phase = phaseMark
	} else {
		col.scan = []string{from}
	}
	col.worklist = col.c.retainer.RetainedIDs()
	for _, m := range layers {
		col.logs = append(col.logs, m.BeginChangeLog())
	}
}

func (col *Collection) outgoing(id string) []string {
	var out []string
	for _, m := range col.c.store.Layers() {
		out = append(out, m.Outgoing(id)...)
	}
	return out
}

// drainWrites marks records written since the last step as live, along
// with what they point to.
func (col *Collection) drainWrites() {
	var written []string
	for _, log := range col.logs {
		written = append(written, log.Drain()...)
	}
	if len(written) == 0 {
		return
	}
	for _, id := range written {
		col.marked[id] = struct{}{}
		col.worklist = append(col.worklist, col.outgoing(id)...)
	}
	if col.phase == phaseSweep {
		col.phase = phaseMark
	}
}

// Step visits at most budget records, or all of them when budget is
// negative. It reports whether the collection finished.
func (col *Collection) Step(budget int) bool {
	col.mu.Lock()
	defer col.mu.Unlock()
	if col.phase == phaseDone {
		return true
	}
	if col.phase != phaseScan {
		col.drainWrites()
	}
	spend := func() bool {
		if budget < 0 {
			return true
		}
		if budget == 0 {
			return false
		}
		budget--
		return true
	}

	for col.phase == phaseScan {
		if len(col.scan) == 0 {
			col.phase = phaseMark
			col.drainWrites()
			break
		}
		if !spend() {
			return false
		}
		id := col.scan[len(col.scan)-1]
		col.scan = col.scan[:len(col.scan)-1]
		if _, ok := col.seen[id]; ok {
			continue
		}
		col.seen[id] = struct{}{}
		col.candidates = append(col.candidates, id)
		col.scan = append(col.scan, col.outgoing(id)...)
	}

	for col.phase == phaseMark {
		if len(col.worklist) == 0 {
			col.phase = phaseSweep
			break
		}
		if !spend() {
			return false
		}
		id := col.worklist[len(col.worklist)-1]
		col.worklist = col.worklist[:len(col.worklist)-1]
		if _, ok := col.marked[id]; ok {
			continue
		}
		col.marked[id] = struct{}{}
		col.worklist = append(col.worklist, col.outgoing(id)...)
	}

	for col.phase == phaseSweep {
		if col.next == len(col.candidates) {
			col.finish(nil)
			return true
		}
		if !spend() {
			return false
		}
		id := col.candidates[col.next]
		col.next++
		if _, ok := col.marked[id]; ok {
			continue
		}
		col.c.remove(id)
		col.removed = append(col.removed, id)
	}
	return col.phase == phaseDone
}

// Cancel stops the collection at its current step boundary. Records
// already removed stay removed.
func (col *Collection) Cancel() {
	col.mu.Lock()
	defer col.mu.Unlock()
	col.finish(ErrCancelled)
}

// finish is called with col.mu held.
func (col *Collection) finish(err error) {
	if col.phase == phaseDone {
		return
	}
	col.phase = phaseDone
	col.err = err
	for _, log := range col.logs {
		log.Close()
	}
	close(col.done)
}

func (col *Collection) isCancelled() bool {
	col.mu.Lock()
	defer col.mu.Unlock()
	return col.phase == phaseDone
}

// Removed returns the records removed so far, in removal order.
func (col *Collection) Removed() []string {
	col.mu.Lock()
	defer col.mu.Unlock()
	return append([]string(nil), col.removed...)
}

// Done is closed when the collection finished or was cancelled.
func (col *Collection) Done() <-chan struct{} { return col.done }

// Wait blocks until the collection finished. It returns ErrCancelled for a
// cancelled collection.
func (col *Collection) Wait(ctx context.Context) error {
	select {
	case <-col.done:
		return col.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
