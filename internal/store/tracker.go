package store

import (
	"context"
	"sync"

	"github.com/hanpama/graphcache/internal/algebra"
	"github.com/hanpama/graphcache/internal/query"
)

// QueryTracker remembers which query nodes were written for each record so
// that later mutations can ask what the client has seen of a record.
type QueryTracker struct {
	mu    sync.Mutex
	nodes map[string]*trackedNodes
}

type trackedNodes struct {
	nodes  []query.Node
	merged bool
}

func NewQueryTracker() *QueryTracker {
	return &QueryTracker{nodes: make(map[string]*trackedNodes)}
}

// TrackNodeForID records that node was written for the record id.
func (t *QueryTracker) TrackNodeForID(id string, node query.Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tn := t.nodes[id]
	if tn == nil {
		tn = &trackedNodes{}
		t.nodes[id] = tn
	}
	tn.nodes = append(tn.nodes, node)
	tn.merged = false
}

// GetTrackedChildrenForID returns the flattened union of the selections
// tracked for id.
func (t *QueryTracker) GetTrackedChildrenForID(ctx context.Context, id string) []query.Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	tn := t.nodes[id]
	if tn == nil {
		return nil
	}
	if !tn.merged {
		var children []query.Node
		for _, n := range tn.nodes {
			children = append(children, n.Children()...)
		}
		tn.nodes = tn.nodes[:0]
		tn.merged = true
		container := query.Flatten(ctx, query.Fragment{Name: "QueryTracker", Type: "Node", Abstract: true}.With(children...))
		if !query.IsNil(container) {
			tn.nodes = append(tn.nodes, container)
		}
	}
	if len(tn.nodes) == 0 {
		return nil
	}
	return tn.nodes[0].Children()
}

// UntrackNodesForID forgets everything tracked for id.
func (t *QueryTracker) UntrackNodesForID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, id)
}

// IsTracked reports whether anything was tracked for id.
func (t *QueryTracker) IsTracked(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.nodes[id]
	return ok
}

// IntersectTracked returns the part of the tracked selections for id that
// pattern also selects, or nil when they do not overlap. See
// algebra.Intersect for filterUnterminatedRange.
func (t *QueryTracker) IntersectTracked(ctx context.Context, id string, pattern query.Node, filterUnterminatedRange func(*query.Field) bool) query.Node {
	children := t.GetTrackedChildrenForID(ctx, id)
	if len(children) == 0 {
		return nil
	}
	tracked := query.Fragment{Name: "QueryTracker", Type: "Node", Abstract: true}.With(children...)
	out := algebra.Intersect(tracked, pattern, filterUnterminatedRange)
	if query.IsNil(out) {
		return nil
	}
	return out
}
