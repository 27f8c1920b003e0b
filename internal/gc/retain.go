package gc

import (
	"sort"
	"sync"
)

// Retainer reports the records held by live queries.
type Retainer interface {
	RetainedIDs() []string
}

// RefCounts counts how many live queries retain each record.
type RefCounts struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewRefCounts() *RefCounts {
	return &RefCounts{counts: make(map[string]int)}
}

func (r *RefCounts) Retain(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		r.counts[id]++
	}
}

// Release drops one reference to each id. Releasing an id that is not
// retained panics.
func (r *RefCounts) Release(ids ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		n, ok := r.counts[id]
		if !ok {
			panic("gc: release of unretained record " + id)
		}
		if n == 1 {
			delete(r.counts, id)
		} else {
			r.counts[id] = n - 1
		}
	}
}

func (r *RefCounts) IsRetained(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[id] > 0
}

// RetainedIDs returns the retained records, sorted.
func (r *RefCounts) RetainedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.counts))
	for id := range r.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
