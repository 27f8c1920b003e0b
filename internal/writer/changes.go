package writer

import (
	"sort"
	"sync"
)

// ChangeSet lists the records a write created and the records it changed.
// A record appears in at most one of the lists.
type ChangeSet struct {
	Created []string
	Updated []string
}

// Empty reports whether nothing changed.
func (c ChangeSet) Empty() bool { return len(c.Created) == 0 && len(c.Updated) == 0 }

// ChangeTracker accumulates created and updated record IDs across writes.
type ChangeTracker struct {
	mu      sync.Mutex
	created map[string]struct{}
	updated map[string]struct{}
}

func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{
		created: make(map[string]struct{}),
		updated: make(map[string]struct{}),
	}
}

// CreateID records that id was first stored.
func (c *ChangeTracker) CreateID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created[id] = struct{}{}
	delete(c.updated, id)
}

// UpdateID records that id changed. Records created by the same tracker
// are not reported as updated.
func (c *ChangeTracker) UpdateID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.created[id]; !ok {
		c.updated[id] = struct{}{}
	}
}

// HasChange reports whether id was created or updated.
func (c *ChangeTracker) HasChange(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, created := c.created[id]
	_, updated := c.updated[id]
	return created || updated
}

// IsNewRecord reports whether id was created.
func (c *ChangeTracker) IsNewRecord(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.created[id]
	return ok
}

// ChangeSet returns the sorted IDs tracked so far.
func (c *ChangeTracker) ChangeSet() ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChangeSet{Created: sortedIDs(c.created), Updated: sortedIDs(c.updated)}
}

func sortedIDs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
