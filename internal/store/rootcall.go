package store

import (
	"sort"
	"sync"

	"github.com/hanpama/graphcache/internal/query"
)

// RootCallMap maps root calls, e.g. viewer or username(name: "joe"), to the
// record they resolved to.
type RootCallMap struct {
	mu sync.RWMutex
	m  map[string]map[string]string
}

func NewRootCallMap() *RootCallMap {
	return &RootCallMap{m: make(map[string]map[string]string)}
}

func identifyingKey(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return query.FormatValue(v)
}

// GetDataID returns the record storageKey resolved to for identifyingValue.
func (r *RootCallMap) GetDataID(storageKey string, identifyingValue any) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.m[storageKey][identifyingKey(identifyingValue)]
	return id, ok
}

// PutDataID stores the record storageKey resolved to.
func (r *RootCallMap) PutDataID(storageKey string, identifyingValue any, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byValue := r.m[storageKey]
	if byValue == nil {
		byValue = make(map[string]string)
		r.m[storageKey] = byValue
	}
	byValue[identifyingKey(identifyingValue)] = id
}

// RemoveDataID forgets every root call that resolved to id.
func (r *RootCallMap) RemoveDataID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, byValue := range r.m {
		for value, target := range byValue {
			if target == id {
				delete(byValue, value)
			}
		}
		if len(byValue) == 0 {
			delete(r.m, key)
		}
	}
}

// RootCall is one entry of a RootCallMap.
type RootCall struct {
	StorageKey       string `json:"storageKey"`
	IdentifyingValue string `json:"identifyingValue"`
	DataID           string `json:"dataID"`
}

// Entries returns every entry, sorted.
func (r *RootCallMap) Entries() []RootCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RootCall
	for key, byValue := range r.m {
		for value, id := range byValue {
			out = append(out, RootCall{StorageKey: key, IdentifyingValue: value, DataID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StorageKey != out[j].StorageKey {
			return out[i].StorageKey < out[j].StorageKey
		}
		return out[i].IdentifyingValue < out[j].IdentifyingValue
	})
	return out
}

// DataIDs returns the record IDs of every entry, deduplicated and sorted.
func (r *RootCallMap) DataIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, e := range r.Entries() {
		if _, ok := seen[e.DataID]; !ok {
			seen[e.DataID] = struct{}{}
			out = append(out, e.DataID)
		}
	}
	sort.Strings(out)
	return out
}
