package store

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"

	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/rangedata"
)

// RecordSnapshot is a detached copy of one record.
type RecordSnapshot struct {
	ID          string
	TypeName    string
	Nonexistent bool
	Fields      map[string]Value
	// Range is the JSON encoding of the record's range, if any.
	Range       json.RawMessage
	ForceIndex  int
	FilterCalls []query.Call
	Deferred    []string
}

func snapshotRecord(id string, rec *record) (RecordSnapshot, error) {
	snap := RecordSnapshot{ID: id, TypeName: rec.typeName, Nonexistent: rec.nonexistent}
	if rec.nonexistent {
		return snap, nil
	}
	snap.Fields = make(map[string]Value, len(rec.fields))
	for k, v := range rec.fields {
		snap.Fields[k] = v.clone()
	}
	if rec.rng != nil {
		data, err := rec.rng.MarshalJSON()
		if err != nil {
			return snap, fmt.Errorf("record %s: %w", id, err)
		}
		snap.Range = data
		snap.ForceIndex = rec.forceIndex
		snap.FilterCalls = slices.Clone(rec.filterCalls)
	}
	for hash := range rec.deferred {
		snap.Deferred = append(snap.Deferred, hash)
	}
	sort.Strings(snap.Deferred)
	return snap, nil
}

// Get returns a copy of the record stored under id in this layer.
func (m *RecordMap) Get(id string) (RecordSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return RecordSnapshot{}, false, nil
	}
	snap, err := snapshotRecord(id, rec)
	return snap, true, err
}

// Snapshot copies every record of the layer, sorted by ID.
func (m *RecordMap) Snapshot() ([]RecordSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]RecordSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := snapshotRecord(id, m.records[id])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// Restore replaces the contents of the layer with snaps.
func (m *RecordMap) Restore(snaps []RecordSnapshot) error {
	records := make(map[string]*record, len(snaps))
	for _, snap := range snaps {
		if snap.Nonexistent {
			records[snap.ID] = &record{nonexistent: true}
			continue
		}
		rec := newRecord(snap.TypeName)
		for k, v := range snap.Fields {
			rec.fields[k] = v.clone()
		}
		if len(snap.Range) > 0 {
			rng, err := rangedata.FromJSON(snap.Range)
			if err != nil {
				return fmt.Errorf("record %s: %w", snap.ID, err)
			}
			rec.rng = rng
			rec.forceIndex = snap.ForceIndex
			rec.filterCalls = slices.Clone(snap.FilterCalls)
		}
		if len(snap.Deferred) > 0 {
			rec.deferred = make(map[string]struct{}, len(snap.Deferred))
			for _, hash := range snap.Deferred {
				rec.deferred[hash] = struct{}{}
			}
		}
		records[snap.ID] = rec
	}
	m.mu.Lock()
	m.records = records
	m.mu.Unlock()
	return nil
}
