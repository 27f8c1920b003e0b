package store

import (
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/rangedata"
)

// RecordState tells whether a record is known.
type RecordState int

const (
	Unknown RecordState = iota
	Existent
	Nonexistent
)

func (s RecordState) String() string {
	switch s {
	case Unknown:
		return "UNKNOWN"
	case Existent:
		return "EXISTENT"
	case Nonexistent:
		return "NONEXISTENT"
	}
	return "RecordState(" + strconv.Itoa(int(s)) + ")"
}

// ValueKind is the kind of value a field holds.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueScalar
	ValueLink
	ValueLinks
)

func (k ValueKind) String() string {
	switch k {
	case ValueNull:
		return "null"
	case ValueScalar:
		return "scalar"
	case ValueLink:
		return "link"
	case ValueLinks:
		return "link list"
	}
	return "ValueKind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a stored field value.
type Value struct {
	Kind   ValueKind
	Scalar any
	Link   string
	Links  []string
}

func (v Value) clone() Value {
	if v.Links != nil {
		v.Links = slices.Clone(v.Links)
	}
	return v
}

type record struct {
	typeName    string
	nonexistent bool
	fields      map[string]Value

	rng         *rangedata.Range
	forceIndex  int
	filterCalls []query.Call
	rangeOps    *rangedata.Ops
	deferred    map[string]struct{}
}

func newRecord(typeName string) *record {
	return &record{typeName: typeName, fields: make(map[string]Value)}
}

// RecordMap is one layer of records.
type RecordMap struct {
	mu      sync.RWMutex
	records map[string]*record
	logs    map[*ChangeLog]struct{}
}

// NewRecordMap returns an empty layer.
func NewRecordMap() *RecordMap {
	return &RecordMap{records: make(map[string]*record), logs: make(map[*ChangeLog]struct{})}
}

// Len is the number of records, nonexistent ones included.
func (m *RecordMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// IDs returns the IDs of every record in the layer, sorted.
func (m *RecordMap) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether the layer holds an entry for id, existent or not.
func (m *RecordMap) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[id]
	return ok
}

// Remove drops id from the layer so it reads as Unknown again, along with
// its range.
func (m *RecordMap) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
}

// Clear removes every record.
func (m *RecordMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*record)
}

// Outgoing returns the IDs id refers to: linked records, plural links and
// the edges of its range.
func (m *RecordMap) Outgoing(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec := m.records[id]
	if rec == nil || rec.nonexistent {
		return nil
	}
	var out []string
	for _, key := range sortedFieldKeys(rec.fields) {
		v := rec.fields[key]
		switch v.Kind {
		case ValueLink:
			out = append(out, v.Link)
		case ValueLinks:
			out = append(out, v.Links...)
		}
	}
	if rec.rng != nil {
		out = append(out, rec.rng.EdgeIDs()...)
	}
	if rec.rangeOps != nil {
		out = append(out, rec.rangeOps.Prepend...)
		out = append(out, rec.rangeOps.Append...)
	}
	return out
}

func (m *RecordMap) lookup(id string) (*record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// update runs fn with the write lock held and records id in open change
// logs.
func (m *RecordMap) update(id string, fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := fn(); err != nil {
		return err
	}
	for log := range m.logs {
		log.touch(id)
	}
	return nil
}

func sortedFieldKeys(fields map[string]Value) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChangeLog collects the IDs written to a RecordMap while it is open.
type ChangeLog struct {
	m   *RecordMap
	mu  sync.Mutex
	ids map[string]struct{}
}

// BeginChangeLog starts recording writes.
func (m *RecordMap) BeginChangeLog() *ChangeLog {
	log := &ChangeLog{m: m, ids: make(map[string]struct{})}
	m.mu.Lock()
	m.logs[log] = struct{}{}
	m.mu.Unlock()
	return log
}

func (l *ChangeLog) touch(id string) {
	l.mu.Lock()
	l.ids[id] = struct{}{}
	l.mu.Unlock()
}

// Drain returns the IDs written since the last Drain, sorted.
func (l *ChangeLog) Drain() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.ids))
	for id := range l.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	l.ids = make(map[string]struct{})
	return out
}

// Close stops recording.
func (l *ChangeLog) Close() {
	l.m.mu.Lock()
	delete(l.m.logs, l)
	l.m.mu.Unlock()
}
