package store

import (
	"fmt"
	"slices"

	"github.com/hanpama/graphcache/internal/query"
)

// RecordStore reads through layers and writes to the first one.
type RecordStore struct {
	layers     []*RecordMap
	rootCalls  *RootCallMap
	optimistic bool
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithFallback adds read-only layers consulted after the writable one.
func WithFallback(maps ...*RecordMap) Option {
	return func(s *RecordStore) { s.layers = append(s.layers, maps...) }
}

// WithRootCallMap sets the root call map shared by the store.
func WithRootCallMap(m *RootCallMap) Option {
	return func(s *RecordStore) { s.rootCalls = m }
}

// Optimistic marks the writable layer as the queued layer: range updates
// are recorded as operations instead of being applied to ranges.
func Optimistic() Option {
	return func(s *RecordStore) { s.optimistic = true }
}

// New returns a store writing to records.
func New(records *RecordMap, opts ...Option) *RecordStore {
	s := &RecordStore{layers: []*RecordMap{records}}
	for _, opt := range opts {
		opt(s)
	}
	if s.rootCalls == nil {
		s.rootCalls = NewRootCallMap()
	}
	return s
}

// Records is the writable layer.
func (s *RecordStore) Records() *RecordMap { return s.layers[0] }

// Layers returns the layers in read order.
func (s *RecordStore) Layers() []*RecordMap { return slices.Clone(s.layers) }

// RootCalls returns the root call map.
func (s *RecordStore) RootCalls() *RootCallMap { return s.rootCalls }

// IsOptimistic reports whether writes go to the queued layer.
func (s *RecordStore) IsOptimistic() bool { return s.optimistic }

// GetRecordState reports whether id is known, and whether it exists.
func (s *RecordStore) GetRecordState(id string) RecordState {
	for _, m := range s.layers {
		rec, ok := m.lookup(id)
		if !ok {
			continue
		}
		if rec.nonexistent {
			return Nonexistent
		}
		return Existent
	}
	return Unknown
}

// GetType returns the type name recorded for id, or "" when unknown.
func (s *RecordStore) GetType(id string) string {
	for _, m := range s.layers {
		m.mu.RLock()
		rec, ok := m.records[id]
		var name string
		if ok && rec != nil {
			name = rec.typeName
		}
		m.mu.RUnlock()
		if !ok {
			continue
		}
		if rec.nonexistent {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return ""
}

// readField finds key on id through the layers. A nonexistent record
// shadows the layers below it.
func (s *RecordStore) readField(id, key string) (Value, RecordState) {
	for _, m := range s.layers {
		m.mu.RLock()
		rec, ok := m.records[id]
		if !ok {
			m.mu.RUnlock()
			continue
		}
		if rec.nonexistent {
			m.mu.RUnlock()
			return Value{}, Nonexistent
		}
		v, has := rec.fields[key]
		if has {
			v = v.clone()
		}
		m.mu.RUnlock()
		if has {
			return v, Existent
		}
	}
	return Value{}, Unknown
}

// GetValue returns the raw field value with its state.
func (s *RecordStore) GetValue(id, key string) (Value, RecordState) {
	return s.readField(id, key)
}

// GetField returns a scalar field. The state is Existent when the field
// was fetched, even if its value is nil.
func (s *RecordStore) GetField(id, key string) (any, RecordState, error) {
	v, state := s.readField(id, key)
	if state != Existent {
		return nil, state, nil
	}
	switch v.Kind {
	case ValueNull:
		return nil, state, nil
	case ValueScalar:
		return v.Scalar, state, nil
	}
	return nil, state, &FieldKindError{ID: id, Key: key, Stored: v.Kind, Accessed: ValueScalar}
}

// GetLinkedRecordID returns the record a singular link points to. An
// Existent state with an empty ID is a null link.
func (s *RecordStore) GetLinkedRecordID(id, key string) (string, RecordState, error) {
	v, state := s.readField(id, key)
	if state != Existent {
		return "", state, nil
	}
	switch v.Kind {
	case ValueNull:
		return "", state, nil
	case ValueLink:
		return v.Link, state, nil
	}
	return "", state, &FieldKindError{ID: id, Key: key, Stored: v.Kind, Accessed: ValueLink}
}

// GetLinkedRecordIDs returns the records a plural link points to. An
// Existent state with a nil slice is a null list.
func (s *RecordStore) GetLinkedRecordIDs(id, key string) ([]string, RecordState, error) {
	v, state := s.readField(id, key)
	if state != Existent {
		return nil, state, nil
	}
	switch v.Kind {
	case ValueNull:
		return nil, state, nil
	case ValueLinks:
		return v.Links, state, nil
	}
	return nil, state, &FieldKindError{ID: id, Key: key, Stored: v.Kind, Accessed: ValueLinks}
}

// HasFieldKey reports whether key was fetched on id.
func (s *RecordStore) HasFieldKey(id, key string) bool {
	_, state := s.readField(id, key)
	return state == Existent
}

// PutRecord makes id an existent record of the writable layer. An existing
// record keeps its fields; a non-empty typeName replaces its type.
func (s *RecordStore) PutRecord(id, typeName string) {
	m := s.layers[0]
	_ = m.update(id, func() error {
		rec, ok := m.records[id]
		if !ok || rec.nonexistent {
			m.records[id] = newRecord(typeName)
			return nil
		}
		if typeName != "" {
			rec.typeName = typeName
		}
		return nil
	})
}

// DeleteRecord marks id as fetched and null.
func (s *RecordStore) DeleteRecord(id string) {
	m := s.layers[0]
	_ = m.update(id, func() error {
		m.records[id] = &record{nonexistent: true}
		return nil
	})
}

func (s *RecordStore) checkKind(id, key string, kind ValueKind) error {
	v, state := s.readField(id, key)
	if state == Existent && v.Kind != ValueNull && v.Kind != kind {
		return &FieldKindError{ID: id, Key: key, Stored: v.Kind, Accessed: kind}
	}
	return nil
}

func (s *RecordStore) writeField(id, key string, v Value) error {
	if v.Kind != ValueNull {
		if err := s.checkKind(id, key, v.Kind); err != nil {
			return err
		}
	}
	m := s.layers[0]
	return m.update(id, func() error {
		rec, ok := m.records[id]
		if !ok || rec.nonexistent {
			return fmt.Errorf("%w: %s", ErrNoRecord, id)
		}
		rec.fields[key] = v
		return nil
	})
}

// PutField stores a scalar. A nil value stores a null scalar: the key stays
// scalar until DeleteField.
func (s *RecordStore) PutField(id, key string, value any) error {
	return s.writeField(id, key, Value{Kind: ValueScalar, Scalar: value})
}

// DeleteField stores an explicit null, which any kind may replace later.
func (s *RecordStore) DeleteField(id, key string) error {
	return s.writeField(id, key, Value{Kind: ValueNull})
}

// PutLinkedRecordID links key on id to linkedID.
func (s *RecordStore) PutLinkedRecordID(id, key, linkedID string) error {
	return s.writeField(id, key, Value{Kind: ValueLink, Link: linkedID})
}

// PutLinkedRecordIDs links key on id to linkedIDs in order.
func (s *RecordStore) PutLinkedRecordIDs(id, key string, linkedIDs []string) error {
	return s.writeField(id, key, Value{Kind: ValueLinks, Links: slices.Clone(linkedIDs)})
}

// SetHasDeferredFragmentData records that the fragment identified by hash
// was written for id.
func (s *RecordStore) SetHasDeferredFragmentData(id, hash string) error {
	m := s.layers[0]
	return m.update(id, func() error {
		rec, ok := m.records[id]
		if !ok || rec.nonexistent {
			return fmt.Errorf("%w: %s", ErrNoRecord, id)
		}
		if rec.deferred == nil {
			rec.deferred = make(map[string]struct{})
		}
		rec.deferred[hash] = struct{}{}
		return nil
	})
}

// HasDeferredFragmentData reports whether the fragment identified by hash
// was written for id in any layer.
func (s *RecordStore) HasDeferredFragmentData(id, hash string) bool {
	for _, m := range s.layers {
		m.mu.RLock()
		rec, ok := m.records[id]
		var has bool
		if ok && rec.deferred != nil {
			_, has = rec.deferred[hash]
		}
		m.mu.RUnlock()
		if has {
			return true
		}
		if ok && rec.nonexistent {
			return false
		}
	}
	return false
}

// RemoveRecord forgets id in every layer, as if it had never been fetched.
// Root calls resolving to id are forgotten too.
func (s *RecordStore) RemoveRecord(id string) {
	for _, m := range s.layers {
		m.Remove(id)
	}
	s.rootCalls.RemoveDataID(id)
}

// GetDataID resolves a root call to a record ID.
func (s *RecordStore) GetDataID(storageKey string, identifyingValue any) (string, bool) {
	return s.rootCalls.GetDataID(storageKey, identifyingValue)
}

// PutDataID stores the record ID a root call resolved to.
func (s *RecordStore) PutDataID(storageKey string, identifyingValue any, id string) {
	s.rootCalls.PutDataID(storageKey, identifyingValue, id)
}

// DataIDForRoot returns the record ID for the identifying value of root,
// or false when the root was never written. node(id:) roots resolve to
// the identifying value itself.
func (s *RecordStore) DataIDForRoot(root *query.Root, identifyingValue any) (string, bool) {
	if root.FieldName == query.FieldNode || root.FieldName == "nodes" {
		id, ok := query.CallString(identifyingValue)
		return id, ok && id != ""
	}
	return s.GetDataID(root.FieldName, identifyingValue)
}
