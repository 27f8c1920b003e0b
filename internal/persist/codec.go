package persist

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/store"
)

// Records are stored as a protobuf Struct:
//
//	{"type": "User", "fields": {"name": {"kind": 1, "value": "Zuck"}},
//	 "range": "<range JSON>", "forceIndex": 0, "filterCalls": [...],
//	 "deferred": ["hash"]}
//
// Nonexistent records are {"nonexistent": true}. Numbers come back as
// float64.

func encodeRecord(snap store.RecordSnapshot) ([]byte, error) {
	m := map[string]any{}
	if snap.Nonexistent {
		m["nonexistent"] = true
	} else {
		m["type"] = snap.TypeName
		fields := make(map[string]any, len(snap.Fields))
		for key, v := range snap.Fields {
			fv := map[string]any{"kind": int(v.Kind)}
			switch v.Kind {
			case store.ValueScalar:
				fv["value"] = v.Scalar
			case store.ValueLink:
				fv["value"] = v.Link
			case store.ValueLinks:
				fv["value"] = stringsToAny(v.Links)
			}
			fields[key] = fv
		}
		m["fields"] = fields
		if len(snap.Range) > 0 {
			m["range"] = string(snap.Range)
			m["forceIndex"] = snap.ForceIndex
			calls := make([]any, len(snap.FilterCalls))
			for i, c := range snap.FilterCalls {
				calls[i] = map[string]any{"name": c.Name, "value": c.Value}
			}
			m["filterCalls"] = calls
		}
		if len(snap.Deferred) > 0 {
			m["deferred"] = stringsToAny(snap.Deferred)
		}
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", snap.ID, err)
	}
	return proto.Marshal(s)
}

func decodeRecord(id string, data []byte) (store.RecordSnapshot, error) {
	snap := store.RecordSnapshot{ID: id}
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return snap, fmt.Errorf("decode record %s: %w", id, err)
	}
	m := s.AsMap()
	if b, _ := m["nonexistent"].(bool); b {
		snap.Nonexistent = true
		return snap, nil
	}
	snap.TypeName, _ = m["type"].(string)
	fields, _ := m["fields"].(map[string]any)
	snap.Fields = make(map[string]store.Value, len(fields))
	for key, raw := range fields {
		fv, ok := raw.(map[string]any)
		if !ok {
			return snap, fmt.Errorf("decode record %s: field %s is %T", id, key, raw)
		}
		kind, _ := fv["kind"].(float64)
		v := store.Value{Kind: store.ValueKind(kind)}
		switch v.Kind {
		case store.ValueNull:
		case store.ValueScalar:
			v.Scalar = fv["value"]
		case store.ValueLink:
			v.Link, _ = fv["value"].(string)
		case store.ValueLinks:
			v.Links = anyToStrings(fv["value"])
		default:
			return snap, fmt.Errorf("decode record %s: field %s has unknown kind %v", id, key, kind)
		}
		snap.Fields[key] = v
	}
	if rng, ok := m["range"].(string); ok {
		snap.Range = json.RawMessage(rng)
		idx, _ := m["forceIndex"].(float64)
		snap.ForceIndex = int(idx)
		calls, _ := m["filterCalls"].([]any)
		for _, raw := range calls {
			c, _ := raw.(map[string]any)
			name, _ := c["name"].(string)
			snap.FilterCalls = append(snap.FilterCalls, query.Call{Name: name, Value: c["value"]})
		}
	}
	snap.Deferred = anyToStrings(m["deferred"])
	return snap, nil
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func anyToStrings(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, _ := item.(string)
		out = append(out, s)
	}
	return out
}
