package store

import (
	"context"
	"fmt"
	"slices"

	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/rangedata"
)

// RangeOperation is an edit of a connection's edges.
type RangeOperation string

const (
	RangePrepend RangeOperation = "__rangeOperationPrepend__"
	RangeAppend  RangeOperation = "__rangeOperationAppend__"
	RangeRemove  RangeOperation = "__rangeOperationRemove__"
)

// RangeEdge is an edge of a window with the node it points to.
type RangeEdge struct {
	EdgeID string
	NodeID string
}

// RangeMetadata describes a window of a connection.
type RangeMetadata struct {
	// DiffCalls are the calls still needed, filter calls first. Empty when
	// the window is cached.
	DiffCalls        []query.Call
	FilterCalls      []query.Call
	FilteredEdges    []RangeEdge
	PageInfo         rangedata.PageInfo
	RequestedEdgeIDs []string
}

// withRange runs fn on the record holding the range of connectionID in the
// topmost layer that has one, with that layer read-locked. It reports
// whether a range was found.
func (s *RecordStore) withRange(connectionID string, fn func(rec *record)) bool {
	for _, m := range s.layers {
		m.mu.RLock()
		rec, ok := m.records[connectionID]
		switch {
		case !ok:
			m.mu.RUnlock()
			continue
		case rec.nonexistent:
			m.mu.RUnlock()
			return false
		case rec.rng != nil:
			fn(rec)
			m.mu.RUnlock()
			return true
		}
		m.mu.RUnlock()
	}
	return false
}

func (s *RecordStore) findRangeOps(connectionID string) *rangedata.Ops {
	for _, m := range s.layers {
		m.mu.RLock()
		rec, ok := m.records[connectionID]
		switch {
		case !ok:
			m.mu.RUnlock()
			continue
		case rec.nonexistent:
			m.mu.RUnlock()
			return nil
		case rec.rangeOps != nil:
			ops := &rangedata.Ops{
				Prepend: slices.Clone(rec.rangeOps.Prepend),
				Append:  slices.Clone(rec.rangeOps.Append),
				Remove:  slices.Clone(rec.rangeOps.Remove),
			}
			m.mu.RUnlock()
			return ops
		}
		m.mu.RUnlock()
	}
	return nil
}

// HasRange reports whether connectionID has a range in any layer.
func (s *RecordStore) HasRange(connectionID string) bool {
	return s.withRange(connectionID, func(*record) {})
}

// GetRangeForceIndex returns the force index the range was written with.
func (s *RecordStore) GetRangeForceIndex(connectionID string) int {
	var index int
	s.withRange(connectionID, func(rec *record) { index = rec.forceIndex })
	return index
}

// GetRangeFilterCalls returns the non-range calls of the connection.
func (s *RecordStore) GetRangeFilterCalls(connectionID string) []query.Call {
	var calls []query.Call
	s.withRange(connectionID, func(rec *record) { calls = slices.Clone(rec.filterCalls) })
	return calls
}

// GetRangeMetadata answers a window request on connectionID. It returns
// nil when the connection has no range. Queued range operations are
// applied to the answer.
func (s *RecordStore) GetRangeMetadata(connectionID string, calls []query.Call) (*RangeMetadata, error) {
	ops := s.findRangeOps(connectionID)
	var (
		info        rangedata.Info
		filterCalls []query.Call
		err         error
	)
	found := s.withRange(connectionID, func(rec *record) {
		filterCalls = slices.Clone(rec.filterCalls)
		info, err = rec.rng.RetrieveRangeInfoForQuery(query.RangeCalls(calls), ops)
	})
	if !found {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("range %s: %w", connectionID, err)
	}
	md := &RangeMetadata{
		FilterCalls:      filterCalls,
		PageInfo:         info.PageInfo,
		RequestedEdgeIDs: info.RequestedEdgeIDs,
	}
	if len(info.DiffCalls) > 0 {
		md.DiffCalls = append(slices.Clone(filterCalls), info.DiffCalls...)
	}
	for _, edgeID := range info.RequestedEdgeIDs {
		if s.GetRecordState(edgeID) != Existent {
			continue
		}
		nodeID, _, _ := s.GetLinkedRecordID(edgeID, query.FieldNode)
		md.FilteredEdges = append(md.FilteredEdges, RangeEdge{EdgeID: edgeID, NodeID: nodeID})
	}
	return md, nil
}

// PutRange gives connectionID a new empty range in the writable layer.
func (s *RecordStore) PutRange(connectionID string, calls []query.Call, forceIndex int) error {
	m := s.layers[0]
	return m.update(connectionID, func() error {
		rec, ok := m.records[connectionID]
		if !ok || rec.nonexistent {
			return fmt.Errorf("%w: %s", ErrNoRecord, connectionID)
		}
		rec.rng = rangedata.New()
		rec.filterCalls = query.FilterCalls(calls)
		rec.forceIndex = forceIndex
		return nil
	})
}

// PutRangeEdges adds a fetched page to the range of connectionID in the
// writable layer.
func (s *RecordStore) PutRangeEdges(ctx context.Context, connectionID string, calls []query.Call, pageInfo rangedata.PageInfo, edges []rangedata.Edge) error {
	m := s.layers[0]
	return m.update(connectionID, func() error {
		rec, ok := m.records[connectionID]
		if !ok || rec.nonexistent || rec.rng == nil {
			return fmt.Errorf("%w: %s", ErrNoRange, connectionID)
		}
		return rec.rng.AddItems(ctx, query.RangeCalls(calls), edges, pageInfo)
	})
}

// ApplyRangeUpdate edits the edges of connectionID. Optimistic stores
// queue the edit for reads to apply; otherwise the committed range changes.
func (s *RecordStore) ApplyRangeUpdate(connectionID, edgeID string, op RangeOperation) error {
	m := s.layers[0]
	if s.optimistic {
		return m.update(connectionID, func() error {
			rec, ok := m.records[connectionID]
			if !ok || rec.nonexistent {
				return fmt.Errorf("%w: %s", ErrNoRecord, connectionID)
			}
			if rec.rangeOps == nil {
				rec.rangeOps = &rangedata.Ops{}
			}
			switch op {
			case RangePrepend:
				rec.rangeOps.Prepend = append([]string{edgeID}, rec.rangeOps.Prepend...)
			case RangeAppend:
				rec.rangeOps.Append = append(rec.rangeOps.Append, edgeID)
			case RangeRemove:
				rec.rangeOps.Remove = append(rec.rangeOps.Remove, edgeID)
			default:
				return fmt.Errorf("store: unknown range operation %q", op)
			}
			return nil
		})
	}

	cursor, _, err := s.GetField(edgeID, query.FieldCursor)
	if err != nil {
		return err
	}
	c, _ := query.CallString(cursor)
	edge := rangedata.Edge{ID: edgeID, Cursor: c}
	return m.update(connectionID, func() error {
		rec, ok := m.records[connectionID]
		if !ok || rec.nonexistent || rec.rng == nil {
			return fmt.Errorf("%w: %s", ErrNoRange, connectionID)
		}
		switch op {
		case RangePrepend:
			return rec.rng.PrependEdge(edge)
		case RangeAppend:
			return rec.rng.AppendEdge(edge)
		case RangeRemove:
			rec.rng.RemoveEdgeWithID(edgeID)
			return nil
		}
		return fmt.Errorf("store: unknown range operation %q", op)
	})
}

// RangeJSON encodes the range of connectionID, or returns nil when it has
// none.
func (s *RecordStore) RangeJSON(connectionID string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	s.withRange(connectionID, func(rec *record) { data, err = rec.rng.MarshalJSON() })
	return data, err
}
