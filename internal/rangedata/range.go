package rangedata

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hanpama/graphcache/internal/ctxlog"
	"github.com/hanpama/graphcache/internal/query"
)

// PageInfo describes the window returned for a range request.
type PageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor,omitempty"`
	EndCursor       string `json:"endCursor,omitempty"`
}

// Info is the answer to a window request. DiffCalls is empty when the
// cached segments fully cover the window.
type Info struct {
	RequestedEdgeIDs []string
	DiffCalls        []query.Call
	PageInfo         PageInfo
}

// Ops are optimistic edits layered over committed edges at read time.
type Ops struct {
	Prepend []string
	Append  []string
	Remove  []string
}

// Empty reports whether o holds no edits.
func (o *Ops) Empty() bool {
	return o == nil || len(o.Prepend)+len(o.Append)+len(o.Remove) == 0
}

type staticQuery struct {
	EdgeIDs []string  `json:"edgeIDs"`
	Cursors []*string `json:"cursors"`
}

// Range holds the fetched edges of one connection record.
type Range struct {
	segments      []*Segment
	staticQueries map[string]staticQuery
	hasFirst      bool
	hasLast       bool
}

// New returns an empty range.
func New() *Range {
	r := &Range{}
	r.Reset()
	return r
}

// Reset forgets every edge.
func (r *Range) Reset() {
	r.segments = []*Segment{NewSegment(), NewSegment()}
	r.staticQueries = make(map[string]staticQuery)
	r.hasFirst = false
	r.hasLast = false
}

func (r *Range) resetSegment(index int) {
	if index < 0 || index >= len(r.segments) {
		return
	}
	if len(r.segments) == 1 {
		r.segments = []*Segment{NewSegment(), NewSegment()}
		r.hasFirst, r.hasLast = false, false
		return
	}
	r.segments[index] = NewSegment()
	if index == 0 {
		r.hasFirst = false
	}
	if index == len(r.segments)-1 {
		r.hasLast = false
	}
}

func (r *Range) FirstSegment() *Segment { return r.segments[0] }

func (r *Range) LastSegment() *Segment { return r.segments[len(r.segments)-1] }

// SegmentCount is the number of segments, including empty ones.
func (r *Range) SegmentCount() int { return len(r.segments) }

func (r *Range) segmentIndexByCursor(cursor string) int {
	for i, s := range r.segments {
		if s.ContainsEdgeWithCursor(cursor) {
			return i
		}
	}
	return -1
}

func (r *Range) segmentIndexByID(id string) int {
	for i, s := range r.segments {
		if s.ContainsEdgeWithID(id) {
			return i
		}
	}
	return -1
}

type parsedCalls struct {
	first, last       int
	hasFirst, hasLast bool
	after, before     string
	static            bool
}

func parseCalls(calls []query.Call) (parsedCalls, error) {
	var p parsedCalls
	for _, c := range calls {
		switch c.Name {
		case query.CallFirst, query.CallLast:
			n, ok := query.CallInt(c.Value)
			if !ok {
				return p, fmt.Errorf("%w: %s(%s)", ErrUnsupportedCalls, c.Name, query.FormatValue(c.Value))
			}
			if c.Name == query.CallFirst {
				p.first, p.hasFirst = n, true
			} else {
				p.last, p.hasLast = n, true
			}
		case query.CallAfter, query.CallBefore:
			if c.Value == nil {
				return p, fmt.Errorf("%w: %s", ErrNullCursor, c.Name)
			}
			s, _ := query.CallString(c.Value)
			if c.Name == query.CallAfter {
				p.after = s
			} else {
				p.before = s
			}
		case query.CallSurrounds, query.CallFind:
			p.static = true
		}
	}
	return p, nil
}

func (p parsedCalls) valid() bool {
	return (p.hasFirst || p.hasLast) && !(p.hasFirst && p.hasLast)
}

// AddItems stores a fetched page. calls are the range calls the page was
// fetched with.
//
// Without cursors a pure first(N) or last(N) page cannot be stitched onto
// what is cached, so when N or the page exceeds the cached count of that
// segment and the segment has no cursor, the segment is replaced. When a
// cursorless page disagrees with the cached edges at the same positions
// the page replaces the segment and a warning is logged.
func (r *Range) AddItems(ctx context.Context, calls []query.Call, edges []Edge, pageInfo PageInfo) error {
	p, err := parseCalls(calls)
	if err != nil {
		return err
	}
	if p.static {
		r.addStaticEdges(calls, edges)
		return nil
	}
	if !p.valid() {
		return fmt.Errorf("%w: %s", ErrUnsupportedCalls, query.CallsString(calls))
	}

	if p.hasFirst {
		if p.before != "" && p.after == "" {
			if pageInfo.HasNextPage {
				// A gap remains before the cursor: start a new head segment.
				if r.segmentIndexByCursor(p.before) == 0 {
					r.segments = append([]*Segment{NewSegment()}, r.segments...)
				}
				return r.addAfterFirstItems(ctx, edges, pageInfo.HasNextPage, "", p.before)
			}
			return r.addBeforeLastItems(ctx, edges, pageInfo.HasPreviousPage, p.before, "")
		}
		if p.after == "" {
			head := r.FirstSegment()
			count := head.Count()
			cursor, _ := head.FirstCursor()
			if count > 0 && (p.first > count || len(edges) > count) && cursor == "" {
				r.resetSegment(0)
			}
		}
		return r.addAfterFirstItems(ctx, edges, pageInfo.HasNextPage, p.after, p.before)
	}

	if p.after != "" && p.before == "" {
		if pageInfo.HasPreviousPage {
			if r.segmentIndexByCursor(p.after) == len(r.segments)-1 {
				r.segments = append(r.segments, NewSegment())
			}
			return r.addBeforeLastItems(ctx, edges, pageInfo.HasPreviousPage, "", p.after)
		}
		return r.addAfterFirstItems(ctx, edges, pageInfo.HasNextPage, p.after, "")
	}
	if p.before == "" {
		tail := r.LastSegment()
		count := tail.Count()
		cursor, _ := tail.LastCursor()
		if count > 0 && (p.last > count || len(edges) > count) && cursor == "" {
			r.resetSegment(len(r.segments) - 1)
		}
	}
	return r.addBeforeLastItems(ctx, edges, pageInfo.HasPreviousPage, p.before, p.after)
}

func (r *Range) addAfterFirstItems(ctx context.Context, edges []Edge, hasNextPage bool, after, before string) error {
	var (
		index int
		seg   *Segment
		tail  bool
	)
	if after != "" {
		index = r.segmentIndexByCursor(after)
		if index < 0 {
			return fmt.Errorf("%w: %s", ErrCursorNotFound, after)
		}
		seg = r.segments[index]
		if last, _ := seg.LastCursor(); last != after {
			reconciled, ok := reconcileAfterEdges(seg, edges, after)
			if !ok {
				return fmt.Errorf("%w: after %s", ErrReconcile, after)
			}
			edges, after, tail = reconciled, last, last == ""
		}
	} else {
		r.hasFirst = true
		index = 0
		seg = r.segments[0]
		if last, ok := seg.LastCursor(); ok {
			reconciled, ok := reconcileAfterEdges(seg, edges, "")
			if ok {
				edges, after, tail = reconciled, last, last == ""
			} else {
				ctxlog.FromContext(ctx).Warn("conflicting edges without cursors, replacing head segment",
					"cached", seg.Count(), "fetched", len(edges))
				r.resetSegment(0)
				r.hasFirst = true
				seg = r.segments[0]
			}
		}
	}

	if before != "" {
		if index == len(r.segments)-1 {
			return fmt.Errorf("%w: no segment after %d for before %s", ErrCursorMismatch, index, before)
		}
		if first, _ := r.segments[index+1].FirstCursor(); first != before {
			return fmt.Errorf("%w: before %s", ErrCursorMismatch, before)
		}
	}

	r.removeEdgesIfApplicable(edges)
	var (
		skipped []string
		err     error
	)
	if tail {
		skipped, err = seg.AppendEdges(edges)
	} else {
		skipped, err = seg.AddEdgesAfterCursor(edges, after)
	}
	if err != nil {
		return err
	}
	logSkipped(ctx, skipped)

	if !hasNextPage {
		if before != "" {
			r.concatSegments(ctx, index)
		} else {
			r.hasLast = true
			r.segments = r.segments[:index+1]
		}
	}
	return nil
}

func (r *Range) addBeforeLastItems(ctx context.Context, edges []Edge, hasPreviousPage bool, before, after string) error {
	var (
		index int
		seg   *Segment
		head  bool
	)
	if before != "" {
		index = r.segmentIndexByCursor(before)
		if index < 0 {
			return fmt.Errorf("%w: %s", ErrCursorNotFound, before)
		}
		seg = r.segments[index]
		if first, _ := seg.FirstCursor(); first != before {
			reconciled, ok := reconcileBeforeEdges(seg, edges, before)
			if !ok {
				return fmt.Errorf("%w: before %s", ErrReconcile, before)
			}
			edges, before, head = reconciled, first, first == ""
		}
	} else {
		r.hasLast = true
		index = len(r.segments) - 1
		seg = r.segments[index]
		if first, ok := seg.FirstCursor(); ok {
			reconciled, ok := reconcileBeforeEdges(seg, edges, "")
			if ok {
				edges, before, head = reconciled, first, first == ""
			} else {
				ctxlog.FromContext(ctx).Warn("conflicting edges without cursors, replacing tail segment",
					"cached", seg.Count(), "fetched", len(edges))
				r.resetSegment(index)
				index = len(r.segments) - 1
				r.hasLast = true
				seg = r.segments[index]
			}
		}
	}

	if after != "" {
		if index == 0 {
			return fmt.Errorf("%w: no segment before %d for after %s", ErrCursorMismatch, index, after)
		}
		if last, _ := r.segments[index-1].LastCursor(); last != after {
			return fmt.Errorf("%w: after %s", ErrCursorMismatch, after)
		}
	}

	r.removeEdgesIfApplicable(edges)
	var (
		skipped []string
		err     error
	)
	if head {
		skipped, err = seg.PrependEdges(edges)
	} else {
		skipped, err = seg.AddEdgesBeforeCursor(edges, before)
	}
	if err != nil {
		return err
	}
	logSkipped(ctx, skipped)

	if !hasPreviousPage {
		if after != "" {
			r.concatSegments(ctx, index-1)
		} else {
			r.hasFirst = true
			r.segments = r.segments[index:]
		}
	}
	return nil
}

// reconcileAfterEdges drops the prefix of edges already cached after
// cursor. It returns no edges when the cache already holds more than the
// page, and ok=false when the cached prefix differs from the page.
func reconcileAfterEdges(seg *Segment, edges []Edge, cursor string) ([]Edge, bool) {
	md, err := seg.MetadataAfterCursor(len(edges)+1, cursor)
	if err != nil {
		return nil, false
	}
	if len(md.EdgeIDs) > len(edges) {
		return nil, true
	}
	for i, id := range md.EdgeIDs {
		if edges[i].ID != id {
			return nil, false
		}
	}
	return edges[len(md.EdgeIDs):], true
}

func reconcileBeforeEdges(seg *Segment, edges []Edge, cursor string) ([]Edge, bool) {
	md, err := seg.MetadataBeforeCursor(len(edges)+1, cursor)
	if err != nil {
		return nil, false
	}
	if len(md.EdgeIDs) > len(edges) {
		return nil, true
	}
	for i := 1; i <= len(md.EdgeIDs); i++ {
		if md.EdgeIDs[len(md.EdgeIDs)-i] != edges[len(edges)-i].ID {
			return nil, false
		}
	}
	return edges[:len(edges)-len(md.EdgeIDs)], true
}

// removeEdgesIfApplicable deletes edges that are about to be re-added so
// a refetched edge moves instead of appearing twice.
func (r *Range) removeEdgesIfApplicable(edges []Edge) {
	for _, e := range edges {
		if i := r.segmentIndexByID(e.ID); i >= 0 {
			r.segments[i].RemoveEdge(e.ID)
		}
	}
}

func (r *Range) concatSegments(ctx context.Context, index int) {
	if r.segments[index].ConcatSegment(r.segments[index+1]) {
		r.segments = append(r.segments[:index+1], r.segments[index+2:]...)
		return
	}
	ctxlog.FromContext(ctx).Warn("unable to concat segments", "segment", index, "next", index+1)
}

func logSkipped(ctx context.Context, skipped []string) {
	if len(skipped) > 0 {
		ctxlog.FromContext(ctx).Warn("skipped duplicate edges in page", "edges", skipped)
	}
}

func (r *Range) addStaticEdges(calls []query.Call, edges []Edge) {
	sq := staticQuery{EdgeIDs: make([]string, len(edges)), Cursors: make([]*string, len(edges))}
	for i, e := range edges {
		sq.EdgeIDs[i] = e.ID
		if e.Cursor != "" {
			c := e.Cursor
			sq.Cursors[i] = &c
		}
	}
	r.staticQueries[query.CallsString(calls)] = sq
}

// RetrieveRangeInfoForQuery answers a window request. ops, when not nil,
// are applied to the answer without changing the range.
func (r *Range) RetrieveRangeInfoForQuery(calls []query.Call, ops *Ops) (Info, error) {
	p, err := parseCalls(calls)
	if err != nil {
		return Info{}, err
	}
	if p.static {
		return r.retrieveStatic(calls), nil
	}
	if !p.valid() || (p.hasFirst && p.before != "") || (p.hasLast && p.after != "") {
		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedCalls, query.CallsString(calls))
	}
	if ops == nil {
		ops = &Ops{}
	}
	if p.hasFirst {
		return r.retrieveFirst(p, ops)
	}
	return r.retrieveLast(p, ops)
}

func (r *Range) retrieveStatic(calls []query.Call) Info {
	if sq, ok := r.staticQueries[query.CallsString(calls)]; ok {
		return Info{
			RequestedEdgeIDs: append([]string(nil), sq.EdgeIDs...),
			PageInfo:         PageInfo{HasNextPage: true, HasPreviousPage: true},
		}
	}
	return Info{DiffCalls: append([]query.Call(nil), calls...)}
}

func (r *Range) retrieveFirst(p parsedCalls, ops *Ops) (Info, error) {
	var info Info
	needed := p.first + len(ops.Remove)
	index := 0
	if p.after != "" {
		index = r.segmentIndexByCursor(p.after)
		if index < 0 {
			return info, fmt.Errorf("%w: %s", ErrCursorNotFound, p.after)
		}
	} else {
		needed -= len(ops.Prepend)
	}
	seg := r.segments[index]
	md, err := seg.MetadataAfterCursor(needed, p.after)
	if err != nil {
		return info, err
	}
	ids := md.EdgeIDs
	if len(md.Cursors) > 0 {
		info.PageInfo.StartCursor = md.Cursors[0]
		info.PageInfo.EndCursor = md.Cursors[len(md.Cursors)-1]
	}

	var lastID string
	if len(ids) > 0 {
		lastID = ids[len(ids)-1]
	}
	segLastID, _ := seg.LastID()
	// Only a window that stops short of the known end can have a next page.
	if !r.hasLast || index != len(r.segments)-1 || (lastID != "" && lastID != segLastID) {
		info.PageInfo.HasNextPage = true
		if len(ids) < needed {
			needed -= len(ids)
			lastCursor, ok := seg.LastCursor()
			if ok && lastCursor == "" {
				info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallFirst, Value: p.first})
			} else {
				if ok {
					info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallAfter, Value: lastCursor})
				}
				if index != len(r.segments)-1 {
					if next, ok := r.segments[index+1].FirstCursor(); ok && next != "" {
						info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallBefore, Value: next})
					}
				}
				info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallFirst, Value: needed})
			}
		}
	}

	if !ops.Empty() {
		if len(ops.Prepend) > 0 && p.after == "" {
			ids = append(append([]string(nil), ops.Prepend...), ids...)
		}
		if len(ops.Append) > 0 && !info.PageInfo.HasNextPage {
			ids = append(ids, ops.Append...)
		}
		ids = without(ids, ops.Remove)
		if len(ids) > p.first {
			ids = ids[:p.first]
		}
	}
	info.RequestedEdgeIDs = ids
	return info, nil
}

func (r *Range) retrieveLast(p parsedCalls, ops *Ops) (Info, error) {
	var info Info
	needed := p.last + len(ops.Remove)
	index := len(r.segments) - 1
	if p.before != "" {
		index = r.segmentIndexByCursor(p.before)
		if index < 0 {
			return info, fmt.Errorf("%w: %s", ErrCursorNotFound, p.before)
		}
	} else {
		needed -= len(ops.Append)
	}
	seg := r.segments[index]
	md, err := seg.MetadataBeforeCursor(needed, p.before)
	if err != nil {
		return info, err
	}
	ids := md.EdgeIDs
	if len(md.Cursors) > 0 {
		info.PageInfo.StartCursor = md.Cursors[0]
		info.PageInfo.EndCursor = md.Cursors[len(md.Cursors)-1]
	}

	var firstID string
	if len(ids) > 0 {
		firstID = ids[0]
	}
	segFirstID, _ := seg.FirstID()
	if !r.hasFirst || index != 0 || (firstID != "" && firstID != segFirstID) {
		info.PageInfo.HasPreviousPage = true
		if len(ids) < needed {
			needed -= len(ids)
			firstCursor, ok := seg.FirstCursor()
			if ok && firstCursor == "" {
				info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallLast, Value: p.last})
			} else {
				if ok {
					info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallBefore, Value: firstCursor})
				}
				if index != 0 {
					if prev, ok := r.segments[index-1].LastCursor(); ok && prev != "" {
						info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallAfter, Value: prev})
					}
				}
				info.DiffCalls = append(info.DiffCalls, query.Call{Name: query.CallLast, Value: needed})
			}
		}
	}

	if !ops.Empty() {
		if len(ops.Append) > 0 && p.before == "" {
			ids = append(ids, ops.Append...)
		}
		if len(ops.Prepend) > 0 && !info.PageInfo.HasPreviousPage {
			ids = append(append([]string(nil), ops.Prepend...), ids...)
		}
		ids = without(ids, ops.Remove)
		if len(ids) > p.last {
			ids = ids[len(ids)-p.last:]
		}
	}
	info.RequestedEdgeIDs = ids
	return info, nil
}

func without(ids, remove []string) []string {
	if len(remove) == 0 {
		return ids
	}
	drop := make(map[string]struct{}, len(remove))
	for _, id := range remove {
		drop[id] = struct{}{}
	}
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := drop[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// PrependEdge moves or inserts e at the very start of the list.
func (r *Range) PrependEdge(e Edge) error {
	r.hasFirst = true
	r.removeEdgesIfApplicable([]Edge{e})
	return r.FirstSegment().PrependEdge(e)
}

// AppendEdge moves or inserts e at the very end of the list.
func (r *Range) AppendEdge(e Edge) error {
	r.hasLast = true
	r.removeEdgesIfApplicable([]Edge{e})
	return r.LastSegment().AppendEdge(e)
}

// RemoveEdgeWithID deletes every occurrence of id.
func (r *Range) RemoveEdgeWithID(id string) {
	for _, s := range r.segments {
		s.RemoveAllEdges(id)
	}
}

// EdgeIDs returns every live edge ID, segment by segment, followed by the
// edges of static queries not already listed.
func (r *Range) EdgeIDs() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, s := range r.segments {
		for _, id := range s.EdgeIDs() {
			add(id)
		}
	}
	for _, key := range sortedKeys(r.staticQueries) {
		for _, id := range r.staticQueries[key].EdgeIDs {
			add(id)
		}
	}
	return out
}

// MarshalJSON encodes the range as
// [hasFirst, hasLast, staticQueries, orderedSegments].
func (r *Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.hasFirst, r.hasLast, r.staticQueries, r.segments})
}

// UnmarshalJSON restores a range encoded by MarshalJSON.
func (r *Range) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 4 {
		return fmt.Errorf("%w: range has %d elements, want 4", ErrMalformed, len(parts))
	}
	var (
		hasFirst, hasLast bool
		static            map[string]staticQuery
		segments          []*Segment
	)
	for i, dst := range []any{&hasFirst, &hasLast, &static, &segments} {
		if err := json.Unmarshal(parts[i], dst); err != nil {
			return fmt.Errorf("%w: range element %d: %v", ErrMalformed, i, err)
		}
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: range without segments", ErrMalformed)
	}
	if static == nil {
		static = make(map[string]staticQuery)
	}
	*r = Range{segments: segments, staticQueries: static, hasFirst: hasFirst, hasLast: hasLast}
	return nil
}

// FromJSON decodes a range.
func FromJSON(data []byte) (*Range, error) {
	r := &Range{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Range) String() string {
	parts := make([]string, len(r.segments))
	for i, s := range r.segments {
		parts[i] = s.String()
	}
	return fmt.Sprintf("Range(first=%t last=%t %s)", r.hasFirst, r.hasLast, strings.Join(parts, " "))
}
