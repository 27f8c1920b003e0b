package rangedata

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/query"
)

func edges(ids ...string) []Edge {
	out := make([]Edge, len(ids))
	for i, id := range ids {
		out[i] = Edge{ID: id, Cursor: "cursor" + id}
	}
	return out
}

func first(n int) query.Call     { return query.Call{Name: query.CallFirst, Value: n} }
func last(n int) query.Call      { return query.Call{Name: query.CallLast, Value: n} }
func after(c string) query.Call  { return query.Call{Name: query.CallAfter, Value: c} }
func before(c string) query.Call { return query.Call{Name: query.CallBefore, Value: c} }

func calls(cs ...query.Call) []query.Call { return cs }

func mustAdd(t *testing.T, r *Range, cs []query.Call, es []Edge, pi PageInfo) {
	t.Helper()
	require.NoError(t, r.AddItems(context.Background(), cs, es, pi))
}

func mustRetrieve(t *testing.T, r *Range, cs []query.Call, ops *Ops) Info {
	t.Helper()
	info, err := r.RetrieveRangeInfoForQuery(cs, ops)
	require.NoError(t, err)
	return info
}

func requireCalls(t *testing.T, want, got []query.Call) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("diff calls mismatch (-want +got):\n%s", diff)
	}
}

func TestFirstRoundTrip(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{HasNextPage: true})

	info := mustRetrieve(t, r, calls(first(3)), nil)
	require.Equal(t, []string{"1", "2", "3"}, info.RequestedEdgeIDs)
	require.Empty(t, info.DiffCalls)
	require.True(t, info.PageInfo.HasNextPage)
	require.Equal(t, "cursor1", info.PageInfo.StartCursor)
	require.Equal(t, "cursor3", info.PageInfo.EndCursor)
}

func TestFirstSupersetDiff(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{HasNextPage: true})

	info := mustRetrieve(t, r, calls(first(5)), nil)
	require.Equal(t, []string{"1", "2", "3"}, info.RequestedEdgeIDs)
	requireCalls(t, calls(after("cursor3"), first(2)), info.DiffCalls)
}

func TestFirstWithoutNextPageIsComplete(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{})

	info := mustRetrieve(t, r, calls(first(5)), nil)
	require.Equal(t, []string{"1", "2", "3"}, info.RequestedEdgeIDs)
	require.Empty(t, info.DiffCalls)
	require.False(t, info.PageInfo.HasNextPage)
	require.Equal(t, 1, r.SegmentCount())
}

func TestGapStitching(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{HasNextPage: true})
	mustAdd(t, r, calls(before("cursor1"), first(2)), edges("-10", "-9"), PageInfo{HasNextPage: true})

	info := mustRetrieve(t, r, calls(first(5)), nil)
	require.Equal(t, []string{"-10", "-9"}, info.RequestedEdgeIDs)
	requireCalls(t, calls(after("cursor-9"), before("cursor1"), first(3)), info.DiffCalls)

	mustAdd(t, r, info.DiffCalls, edges("-8"), PageInfo{})

	info = mustRetrieve(t, r, calls(first(5)), nil)
	require.Equal(t, []string{"-10", "-9", "-8", "1", "2"}, info.RequestedEdgeIDs)
	require.Empty(t, info.DiffCalls)
}

func TestBeforeFirstWithoutGapPrepends(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(2)), edges("1", "2"), PageInfo{HasNextPage: true})
	mustAdd(t, r, calls(before("cursor1"), first(2)), edges("-1", "0"), PageInfo{})

	info := mustRetrieve(t, r, calls(first(4)), nil)
	require.Equal(t, []string{"-1", "0", "1", "2"}, info.RequestedEdgeIDs)
	require.Empty(t, info.DiffCalls)
}

func TestLastDiff(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(last(2)), edges("9", "10"), PageInfo{HasPreviousPage: true})

	info := mustRetrieve(t, r, calls(last(3)), nil)
	require.Equal(t, []string{"9", "10"}, info.RequestedEdgeIDs)
	require.True(t, info.PageInfo.HasPreviousPage)
	requireCalls(t, calls(before("cursor9"), last(1)), info.DiffCalls)

	mustAdd(t, r, info.DiffCalls, edges("8"), PageInfo{HasPreviousPage: true})
	info = mustRetrieve(t, r, calls(last(3)), nil)
	require.Equal(t, []string{"8", "9", "10"}, info.RequestedEdgeIDs)
	require.Empty(t, info.DiffCalls)
}

func TestFirstAndLastMeet(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(2)), edges("1", "2"), PageInfo{HasNextPage: true})
	mustAdd(t, r, calls(last(2)), edges("4", "5"), PageInfo{HasPreviousPage: true})

	info := mustRetrieve(t, r, calls(first(5)), nil)
	requireCalls(t, calls(after("cursor2"), before("cursor4"), first(3)), info.DiffCalls)

	mustAdd(t, r, info.DiffCalls, edges("3"), PageInfo{})
	require.Equal(t, 1, r.SegmentCount(), "head and tail segments concatenated")

	info = mustRetrieve(t, r, calls(first(5)), nil)
	require.Equal(t, []string{"1", "2", "3", "4", "5"}, info.RequestedEdgeIDs)
	require.Empty(t, info.DiffCalls)
}

func TestNullCursorsReplaceSegment(t *testing.T) {
	noCursor := func(ids ...string) []Edge {
		out := make([]Edge, len(ids))
		for i, id := range ids {
			out[i] = Edge{ID: id}
		}
		return out
	}

	t.Run("bigger first replaces", func(t *testing.T) {
		r := New()
		mustAdd(t, r, calls(first(2)), noCursor("a", "b"), PageInfo{HasNextPage: true})
		mustAdd(t, r, calls(first(3)), noCursor("a", "c", "b"), PageInfo{HasNextPage: true})
		info := mustRetrieve(t, r, calls(first(3)), nil)
		require.Equal(t, []string{"a", "c", "b"}, info.RequestedEdgeIDs)
		require.Empty(t, info.DiffCalls)
	})

	t.Run("same size conflict replaces", func(t *testing.T) {
		r := New()
		mustAdd(t, r, calls(first(2)), noCursor("a", "b"), PageInfo{HasNextPage: true})
		mustAdd(t, r, calls(first(2)), noCursor("b", "a"), PageInfo{HasNextPage: true})
		info := mustRetrieve(t, r, calls(first(2)), nil)
		require.Equal(t, []string{"b", "a"}, info.RequestedEdgeIDs)
	})

	t.Run("smaller page keeps cache", func(t *testing.T) {
		r := New()
		mustAdd(t, r, calls(first(2)), noCursor("a", "b"), PageInfo{HasNextPage: true})
		mustAdd(t, r, calls(first(1)), noCursor("a"), PageInfo{HasNextPage: true})
		info := mustRetrieve(t, r, calls(first(2)), nil)
		require.Equal(t, []string{"a", "b"}, info.RequestedEdgeIDs)
	})

	t.Run("missing edges refetch whole window", func(t *testing.T) {
		r := New()
		mustAdd(t, r, calls(first(2)), noCursor("a", "b"), PageInfo{HasNextPage: true})
		info := mustRetrieve(t, r, calls(first(4)), nil)
		requireCalls(t, calls(first(4)), info.DiffCalls)
	})
}

func TestRemoveEdge(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{HasNextPage: true})
	r.RemoveEdgeWithID("2")

	info := mustRetrieve(t, r, calls(first(3)), nil)
	require.Equal(t, []string{"1", "3"}, info.RequestedEdgeIDs)
	requireCalls(t, calls(after("cursor3"), first(1)), info.DiffCalls)
}

func TestBumpedEdgeDoesNotResurrect(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{HasNextPage: true})
	mustAdd(t, r, calls(after("cursor3"), first(2)), edges("4", "1"), PageInfo{HasNextPage: true})

	info := mustRetrieve(t, r, calls(first(4)), nil)
	require.Equal(t, []string{"2", "3", "4", "1"}, info.RequestedEdgeIDs)

	r.RemoveEdgeWithID("1")
	info = mustRetrieve(t, r, calls(first(4)), nil)
	require.Equal(t, []string{"2", "3", "4"}, info.RequestedEdgeIDs)
	requireCalls(t, calls(after("cursor4"), first(1)), info.DiffCalls)
}

func TestOptimisticOps(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{})
	ops := &Ops{Prepend: []string{"p"}, Append: []string{"a"}, Remove: []string{"2"}}

	info := mustRetrieve(t, r, calls(first(5)), ops)
	require.Equal(t, []string{"p", "1", "3", "a"}, info.RequestedEdgeIDs)

	info = mustRetrieve(t, r, calls(last(2)), ops)
	require.Equal(t, []string{"3", "a"}, info.RequestedEdgeIDs)

	info = mustRetrieve(t, r, calls(first(5)), nil)
	require.Equal(t, []string{"1", "2", "3"}, info.RequestedEdgeIDs, "committed edges untouched")
}

func TestStaticCalls(t *testing.T) {
	r := New()
	surrounds := calls(query.Call{Name: query.CallSurrounds, Value: "x"}, first(2))
	info := mustRetrieve(t, r, surrounds, nil)
	requireCalls(t, surrounds, info.DiffCalls)

	mustAdd(t, r, surrounds, edges("x", "y"), PageInfo{})
	info = mustRetrieve(t, r, surrounds, nil)
	require.Equal(t, []string{"x", "y"}, info.RequestedEdgeIDs)
	require.Empty(t, info.DiffCalls)
	require.Equal(t, PageInfo{HasNextPage: true, HasPreviousPage: true}, info.PageInfo)
	require.Equal(t, []string{"x", "y"}, r.EdgeIDs())
}

func TestInvalidCalls(t *testing.T) {
	r := New()
	err := r.AddItems(context.Background(), calls(query.Call{Name: query.CallAfter}, first(1)), edges("1"), PageInfo{})
	require.ErrorIs(t, err, ErrNullCursor)

	_, err = r.RetrieveRangeInfoForQuery(calls(first(1), last(1)), nil)
	require.ErrorIs(t, err, ErrUnsupportedCalls)

	_, err = r.RetrieveRangeInfoForQuery(calls(after("nope"), first(1)), nil)
	require.ErrorIs(t, err, ErrCursorNotFound)

	err = r.AddItems(context.Background(), calls(after("nope"), first(1)), edges("1"), PageInfo{})
	require.ErrorIs(t, err, ErrCursorNotFound)
}

func TestJSONRoundTrip(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(3)), edges("1", "2", "3"), PageInfo{HasNextPage: true})
	mustAdd(t, r, calls(before("cursor1"), first(2)), edges("-10", "-9"), PageInfo{HasNextPage: true})
	r.RemoveEdgeWithID("2")
	mustAdd(t, r, calls(query.Call{Name: query.CallFind, Value: "3"}), edges("3"), PageInfo{})

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var shape []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &shape))
	require.Len(t, shape, 4)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	for _, cs := range [][]query.Call{
		calls(first(5)),
		calls(first(10)),
		calls(after("cursor1"), first(2)),
		calls(last(2)),
		calls(query.Call{Name: query.CallFind, Value: "3"}),
	} {
		want, wantErr := r.RetrieveRangeInfoForQuery(cs, nil)
		got, gotErr := restored.RetrieveRangeInfoForQuery(cs, nil)
		require.Equal(t, wantErr, gotErr)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s mismatch (-want +got):\n%s", query.CallsString(cs), diff)
		}
	}

	again, err := json.Marshal(restored)
	require.NoError(t, err)
	require.JSONEq(t, string(data), string(again))
}

func TestPrependAppendEdge(t *testing.T) {
	r := New()
	mustAdd(t, r, calls(first(2)), edges("1", "2"), PageInfo{})
	require.NoError(t, r.PrependEdge(Edge{ID: "2", Cursor: "cursor2"}))
	require.NoError(t, r.AppendEdge(Edge{ID: "3", Cursor: "cursor3"}))

	info := mustRetrieve(t, r, calls(first(5)), nil)
	require.Equal(t, []string{"2", "1", "3"}, info.RequestedEdgeIDs)
}
