package writer

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/store"
)

func idField() *query.Field {
	return query.Field{SchemaName: query.FieldID, Requisite: true}.With()
}

func linked(name, typ string, children ...query.Node) *query.Field {
	return query.Field{SchemaName: name, Kind: query.KindLinked, Type: typ}.With(children...)
}

func plural(name, typ string, children ...query.Node) *query.Field {
	return query.Field{SchemaName: name, Kind: query.KindPlural, Type: typ}.With(children...)
}

func nodeQuery(id string, children ...query.Node) *query.Root {
	return query.Root{
		FieldName:      query.FieldNode,
		IdentifyingArg: &query.Call{Name: "id", Value: id},
		Type:           "User",
	}.With(children...)
}

func friendsQuery(first int) *query.Root {
	return nodeQuery("4",
		idField(),
		query.Field{
			SchemaName: "friends",
			Kind:       query.KindConnection,
			Type:       "FriendsConnection",
			Calls:      []query.Call{{Name: query.CallFirst, Value: first}},
		}.With(
			plural(query.FieldEdges, "FriendsEdge",
				query.Field{SchemaName: query.FieldCursor, Requisite: true, Generated: true}.With(),
				linked(query.FieldNode, "User", idField(), query.ScalarField("name")),
			),
			linked(query.FieldPageInfo, "PageInfo",
				query.Field{SchemaName: query.FieldHasNext, Requisite: true, Generated: true}.With(),
			),
		),
	)
}

func edge(cursor string, node map[string]any) map[string]any {
	return map[string]any{"cursor": cursor, "node": node}
}

type fixture struct {
	store   *store.RecordStore
	tracker *store.QueryTracker
	changes *ChangeTracker
	writer  *Writer
}

func newFixture(opts ...Option) *fixture {
	s := store.New(store.NewRecordMap())
	f := &fixture{store: s, tracker: store.NewQueryTracker(), changes: NewChangeTracker()}
	f.writer = New(s, f.tracker, f.changes, opts...)
	return f
}

func (f *fixture) write(t *testing.T, root *query.Root, payload map[string]any) ChangeSet {
	t.Helper()
	changes := NewChangeTracker()
	w := New(f.store, f.tracker, changes, optionsOf(f.writer)...)
	require.NoError(t, w.WriteRootPayload(context.Background(), root, payload))
	return changes.ChangeSet()
}

func optionsOf(w *Writer) []Option {
	o := w.opt
	return []Option{func(dst *Options) { *dst = o }}
}

func requireChanges(t *testing.T, want, got ChangeSet) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("change set mismatch (-want +got):\n%s", diff)
	}
}

func TestIdempotentWrite(t *testing.T) {
	f := newFixture()
	q := nodeQuery("4", idField(), query.ScalarField("name"))
	payload := map[string]any{"node": map[string]any{"id": "4", "name": "Zuck"}}

	ctx := context.Background()
	require.NoError(t, f.writer.WriteRootPayload(ctx, q, payload))
	require.NoError(t, f.writer.WriteRootPayload(ctx, q, payload))
	requireChanges(t, ChangeSet{Created: []string{"4"}}, f.changes.ChangeSet())

	require.True(t, f.store.GetRecordState("4") == store.Existent)
	require.Equal(t, "User", f.store.GetType("4"))

	requireChanges(t, ChangeSet{}, f.write(t, q, payload))
	requireChanges(t, ChangeSet{Updated: []string{"4"}},
		f.write(t, q, map[string]any{"node": map[string]any{"id": "4", "name": "Mark"}}))
}

func TestScalarArraysCompareByElement(t *testing.T) {
	f := newFixture()
	q := nodeQuery("4", idField(), query.ScalarField("aliases"))
	payload := func(aliases ...any) map[string]any {
		return map[string]any{"node": map[string]any{"id": "4", "aliases": aliases}}
	}
	f.write(t, q, payload("a", "b"))
	requireChanges(t, ChangeSet{}, f.write(t, q, payload("a", "b")))
	requireChanges(t, ChangeSet{Updated: []string{"4"}}, f.write(t, q, payload("a", "c")))
}

func TestNullRoot(t *testing.T) {
	f := newFixture()
	q := nodeQuery("5", idField())

	requireChanges(t, ChangeSet{Created: []string{"5"}}, f.write(t, q, map[string]any{"node": nil}))
	require.Equal(t, store.Nonexistent, f.store.GetRecordState("5"))
	requireChanges(t, ChangeSet{}, f.write(t, q, map[string]any{"node": nil}))

	f.write(t, q, map[string]any{"node": map[string]any{"id": "5"}})
	require.Equal(t, store.Existent, f.store.GetRecordState("5"))
	requireChanges(t, ChangeSet{Updated: []string{"5"}}, f.write(t, q, map[string]any{"node": nil}))
}

func TestNullFields(t *testing.T) {
	f := newFixture()
	q := nodeQuery("4", idField(), query.ScalarField("name"), linked("address", "Address", query.ScalarField("city")))

	changes := f.write(t, q, map[string]any{"node": map[string]any{"id": "4", "name": nil, "address": nil}})
	requireChanges(t, ChangeSet{Created: []string{"4"}}, changes)

	v, state, err := f.store.GetField("4", "name")
	require.NoError(t, err)
	require.Equal(t, store.Existent, state)
	require.Nil(t, v)

	requireChanges(t, ChangeSet{}, f.write(t, q, map[string]any{"node": map[string]any{"id": "4", "name": nil, "address": nil}}))

	changes = f.write(t, q, map[string]any{"node": map[string]any{"id": "4", "address": map[string]any{"city": "Menlo Park"}}})
	require.Equal(t, []string{"4"}, changes.Updated)
	require.Len(t, changes.Created, 1)
	require.True(t, store.IsClientID(changes.Created[0]))
}

func TestRootCallIDs(t *testing.T) {
	f := newFixture()
	q := query.Root{FieldName: "viewer", Type: "Viewer"}.With(
		linked("actor", "User", query.ScalarField("name")),
	)
	payload := map[string]any{"viewer": map[string]any{"actor": map[string]any{"name": "Zuck"}}}

	f.write(t, q, payload)
	viewerID, ok := f.store.GetDataID("viewer", nil)
	require.True(t, ok)
	require.True(t, store.IsClientID(viewerID))
	actorID, _, err := f.store.GetLinkedRecordID(viewerID, "actor")
	require.NoError(t, err)
	require.True(t, store.IsClientID(actorID))

	requireChanges(t, ChangeSet{}, f.write(t, q, payload))
	again, _ := f.store.GetDataID("viewer", nil)
	require.Equal(t, viewerID, again)
	actorAgain, _, _ := f.store.GetLinkedRecordID(viewerID, "actor")
	require.Equal(t, actorID, actorAgain)
}

func TestIdentifyingRootWithServerID(t *testing.T) {
	f := newFixture()
	q := query.Root{
		FieldName:      "username",
		IdentifyingArg: &query.Call{Name: "name", Value: "zuck"},
		Type:           "User",
	}.With(idField(), query.ScalarField("name"))

	f.write(t, q, map[string]any{"username": map[string]any{"id": "4", "name": "Zuck"}})
	id, ok := f.store.GetDataID("username", "zuck")
	require.True(t, ok)
	require.Equal(t, "4", id)
}

func TestPluralRoot(t *testing.T) {
	f := newFixture()
	q := query.Root{
		FieldName:      "nodes",
		IdentifyingArg: &query.Call{Name: "ids", Value: []any{"4", "5"}},
		Plural:         true,
	}.With(idField(), query.ScalarField("name"))

	changes := f.write(t, q, map[string]any{"nodes": []any{
		map[string]any{"id": "4", "name": "Four"},
		nil,
	}})
	requireChanges(t, ChangeSet{Created: []string{"4", "5"}}, changes)
	require.Equal(t, store.Nonexistent, f.store.GetRecordState("5"))

	w := New(f.store, nil, nil)
	err := w.WriteRootPayload(context.Background(), q, map[string]any{"nodes": []any{nil}})
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestPluralLinksReuseIDsByIndex(t *testing.T) {
	f := newFixture()
	q := nodeQuery("4", idField(), plural("screennames", "Screenname", query.ScalarField("service")))
	payload := func(services ...string) map[string]any {
		var items []any
		for _, s := range services {
			items = append(items, map[string]any{"service": s})
		}
		return map[string]any{"node": map[string]any{"id": "4", "screennames": items}}
	}

	f.write(t, q, payload("GTALK", "TWITTER"))
	ids, _, err := f.store.GetLinkedRecordIDs("4", "screennames")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	requireChanges(t, ChangeSet{}, f.write(t, q, payload("GTALK", "TWITTER")))
	changes := f.write(t, q, payload("GTALK", "SKYPE"))
	requireChanges(t, ChangeSet{Updated: []string{ids[1]}}, changes)

	changes = f.write(t, q, payload("GTALK", "SKYPE", "ICQ"))
	require.Equal(t, []string{"4"}, changes.Updated)
	require.Len(t, changes.Created, 1)
	next, _, _ := f.store.GetLinkedRecordIDs("4", "screennames")
	require.Equal(t, ids, next[:2])
}

func TestConnection(t *testing.T) {
	f := newFixture()
	payload := map[string]any{"node": map[string]any{
		"id": "4",
		"friends": map[string]any{
			"edges": []any{
				edge("c5", map[string]any{"id": "5", "name": "Five"}),
				edge("c6", map[string]any{"id": "6", "name": "Six"}),
			},
			"pageInfo": map[string]any{"hasNextPage": true},
		},
	}}
	changes := f.write(t, friendsQuery(2), payload)

	connID, _, err := f.store.GetLinkedRecordID("4", "friends")
	require.NoError(t, err)
	require.True(t, store.IsClientID(connID))
	edge5 := store.ClientEdgeID(connID, "5")
	edge6 := store.ClientEdgeID(connID, "6")
	requireChanges(t, ChangeSet{Created: sorted("4", "5", "6", connID, edge5, edge6)}, changes)

	md, err := f.store.GetRangeMetadata(connID, []query.Call{{Name: query.CallFirst, Value: 2}})
	require.NoError(t, err)
	require.Equal(t, []string{edge5, edge6}, md.RequestedEdgeIDs)
	require.Empty(t, md.DiffCalls)
	require.True(t, md.PageInfo.HasNextPage)

	md, err = f.store.GetRangeMetadata(connID, []query.Call{{Name: query.CallFirst, Value: 3}})
	require.NoError(t, err)
	require.Equal(t, []query.Call{
		{Name: query.CallAfter, Value: "c6"},
		{Name: query.CallFirst, Value: 1},
	}, md.DiffCalls)

	cursor, _, err := f.store.GetField(edge5, query.FieldCursor)
	require.NoError(t, err)
	require.Equal(t, "c5", cursor)
	name, _, _ := f.store.GetField("6", "name")
	require.Equal(t, "Six", name)

	requireChanges(t, ChangeSet{}, f.write(t, friendsQuery(2), payload))
}

func TestConnectionNodesWithoutIDs(t *testing.T) {
	f := newFixture()
	q := nodeQuery("4",
		idField(),
		query.Field{
			SchemaName: "friends",
			Kind:       query.KindConnection,
			Calls:      []query.Call{{Name: query.CallFirst, Value: 1}},
		}.With(
			plural(query.FieldEdges, "",
				query.Field{SchemaName: query.FieldCursor, Requisite: true}.With(),
				linked(query.FieldNode, "", query.ScalarField("name")),
			),
		),
	)
	payload := map[string]any{"node": map[string]any{
		"id": "4",
		"friends": map[string]any{
			"edges": []any{edge("c1", map[string]any{"name": "Anon"})},
		},
	}}

	f.write(t, q, payload)
	connID, _, _ := f.store.GetLinkedRecordID("4", "friends")
	md, err := f.store.GetRangeMetadata(connID, []query.Call{{Name: query.CallFirst, Value: 1}})
	require.NoError(t, err)
	require.Len(t, md.FilteredEdges, 1)
	nodeID := md.FilteredEdges[0].NodeID
	require.True(t, store.IsClientID(nodeID))
	require.Equal(t, store.ClientEdgeID(connID, nodeID), md.FilteredEdges[0].EdgeID)

	requireChanges(t, ChangeSet{}, f.write(t, q, payload))
}

func TestForceIndexReplacesRange(t *testing.T) {
	f := newFixture()
	page := func(ids ...string) map[string]any {
		var edges []any
		for _, id := range ids {
			edges = append(edges, edge("c"+id, map[string]any{"id": id, "name": id}))
		}
		return map[string]any{"node": map[string]any{
			"id":      "4",
			"friends": map[string]any{"edges": edges, "pageInfo": map[string]any{"hasNextPage": true}},
		}}
	}
	f.write(t, friendsQuery(2), page("5", "6"))
	connID, _, _ := f.store.GetLinkedRecordID("4", "friends")

	forced := New(f.store, f.tracker, nil, WithForceIndex(2))
	require.NoError(t, forced.WriteRootPayload(context.Background(), friendsQuery(2), page("7", "8")))
	require.Equal(t, 2, f.store.GetRangeForceIndex(connID))

	md, err := f.store.GetRangeMetadata(connID, []query.Call{{Name: query.CallFirst, Value: 2}})
	require.NoError(t, err)
	require.Equal(t, []string{store.ClientEdgeID(connID, "7"), store.ClientEdgeID(connID, "8")}, md.RequestedEdgeIDs)

	stale := New(f.store, f.tracker, nil, WithForceIndex(1))
	require.NoError(t, stale.WriteRootPayload(context.Background(), friendsQuery(2), page("5", "6")))
	require.Equal(t, 2, f.store.GetRangeForceIndex(connID))
}

func TestFieldKindMismatch(t *testing.T) {
	f := newFixture()
	f.store.PutRecord("4", "User")
	require.NoError(t, f.store.PutLinkedRecordID("4", "bestFriend", "5"))

	q := nodeQuery("4", idField(), query.ScalarField("bestFriend"))
	err := f.writer.WriteRootPayload(context.Background(), q, map[string]any{"node": map[string]any{"id": "4", "bestFriend": "5"}})
	require.ErrorIs(t, err, store.ErrFieldKind)
}

func TestMalformedPayload(t *testing.T) {
	cases := []struct {
		name    string
		query   *query.Root
		payload map[string]any
	}{
		{
			name:    "missing root",
			query:   nodeQuery("4", idField()),
			payload: map[string]any{},
		},
		{
			name:    "scalar for root",
			query:   nodeQuery("4", idField()),
			payload: map[string]any{"node": "4"},
		},
		{
			name:    "object for plural",
			query:   nodeQuery("4", idField(), plural("friends", "User", idField())),
			payload: map[string]any{"node": map[string]any{"id": "4", "friends": map[string]any{}}},
		},
		{
			name:    "scalar for link",
			query:   nodeQuery("4", idField(), linked("address", "Address", query.ScalarField("city"))),
			payload: map[string]any{"node": map[string]any{"id": "4", "address": "Menlo Park"}},
		},
		{
			name:    "object edges",
			query:   friendsQuery(2),
			payload: map[string]any{"node": map[string]any{"id": "4", "friends": map[string]any{"edges": map[string]any{}}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			err := f.writer.WriteRootPayload(context.Background(), tc.query, tc.payload)
			require.ErrorIs(t, err, ErrMalformedPayload)
		})
	}
}

func TestFragments(t *testing.T) {
	f := newFixture()
	deferred := query.Fragment{Name: "Profile", Type: "User", Deferred: true}.With(query.ScalarField("bio"))
	q := query.Root{
		FieldName:      query.FieldNode,
		IdentifyingArg: &query.Call{Name: "id", Value: "4"},
		Abstract:       true,
	}.With(
		idField(),
		query.Fragment{Type: "Page"}.With(query.ScalarField("likers")),
		query.Fragment{Type: "User"}.With(query.ScalarField("name")),
		deferred,
	)
	f.write(t, q, map[string]any{"node": map[string]any{
		"id":         "4",
		"__typename": "User",
		"name":       "Zuck",
		"likers":     10,
		"bio":        "hi",
	}})

	require.Equal(t, "User", f.store.GetType("4"))
	require.True(t, f.store.HasFieldKey("4", "name"))
	require.False(t, f.store.HasFieldKey("4", "likers"))
	require.True(t, f.store.HasFieldKey("4", "bio"))
	require.True(t, f.store.HasDeferredFragmentData("4", deferred.CompositeHash()))
}

func TestTracksNewRecords(t *testing.T) {
	f := newFixture()
	q := nodeQuery("4", idField(), linked("bestFriend", "User", idField(), query.ScalarField("name")))
	f.write(t, q, map[string]any{"node": map[string]any{
		"id":         "4",
		"bestFriend": map[string]any{"id": "5", "name": "Five"},
	}})

	ctx := context.Background()
	require.Len(t, f.tracker.GetTrackedChildrenForID(ctx, "4"), 2)
	require.Len(t, f.tracker.GetTrackedChildrenForID(ctx, "5"), 2)

	f.tracker.UntrackNodesForID("5")
	f.write(t, q, map[string]any{"node": map[string]any{
		"id":         "4",
		"bestFriend": map[string]any{"id": "5", "name": "Five"},
	}})
	require.False(t, f.tracker.IsTracked("5"))

	refresh := New(f.store, f.tracker, nil, WithUpdateTrackedQueries())
	require.NoError(t, refresh.WriteRootPayload(ctx, q, map[string]any{"node": map[string]any{
		"id":         "4",
		"bestFriend": map[string]any{"id": "5", "name": "Five"},
	}}))
	require.True(t, f.tracker.IsTracked("5"))
}

func TestOptimisticWrite(t *testing.T) {
	committed := store.NewRecordMap()
	base := store.New(committed)
	q := nodeQuery("4", idField(), query.ScalarField("name"))
	require.NoError(t, New(base, nil, nil).WriteRootPayload(context.Background(), q,
		map[string]any{"node": map[string]any{"id": "4", "name": "Zuck"}}))

	queued := store.NewRecordMap()
	optimistic := store.New(queued, store.WithFallback(committed), store.Optimistic())
	changes := NewChangeTracker()
	w := New(optimistic, nil, changes, WithOptimistic())
	require.NoError(t, w.WriteRootPayload(context.Background(), q,
		map[string]any{"node": map[string]any{"id": "4", "name": "Mark"}}))

	requireChanges(t, ChangeSet{Updated: []string{"4"}}, changes.ChangeSet())
	v, _, _ := optimistic.GetField("4", "name")
	require.Equal(t, "Mark", v)
	v, _, _ = base.GetField("4", "name")
	require.Equal(t, "Zuck", v)
	require.Equal(t, "User", optimistic.GetType("4"))
}

func TestChangeTracker(t *testing.T) {
	c := NewChangeTracker()
	c.UpdateID("a")
	c.CreateID("a")
	c.CreateID("b")
	c.UpdateID("b")
	c.UpdateID("c")

	requireChanges(t, ChangeSet{Created: []string{"a", "b"}, Updated: []string{"c"}}, c.ChangeSet())
	require.True(t, c.IsNewRecord("a"))
	require.False(t, c.IsNewRecord("c"))
	require.True(t, c.HasChange("c"))
	require.False(t, c.HasChange("d"))
	require.False(t, c.ChangeSet().Empty())
	require.True(t, NewChangeTracker().ChangeSet().Empty())
}

func sorted(ids ...string) []string {
	out := append([]string(nil), ids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
