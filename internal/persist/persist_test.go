package persist

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/writer"
)

func idField() *query.Field {
	return query.Field{SchemaName: query.FieldID, Requisite: true}.With()
}

func usernameQuery() *query.Root {
	return query.Root{
		FieldName:      "username",
		IdentifyingArg: &query.Call{Name: "name", Value: "zuck"},
		Type:           "User",
	}.With(
		idField(),
		query.ScalarField("name"),
		query.Field{SchemaName: "screennames", Kind: query.KindPlural}.With(query.ScalarField("service")),
		query.Field{SchemaName: "hometown", Kind: query.KindLinked, Type: "Page"}.With(idField()),
		query.Field{
			SchemaName: "friends",
			Kind:       query.KindConnection,
			Calls:      []query.Call{{Name: query.CallFirst, Value: 2}, {Name: "orderby", Value: "name"}},
		}.With(
			query.Field{SchemaName: query.FieldEdges, Kind: query.KindPlural}.With(
				query.Field{SchemaName: query.FieldCursor, Requisite: true}.With(),
				query.Field{SchemaName: query.FieldNode, Kind: query.KindLinked, Type: "User"}.With(idField()),
			),
		),
	)
}

func populate(t *testing.T) (*store.RecordMap, *store.RootCallMap) {
	t.Helper()
	records := store.NewRecordMap()
	rootCalls := store.NewRootCallMap()
	s := store.New(records, store.WithRootCallMap(rootCalls))
	w := writer.New(s, store.NewQueryTracker(), writer.NewChangeTracker())
	payload := map[string]any{"username": map[string]any{
		"id":          "4",
		"name":        "Zuck",
		"screennames": []any{map[string]any{"service": "GTALK"}},
		"hometown":    nil,
		"friends": map[string]any{
			"edges": []any{
				map[string]any{"cursor": "c5", "node": map[string]any{"id": "5"}},
				map[string]any{"cursor": "c6", "node": map[string]any{"id": "6"}},
			},
			"pageInfo": map[string]any{"hasNextPage": true},
		},
	}}
	require.NoError(t, w.WriteRootPayload(context.Background(), usernameQuery(), payload))
	s.DeleteRecord("gone")
	require.NoError(t, s.SetHasDeferredFragmentData("4", "abc"))
	return records, rootCalls
}

func TestSaveLoad(t *testing.T) {
	records, rootCalls := populate(t)
	want, err := records.Snapshot()
	require.NoError(t, err)

	snap, err := Open("", InMemory())
	require.NoError(t, err)
	defer snap.Close()
	require.NoError(t, snap.Save(records, rootCalls))

	loaded := store.NewRecordMap()
	loadedCalls := store.NewRootCallMap()
	require.NoError(t, snap.Load(loaded, loadedCalls))

	got, err := loaded.Snapshot()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records differ (-want +got):\n%s", diff)
	}
	require.Equal(t, rootCalls.Entries(), loadedCalls.Entries())

	s := store.New(loaded, store.WithRootCallMap(loadedCalls))
	id, ok := s.GetDataID("username", "zuck")
	require.True(t, ok)
	require.Equal(t, "4", id)
	require.Equal(t, store.Nonexistent, s.GetRecordState("gone"))
	require.True(t, s.HasDeferredFragmentData("4", "abc"))

	connID, _, err := s.GetLinkedRecordID("4", query.StorageKey("friends", []query.Call{{Name: "orderby", Value: "name"}}))
	require.NoError(t, err)
	md, err := s.GetRangeMetadata(connID, []query.Call{{Name: query.CallFirst, Value: 2}, {Name: "orderby", Value: "name"}})
	require.NoError(t, err)
	require.NotNil(t, md)
	require.Len(t, md.RequestedEdgeIDs, 2)
	require.True(t, md.PageInfo.HasNextPage)
}

func TestSaveReplaces(t *testing.T) {
	records, rootCalls := populate(t)
	snap, err := Open("", InMemory())
	require.NoError(t, err)
	defer snap.Close()
	require.NoError(t, snap.Save(records, rootCalls))

	smaller := store.NewRecordMap()
	store.New(smaller).PutRecord("only", "User")
	require.NoError(t, snap.Save(smaller, store.NewRootCallMap()))

	loaded := store.NewRecordMap()
	loadedCalls := store.NewRootCallMap()
	require.NoError(t, snap.Load(loaded, loadedCalls))
	require.Equal(t, []string{"only"}, loaded.IDs())
	require.Empty(t, loadedCalls.Entries())
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	records, rootCalls := populate(t)

	snap, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, snap.Save(records, rootCalls))
	require.NoError(t, snap.Close())

	snap, err = Open(dir)
	require.NoError(t, err)
	defer snap.Close()
	loaded := store.NewRecordMap()
	require.NoError(t, snap.Load(loaded, store.NewRootCallMap()))
	require.Equal(t, records.IDs(), loaded.IDs())
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	data, err := encodeRecord(store.RecordSnapshot{
		ID:     "1",
		Fields: map[string]store.Value{"x": {Kind: store.ValueKind(9)}},
	})
	require.NoError(t, err)
	_, err = decodeRecord("1", data)
	require.ErrorContains(t, err, "unknown kind")
}
