package algebra

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanpama/graphcache/internal/query"
)

func idField() *query.Field {
	return query.Field{SchemaName: query.FieldID, Requisite: true}.With()
}

func scalar(name string) *query.Field { return query.ScalarField(name) }

func linked(name string, children ...query.Node) *query.Field {
	return query.Field{SchemaName: name, Kind: query.KindLinked}.With(children...)
}

func nodeRoot(id any, children ...query.Node) *query.Root {
	return query.Root{FieldName: "node", IdentifyingArg: &query.Call{Name: "id", Value: id}}.With(children...)
}

func friends(first int, children ...query.Node) *query.Field {
	return query.Field{
		SchemaName: "friends",
		Kind:       query.KindConnection,
		Calls:      []query.Call{{Name: query.CallFirst, Value: first}},
	}.With(children...)
}

func friendEdges() []query.Node {
	return []query.Node{
		query.Field{SchemaName: query.FieldEdges, Kind: query.KindPlural}.With(
			linked(query.FieldNode, idField(), scalar("name")),
			query.Field{SchemaName: query.FieldCursor, Requisite: true, Generated: true}.With(),
		),
		linked(query.FieldPageInfo,
			query.Field{SchemaName: query.FieldHasNext, Requisite: true, Generated: true}.With(),
		),
	}
}

func TestSubtractSelf(t *testing.T) {
	q := nodeRoot("4", idField(), scalar("name"), friends(10, friendEdges()...))
	require.Nil(t, Subtract(q, q))

	same := nodeRoot("4", idField(), scalar("name"), friends(10, friendEdges()...))
	require.Nil(t, Subtract(q, same))
}

func TestSubtractNothingCovered(t *testing.T) {
	q := nodeRoot("4", idField(), scalar("name"))

	other := nodeRoot("5", idField(), scalar("name"))
	require.Same(t, q, Subtract(q, other))

	viewer := query.Root{FieldName: "viewer"}.With(scalar("name"))
	require.Same(t, q, Subtract(q, viewer))

	onlyID := nodeRoot("4", idField())
	require.Same(t, q, Subtract(q, onlyID))

	require.Same(t, q, Subtract(q, nil))
	require.Nil(t, Subtract(nil, q))
}

func TestSubtractKeepsRequisiteFields(t *testing.T) {
	q := nodeRoot("4", idField(), scalar("name"), linked("profilePicture", scalar("uri")))
	sub := nodeRoot("4", idField(), scalar("name"))

	diff := Subtract(q, sub)
	require.NotNil(t, diff)
	require.Equal(t, `node(id:"4"){id,profilePicture{uri}}`, diff.String())
	require.NotEqual(t, q.ID(), diff.ID())
}

func TestSubtractAliasedRequisiteIsNotEmpty(t *testing.T) {
	aliased := query.Field{SchemaName: query.FieldID, Alias: "poll", Requisite: true}.With()
	q := nodeRoot("4", idField(), aliased)
	sub := nodeRoot("4", idField())

	require.NotNil(t, Subtract(q, sub))
}

func TestSubtractNested(t *testing.T) {
	q := query.Root{FieldName: "viewer"}.With(
		linked("actor", idField(), scalar("name"), scalar("birthdate")),
	)
	sub := query.Root{FieldName: "viewer"}.With(
		linked("actor", idField(), scalar("name")),
	)

	diff := Subtract(q, sub)
	require.NotNil(t, diff)
	require.Equal(t, "viewer{actor{id,birthdate}}", diff.String())
}

func TestSubtractConnection(t *testing.T) {
	q := nodeRoot("4", idField(), friends(10, friendEdges()...))

	t.Run("smaller window does not cover", func(t *testing.T) {
		sub := nodeRoot("4", idField(), friends(5, friendEdges()...))
		require.Same(t, q, Subtract(q, sub))
	})

	t.Run("larger window covers", func(t *testing.T) {
		sub := nodeRoot("4", idField(), friends(20, friendEdges()...))
		require.Nil(t, Subtract(q, sub))
	})

	t.Run("different arguments do not cover", func(t *testing.T) {
		sub := nodeRoot("4", idField(), query.Field{
			SchemaName: "friends",
			Kind:       query.KindConnection,
			Calls: []query.Call{
				{Name: "orderby", Value: "name"},
				{Name: query.CallFirst, Value: 10},
			},
		}.With(friendEdges()...))
		require.Same(t, q, Subtract(q, sub))
	})
}

func TestSubtractThroughFragments(t *testing.T) {
	q := nodeRoot("4", idField(), query.Fragment{Name: "F", Type: "User"}.With(scalar("name"), scalar("email")))
	sub := nodeRoot("4", idField(), scalar("name"))

	diff := Subtract(q, sub)
	require.NotNil(t, diff)
	require.Equal(t, `node(id:"4"){id,...F on User{email}}`, diff.String())
}

func TestContainsRootCall(t *testing.T) {
	nodes := func(ids ...any) *query.Root {
		return query.Root{FieldName: "nodes", Plural: true, IdentifyingArg: &query.Call{Name: "ids", Value: ids}}.With(idField())
	}
	viewer := query.Root{FieldName: "viewer"}.With(idField())

	cases := []struct {
		name string
		a, b *query.Root
		want bool
	}{
		{"same root", viewer, viewer, true},
		{"no identifying args", viewer, query.Root{FieldName: "viewer"}.With(scalar("name")), true},
		{"different names", viewer, nodeRoot("1"), false},
		{"same id", nodeRoot("1"), nodeRoot("1"), true},
		{"disjoint ids", nodeRoot("1"), nodeRoot("2"), false},
		{"number and string ids", nodeRoot(1), nodeRoot("1"), false},
		{"plural contains singular", nodes("1", "2"), nodeRoot("2"), true},
		{"singular does not contain plural", nodeRoot("2"), nodes("1", "2"), false},
		{"singular contains uniform plural", nodeRoot("2"), nodes("2", "2"), true},
		{"plural subset", nodes("1", "2", "3"), nodes("3", "1"), true},
		{"plural not subset", nodes("1", "2"), nodes("2", "4"), false},
		{"missing argument", nodeRoot("1"), query.Root{FieldName: "node"}.With(idField()), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ContainsRootCall(tc.a, tc.b))
		})
	}
}

func TestIntersect(t *testing.T) {
	subject := nodeRoot("4",
		idField(),
		scalar("name"),
		linked("address", scalar("city"), scalar("country")),
		friends(10, append(friendEdges(), scalar("count"))...),
	)

	t.Run("matching fields", func(t *testing.T) {
		pattern := nodeRoot("4", linked("address", scalar("city")), scalar("name"))
		got := Intersect(subject, pattern, nil)
		require.Equal(t, `node(id:"4"){name,address{city}}`, got.String())
	})

	t.Run("unterminated pattern keeps subtree", func(t *testing.T) {
		pattern := nodeRoot("4", linked("address"))
		got := Intersect(subject, pattern, nil)
		require.Equal(t, `node(id:"4"){address{city,country}}`, got.String())
	})

	t.Run("unterminated range filter", func(t *testing.T) {
		pattern := nodeRoot("4", query.Field{SchemaName: "friends", Kind: query.KindConnection}.With())
		got := Intersect(subject, pattern, func(*query.Field) bool { return true })
		require.Equal(t, `node(id:"4"){friends(first:10){count}}`, got.String())

		got = Intersect(subject, pattern, nil)
		require.Contains(t, got.String(), "edges")
	})

	t.Run("generated pattern fields are ignored", func(t *testing.T) {
		pattern := nodeRoot("4", linked("address", query.Field{SchemaName: query.FieldID, Generated: true}.With()))
		got := Intersect(subject, pattern, nil)
		require.Equal(t, `node(id:"4"){address{city,country}}`, got.String())
	})

	t.Run("no overlap", func(t *testing.T) {
		pattern := nodeRoot("4", scalar("email"))
		require.True(t, query.IsNil(Intersect(subject, pattern, nil)))
	})

	t.Run("fragments in subject", func(t *testing.T) {
		withFragment := nodeRoot("4", query.Fragment{Type: "User"}.With(scalar("name"), scalar("email")))
		pattern := nodeRoot("4", scalar("email"))
		got := Intersect(withFragment, pattern, nil)
		require.Equal(t, `node(id:"4"){... on User{email}}`, got.String())
	})
}
