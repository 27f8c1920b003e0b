package language

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"

	"github.com/hanpama/graphcache/internal/query"
)

const testSchema = `
interface Node { id: ID! }

type User implements Node {
	id: ID!
	name: String
	email: String
	friends(first: Int, after: String, last: Int, before: String, orderby: String): FriendsConnection
	followers(first: Int): FollowerList @deprecated
}

type FriendsConnection {
	edges: [FriendsEdge]
	pageInfo: PageInfo!
	count: Int
}

type FriendsEdge {
	cursor: String
	node: User
}

type FollowerList {
	edges: [FriendsEdge]
}

type PageInfo {
	hasNextPage: Boolean!
	hasPreviousPage: Boolean!
}

type Viewer { actor: User }

type Query {
	node(id: ID!): Node
	nodes(ids: [ID!]!): [Node]
	viewer: Viewer
	username(name: String!): User
}
`

func build(t *testing.T, src string, vars map[string]any) []*query.Root {
	t.Helper()
	roots, err := Build(MustLoadSchema(testSchema), src, "", vars)
	require.NoError(t, err)
	return roots
}

func rootStrings(roots []*query.Root) []string {
	out := make([]string, len(roots))
	for i, r := range roots {
		out[i] = r.String()
	}
	return out
}

func TestBuildNode(t *testing.T) {
	roots := build(t, `query Q { node(id: "4") { ... on User { name } } }`, nil)
	require.Len(t, roots, 1)
	r := roots[0]
	require.Equal(t, "Q", r.Name)
	require.Equal(t, "Node", r.Type)
	require.True(t, r.Abstract)
	require.False(t, r.Plural)
	require.Equal(t, `node(id:"4"){... on User{name,id},id,__typename}`, r.String())

	id := query.FieldByStorageKey(r, query.FieldID)
	require.True(t, id.Generated)
	require.True(t, id.Requisite)
}

func TestBuildPluralRoot(t *testing.T) {
	roots := build(t, `{ nodes(ids: ["5", "6"]) { id } }`, nil)
	require.Equal(t, []string{`nodes(ids:["5","6"]){id,__typename}`}, rootStrings(roots))
	require.True(t, roots[0].Plural)
	require.Equal(t, []any{"5", "6"}, roots[0].IdentifyingValues())

	id := query.FieldByStorageKey(roots[0], query.FieldID)
	require.False(t, id.Generated)
	require.True(t, id.Requisite)
}

func TestBuildConnection(t *testing.T) {
	roots := build(t, `{
		username(name: "zuck") {
			friends(first: 2, after: "c1") { edges { node { name } } }
		}
	}`, nil)
	require.Equal(t, []string{
		`username(name:"zuck"){friends(first:2,after:"c1"){edges{node{name,id},cursor},pageInfo{hasNextPage,hasPreviousPage}},id}`,
	}, rootStrings(roots))

	friends := query.Fields(roots[0])[0]
	require.Equal(t, query.KindConnection, friends.Kind)
	require.Equal(t, query.KindPlural, friends.FieldByStorageKey(query.FieldEdges).Kind)
	require.Equal(t, query.KindLinked, friends.FieldByStorageKey(query.FieldPageInfo).Kind)
}

func TestBuildConnectionDirective(t *testing.T) {
	roots := build(t, `{
		username(name: "zuck") {
			followers(first: 1) @connection(key: "followers") { edges { cursor } }
		}
	}`, nil)
	followers := query.Fields(roots[0])[0]
	require.Equal(t, query.KindConnection, followers.Kind)
	require.Equal(t, `followers(first:1){edges{cursor}}`, followers.String())
}

func TestBuildVariablesAndConditions(t *testing.T) {
	src := `query ($count: Int = 3, $withEmail: Boolean!) {
		viewer {
			actor {
				name
				email @include(if: $withEmail)
				friends(first: $count) @skip(if: $withEmail) { count }
			}
		}
	}`
	roots := build(t, src, map[string]any{"withEmail": false})
	require.Equal(t, []string{`viewer{actor{name,friends(first:3){count},id}}`}, rootStrings(roots))

	roots = build(t, src, map[string]any{"withEmail": true, "count": 10})
	require.Equal(t, []string{`viewer{actor{name,email,id}}`}, rootStrings(roots))
}

func TestBuildDeferredSpread(t *testing.T) {
	roots := build(t, `
		query { node(id: "4") { ...F @defer } }
		fragment F on User { email }
	`, nil)
	require.Equal(t, []string{`node(id:"4"){...F on User @defer{email,id},id,__typename}`}, rootStrings(roots))
}

func TestBuildAliasesAndMultipleRoots(t *testing.T) {
	roots := build(t, `{ me: username(name: "a") { name } viewer { actor { id } } }`, nil)
	require.Equal(t, []string{`me:username(name:"a"){name,id}`, `viewer{actor{id}}`}, rootStrings(roots))
	require.Equal(t, "me", roots[0].ResponseKey())
}

func TestBuildErrors(t *testing.T) {
	schema := MustLoadSchema(testSchema)

	_, err := Build(schema, `query A { viewer { actor { id } } }`, "B", nil)
	require.ErrorIs(t, err, ErrNoOperation)

	_, err = Build(schema, `{ viewer { missing } }`, "", nil)
	require.Error(t, err)
}

func TestPrintRoundTrip(t *testing.T) {
	for _, src := range []string{
		`{ node(id: "4") { ... on User { name } } }`,
		`{ nodes(ids: ["5", "6"]) { id } }`,
		`{ username(name: "zuck") { friends(first: 2, after: "c1") { edges { node { name } } } } }`,
		`query { node(id: "4") { ... on User @defer { email } } }`,
	} {
		roots := build(t, src, nil)
		printed := Print(roots...)
		again := build(t, printed, nil)
		require.Equal(t, rootStrings(roots), rootStrings(again), printed)
	}
}

func TestPrintValues(t *testing.T) {
	r := query.Root{FieldName: "username", IdentifyingArg: &query.Call{Name: "name", Value: "zuck"}}.With(
		query.Field{SchemaName: "friends", Kind: query.KindConnection, Calls: []query.Call{
			{Name: "first", Value: float64(10)},
			{Name: "orderby", Value: nil},
		}}.With(query.ScalarField("count")),
	)
	out := Print(r)
	require.Contains(t, out, `username(name: "zuck")`)
	require.Contains(t, out, `first: 10`)
	require.Contains(t, out, `orderby: null`)
}

func TestLoadSchemaDeclaresConnection(t *testing.T) {
	schema := MustLoadSchema(testSchema)
	require.NotNil(t, schema.Directives["connection"])
	require.NotNil(t, schema.Directives["defer"])

	_, err := ParseQuery(`{ viewer { actor { id } }`)
	require.Error(t, err)
	doc, err := ParseSchema("s.graphql", `type Query { a: Int }`)
	require.NoError(t, err)
	require.Len(t, doc.Definitions, 1)
}

func TestLoadSchemaKeepsDeclaredConnection(t *testing.T) {
	schema, err := LoadSchema(&ast.Source{Name: "s.graphql", Input: `
directive @connection(key: String) on FIELD
type Query { a: Int }
`})
	require.NoError(t, err)
	require.Len(t, schema.Directives["connection"].Arguments, 1)

	_, err = LoadSchema(&ast.Source{Name: "bad.graphql", Input: `type Query {`})
	require.Error(t, err)
}
