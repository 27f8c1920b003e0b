// Package query defines the immutable query trees the cache reasons about
// and the traversal contract every other package builds on.
//
// # Nodes
//
// A query tree is made of three node kinds:
//   - Root: a root call such as node(id: "4") or viewer, with its selections.
//   - Field: a selected field. Fields are further tagged as scalar, linked
//     (singular object), plural (list of objects) or connection (paginated
//     list with edges and pageInfo).
//   - Fragment: a typed group of selections, possibly deferred.
//
// Nodes never change after construction. Transforms produce new nodes and
// share every subtree they did not touch, so callers can detect "nothing
// changed" with a pointer comparison instead of a deep comparison.
//
// # Traversal
//
// Visitor dispatches on the node kind to optional per-kind callbacks and
// falls back to Traverse, which visits children and re-clones the parent
// only when at least one child changed. A parent whose children were all
// removed is itself removed (Traverse returns nil).
//
// # Storage and response keys
//
// A field is stored in a record under its storage key: the schema name
// followed by its canonicalized (name-sorted) arguments. Connection fields
// leave their range arguments (first, last, after, before, surrounds, find)
// out of the storage key; those arguments select a window of the range held
// by the connection record instead. The response key is the alias when
// present and the schema name otherwise.
package query
