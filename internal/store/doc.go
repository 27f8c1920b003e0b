// Package store is the normalized record graph.
//
// Records are keyed by data ID and hold fields keyed by storage key. A
// field is null, a scalar, a link to one record or a list of links, and a
// non-null field keeps its kind until it is explicitly deleted.
//
// A RecordStore reads through an ordered list of RecordMaps, field by
// field, and writes into the first one. The cache uses this to lay a
// queued (optimistic) map over the committed one.
//
// Reads distinguish three states: Existent, Nonexistent (the record was
// fetched and is null) and Unknown (nothing was fetched).
package store
