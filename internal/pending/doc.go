// Package pending deduplicates in-flight fetches.
//
// Tracker.Add subtracts every pending query from a new one before it is
// sent. Each pending fetch that covered part of the new query becomes a
// dependency of the new fetch, and only the remainder goes to the network.
// A fetch settles once its own remainder has been written and all of its
// dependencies settled. The first error seen, its own or a dependency's,
// settles it with that error.
//
// Fetches live in an arena keyed by FetchID. Dependency links are IDs,
// deleted as dependencies settle, so nothing keeps a settled fetch alive.
package pending
