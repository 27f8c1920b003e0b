// Package cache owns the store data of one client: committed and queued
// records, the root call map, the query tracker, the task queue, pending
// fetches and the garbage collector.
//
// Writes and collection steps run as tasks on the cache's queue, so they
// never interleave.
package cache
