// Package gc removes records that no retained query can reach.
//
// A Collection is an explicit state machine: it scans its candidates, marks
// everything reachable from the retained roots and sweeps the rest, a
// bounded number of record visits per Step. A Collector schedules steps on
// the task queue so they never interleave with writes.
package gc
