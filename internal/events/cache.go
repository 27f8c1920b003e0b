package events

import "time"

// FetchStart is emitted when a query is handed to the pending tracker.
type FetchStart struct {
	ID        uint64
	Query     string
	Remainder string // empty when pending fetches cover the query
}

// FetchFinish is emitted once the fetch settled.
type FetchFinish struct {
	ID       uint64
	Query    string
	Err      error
	Duration time.Duration
}

// WriteStart is emitted before a payload is written.
type WriteStart struct {
	ID         uint64
	Root       string
	Optimistic bool
}

// WriteFinish is emitted after a payload was written.
type WriteFinish struct {
	ID       uint64
	Root     string
	Created  int
	Updated  int
	Err      error
	Duration time.Duration
}

// CollectStart is emitted when a collection is scheduled.
type CollectStart struct {
	ID       uint64
	FromNode string // empty for the whole store
}

// CollectFinish is emitted when a collection finished or was cancelled.
type CollectFinish struct {
	ID       uint64
	Removed  int
	Err      error
	Duration time.Duration
}
