package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the inspection server receives a request.
// Context carries the request ID.
type HTTPStart struct {
	Request *http.Request
	Route   string
}

// HTTPFinish is emitted after the handler completes.
type HTTPFinish struct {
	Request  *http.Request
	Route    string
	Status   int
	Duration time.Duration
}
