package transport

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoEndpoints indicates the provider returned no endpoints.
	ErrNoEndpoints = errors.New("transport: no endpoints available")
	ErrClosed      = errors.New("transport: closed")
)

// ResponseError carries the errors of a GraphQL response.
type ResponseError struct {
	Endpoint string
	Messages []string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("transport: %s: %s", e.Endpoint, strings.Join(e.Messages, "; "))
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Endpoint string
	Status   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: %s: HTTP %d", e.Endpoint, e.Status)
}
