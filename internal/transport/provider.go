package transport

import (
	"context"
	"slices"
)

// EndpointProvider lists the GraphQL endpoint URLs queries may be sent to.
// Implementations should be safe for concurrent use.
type EndpointProvider interface {
	Endpoints(ctx context.Context) ([]string, error)
}

// StaticEndpoints is a fixed list of endpoint URLs.
type StaticEndpoints []string

func NewStaticEndpoints(urls ...string) StaticEndpoints {
	return StaticEndpoints(slices.Clone(urls))
}

func (s StaticEndpoints) Endpoints(context.Context) ([]string, error) {
	if len(s) == 0 {
		return nil, ErrNoEndpoints
	}
	return slices.Clone(s), nil
}
