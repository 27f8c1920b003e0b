package transport

import (
	"net/http"
	"time"
)

// Options configures the GraphQL transport.
//
// Defaults:
// - MaxConnsPerEndpoint: 2
// - RequestTimeout:      10s (used only if the context has no deadline)
//
// A Provider must be set. All other options are safe to leave zero-valued.
type Options struct {
	Provider EndpointProvider

	MaxConnsPerEndpoint int
	RequestTimeout      time.Duration

	// Headers are added to every request.
	Headers http.Header

	// Client replaces the pooled client built from MaxConnsPerEndpoint.
	Client *http.Client
}

type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		MaxConnsPerEndpoint: 2,
		RequestTimeout:      10 * time.Second,
	}
}

func WithProvider(p EndpointProvider) Option      { return func(o *Options) { o.Provider = p } }
func WithMaxConnsPerEndpoint(n int) Option        { return func(o *Options) { o.MaxConnsPerEndpoint = n } }
func WithRequestTimeout(d time.Duration) Option   { return func(o *Options) { o.RequestTimeout = d } }
func WithClient(c *http.Client) Option            { return func(o *Options) { o.Client = c } }
func WithHeader(key, value string) Option {
	return func(o *Options) {
		if o.Headers == nil {
			o.Headers = http.Header{}
		}
		o.Headers.Add(key, value)
	}
}
