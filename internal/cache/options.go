package cache

import (
	"log/slog"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/pending"
	"github.com/hanpama/graphcache/internal/taskqueue"
)

// Options configure a Cache.
type Options struct {
	Scheduler taskqueue.Scheduler
	// StepLength is the number of record visits per collection step. A
	// negative value collects in a single task.
	StepLength int
	Network    pending.Network
	Logger     *slog.Logger
	// Bus receives the cache's events. Nil publishes to the global bus.
	Bus *eventbus.Bus
}

type Option func(*Options)

func WithScheduler(s taskqueue.Scheduler) Option {
	return func(o *Options) { o.Scheduler = s }
}

func WithStepLength(n int) Option {
	return func(o *Options) { o.StepLength = n }
}

func WithNetwork(n pending.Network) Option {
	return func(o *Options) { o.Network = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithBus(b *eventbus.Bus) Option {
	return func(o *Options) { o.Bus = b }
}
