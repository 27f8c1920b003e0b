package gc

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hanpama/graphcache/internal/store"
	"github.com/hanpama/graphcache/internal/taskqueue"
)

// PendingChecker reports whether fetches are in flight.
type PendingChecker interface {
	HasPending() bool
}

// Options configures a Collector.
type Options struct {
	// StepLength is the number of record visits per scheduled step. A
	// negative value runs each collection in a single task.
	StepLength int
	Logger     *slog.Logger
	Pending    PendingChecker
	Tracker    *store.QueryTracker
}

type Option func(*Options)

func WithStepLength(n int) Option {
	return func(o *Options) { o.StepLength = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithPending makes scheduled collections warn when they start while
// fetches are in flight.
func WithPending(p PendingChecker) Option {
	return func(o *Options) { o.Pending = p }
}

// WithQueryTracker untracks collected records.
func WithQueryTracker(t *store.QueryTracker) Option {
	return func(o *Options) { o.Tracker = t }
}

const defaultStepLength = 1000

// Collector removes unretained records from a store.
type Collector struct {
	store    *store.RecordStore
	retainer Retainer
	queue    *taskqueue.Queue
	opt      Options

	mu     sync.Mutex
	holds  int
	parked []func()
}

func New(s *store.RecordStore, retainer Retainer, queue *taskqueue.Queue, opts ...Option) *Collector {
	c := &Collector{store: s, retainer: retainer, queue: queue, opt: Options{StepLength: defaultStepLength}}
	for _, opt := range opts {
		opt(&c.opt)
	}
	if c.opt.Logger == nil {
		c.opt.Logger = slog.Default()
	}
	return c
}

// Collect returns an unscheduled collection over every record.
func (c *Collector) Collect() *Collection {
	return c.newCollection("")
}

// CollectFromNode returns an unscheduled collection over the records
// reachable from id.
func (c *Collector) CollectFromNode(id string) *Collection {
	return c.newCollection(id)
}

func (c *Collector) remove(id string) {
	c.store.RemoveRecord(id)
	if c.opt.Tracker != nil {
		c.opt.Tracker.UntrackNodesForID(id)
	}
}

// ScheduleCollection runs Collect on the task queue.
func (c *Collector) ScheduleCollection(ctx context.Context) *Collection {
	return c.schedule(ctx, "")
}

// ScheduleCollectionFromNode runs CollectFromNode on the task queue.
func (c *Collector) ScheduleCollectionFromNode(ctx context.Context, id string) *Collection {
	return c.schedule(ctx, id)
}

// schedule begins the collection inside the first task, so its candidates
// and roots reflect writes queued before it.
func (c *Collector) schedule(ctx context.Context, from string) *Collection {
	col := &Collection{c: c, done: make(chan struct{})}
	ctx = taskqueue.Detach(context.WithoutCancel(ctx))
	log := c.opt.Logger

	var step taskqueue.Task
	step = func(context.Context, any) (any, error) {
		if col.isCancelled() {
			return nil, nil
		}
		if c.park(func() { c.queue.Enqueue(ctx, step) }) {
			return nil, nil
		}
		col.begin(from)
		if col.Step(c.opt.StepLength) {
			log.Debug("collection finished", "removed", len(col.Removed()))
			return nil, nil
		}
		c.queue.Enqueue(ctx, step)
		return nil, nil
	}
	if c.opt.Pending != nil && c.opt.Pending.HasPending() {
		log.Warn("collecting while fetches are pending")
	}
	c.queue.Enqueue(ctx, step)
	return col
}

// park defers resume until every hold is released. It reports whether
// resume was deferred.
func (c *Collector) park(resume func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holds == 0 {
		return false
	}
	c.parked = append(c.parked, resume)
	return true
}

// Hold pauses scheduled collections until the returned release is called.
// Calling release twice panics.
func (c *Collector) Hold() (release func()) {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()
	var once sync.Once
	return func() {
		released := false
		once.Do(func() { released = true })
		if !released {
			panic("gc: hold released twice")
		}
		c.mu.Lock()
		c.holds--
		var resume []func()
		if c.holds == 0 {
			resume, c.parked = c.parked, nil
		}
		c.mu.Unlock()
		for _, fn := range resume {
			fn()
		}
	}
}
